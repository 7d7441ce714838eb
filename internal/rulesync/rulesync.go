// Package rulesync replays tracked rule mutations onto the rule's sync
// peers inside the same transaction as the primary change.
package rulesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tg_forwarder/internal/model"
	"tg_forwarder/internal/storage"
)

// Rescheduler is notified after a synchronized summary-time change so the
// peer's daily task picks up the new time.
type Rescheduler interface {
	Reschedule(ctx context.Context, ruleID int64)
}

// Synchronizer is the single writer path for rule mutations. Every tracked
// mutation runs in one transaction: the primary change plus its one-level
// fan-out to sync peers.
type Synchronizer struct {
	store       storage.Storage
	log         *slog.Logger
	rescheduler Rescheduler
}

// New creates a Synchronizer. The rescheduler may be nil.
func New(store storage.Storage, rescheduler Rescheduler, log *slog.Logger) *Synchronizer {
	return &Synchronizer{store: store, rescheduler: rescheduler, log: log}
}

// fanOut runs fn once per sync peer of rule inside the transaction
// storage tx. Missing peers are skipped and logged, never fatal.
func (s *Synchronizer) fanOut(ctx context.Context, tx storage.Storage, rule *model.Rule, fn func(peer *model.Rule) error) error {
	if !rule.SyncEnabled {
		return nil
	}
	peerIDs, err := tx.ListSyncPeers(ctx, rule.ID)
	if err != nil {
		return fmt.Errorf("list sync peers: %w", err)
	}
	for _, peerID := range peerIDs {
		peer, err := tx.GetRule(ctx, peerID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.log.Warn("sync peer missing, skipping", "rule_id", rule.ID, "peer_id", peerID)
				continue
			}
			return fmt.Errorf("load sync peer %d: %w", peerID, err)
		}
		if err := fn(peer); err != nil {
			return fmt.Errorf("sync to peer %d: %w", peerID, err)
		}
	}
	return nil
}

// UpdateRule saves the rule and copies its settings to every sync peer.
// Routing, enabled and sync_enabled stay peer-local; a synced summary
// time re-arms the peer's schedule.
func (s *Synchronizer) UpdateRule(ctx context.Context, rule *model.Rule) error {
	var rescheduleIDs []int64

	err := s.store.WithTx(ctx, func(tx storage.Storage) error {
		if err := tx.UpdateRule(ctx, rule); err != nil {
			return err
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			timeChanged := peer.SummaryTime != rule.SummaryTime
			copySettings(peer, rule)
			if err := tx.UpdateRule(ctx, peer); err != nil {
				return err
			}
			if timeChanged && peer.SummaryEnabled {
				rescheduleIDs = append(rescheduleIDs, peer.ID)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, id := range rescheduleIDs {
		if s.rescheduler != nil {
			s.rescheduler.Reschedule(ctx, id)
		}
	}
	return nil
}

// copySettings overwrites every synced attribute of dst with src's value.
func copySettings(dst, src *model.Rule) {
	dst.UseBotAccount = src.UseBotAccount
	dst.HandleMode = src.HandleMode
	dst.OnlyRSS = src.OnlyRSS

	dst.AddMode = src.AddMode
	dst.ForwardMode = src.ForwardMode
	dst.ReverseBlacklist = src.ReverseBlacklist
	dst.ReverseWhitelist = src.ReverseWhitelist
	dst.FilterUserInfo = src.FilterUserInfo
	dst.KeywordAfterAI = src.KeywordAfterAI

	dst.ReplaceEnabled = src.ReplaceEnabled
	dst.MessageMode = src.MessageMode
	dst.PreviewMode = src.PreviewMode

	dst.IncludeOriginalLink = src.IncludeOriginalLink
	dst.OriginalLinkTemplate = src.OriginalLinkTemplate
	dst.IncludeSender = src.IncludeSender
	dst.UserInfoTemplate = src.UserInfoTemplate
	dst.IncludeTime = src.IncludeTime
	dst.TimeTemplate = src.TimeTemplate

	dst.DeleteOriginal = src.DeleteOriginal
	dst.DelayEnabled = src.DelayEnabled
	dst.DelaySeconds = src.DelaySeconds

	dst.MediaTypeFilterEnabled = src.MediaTypeFilterEnabled
	dst.MediaSizeFilterEnabled = src.MediaSizeFilterEnabled
	dst.MaxMediaSizeMB = src.MaxMediaSizeMB
	dst.NotifyOnOversize = src.NotifyOnOversize
	dst.ExtensionFilterEnabled = src.ExtensionFilterEnabled
	dst.ExtensionFilterMode = src.ExtensionFilterMode
	dst.MediaAllowText = src.MediaAllowText

	dst.AIEnabled = src.AIEnabled
	dst.AIModel = src.AIModel
	dst.AIPrompt = src.AIPrompt
	dst.AIUploadImage = src.AIUploadImage

	dst.SummaryEnabled = src.SummaryEnabled
	dst.SummaryTime = src.SummaryTime
	dst.SummaryPrompt = src.SummaryPrompt
	dst.PinSummary = src.PinSummary

	dst.CommentButtonEnabled = src.CommentButtonEnabled

	dst.PushEnabled = src.PushEnabled
	dst.OnlyPush = src.OnlyPush
}

// AddKeywords adds keywords to the rule and replays the add on each peer.
// The returned counts are for the primary rule.
func (s *Synchronizer) AddKeywords(ctx context.Context, rule *model.Rule, kws []model.Keyword) (added, duplicates int, err error) {
	err = s.store.WithTx(ctx, func(tx storage.Storage) error {
		var txErr error
		added, duplicates, txErr = tx.AddKeywords(ctx, rule.ID, kws)
		if txErr != nil {
			return txErr
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			_, _, fanErr := tx.AddKeywords(ctx, peer.ID, kws)
			return fanErr
		})
	})
	return added, duplicates, err
}

// DeleteKeywordsByIndex deletes by positional index on the primary rule
// and by value on each peer.
func (s *Synchronizer) DeleteKeywordsByIndex(ctx context.Context, rule *model.Rule, indexes []int) (int, error) {
	var deleted int
	err := s.store.WithTx(ctx, func(tx storage.Storage) error {
		kws, err := tx.ListKeywords(ctx, rule.ID)
		if err != nil {
			return err
		}
		var victims []model.Keyword
		for _, idx := range indexes {
			if idx >= 1 && idx <= len(kws) {
				victims = append(victims, kws[idx-1])
			}
		}

		deleted, err = tx.DeleteKeywordsByIndex(ctx, rule.ID, indexes)
		if err != nil {
			return err
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			for _, v := range victims {
				if err := tx.DeleteKeywordByValue(ctx, peer.ID, v.Text, v.IsRegex, v.IsBlacklist); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return deleted, err
}

// AddReplaceRules adds replace rules and replays the add on each peer.
func (s *Synchronizer) AddReplaceRules(ctx context.Context, rule *model.Rule, rrs []model.ReplaceRule) (added, duplicates int, err error) {
	err = s.store.WithTx(ctx, func(tx storage.Storage) error {
		var txErr error
		added, duplicates, txErr = tx.AddReplaceRules(ctx, rule.ID, rrs)
		if txErr != nil {
			return txErr
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			_, _, fanErr := tx.AddReplaceRules(ctx, peer.ID, rrs)
			return fanErr
		})
	})
	return added, duplicates, err
}

// DeleteReplaceRulesByIndex deletes by index on the primary rule and by
// value on each peer.
func (s *Synchronizer) DeleteReplaceRulesByIndex(ctx context.Context, rule *model.Rule, indexes []int) (int, error) {
	var deleted int
	err := s.store.WithTx(ctx, func(tx storage.Storage) error {
		rrs, err := tx.ListReplaceRules(ctx, rule.ID)
		if err != nil {
			return err
		}
		var victims []model.ReplaceRule
		for _, idx := range indexes {
			if idx >= 1 && idx <= len(rrs) {
				victims = append(victims, rrs[idx-1])
			}
		}

		deleted, err = tx.DeleteReplaceRulesByIndex(ctx, rule.ID, indexes)
		if err != nil {
			return err
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			for _, v := range victims {
				if err := tx.DeleteReplaceRuleByValue(ctx, peer.ID, v.Pattern, v.Replacement); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return deleted, err
}

// ToggleMediaType flips one flag on the primary rule and forces each
// peer's flag to the resulting value.
func (s *Synchronizer) ToggleMediaType(ctx context.Context, rule *model.Rule, kind model.MediaKind) (bool, error) {
	var newValue bool
	err := s.store.WithTx(ctx, func(tx storage.Storage) error {
		var txErr error
		newValue, txErr = tx.ToggleMediaType(ctx, rule.ID, kind)
		if txErr != nil {
			return txErr
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			return tx.SetMediaType(ctx, peer.ID, kind, newValue)
		})
	})
	return newValue, err
}

// AddMediaExtensions adds extensions and replays the add on each peer.
func (s *Synchronizer) AddMediaExtensions(ctx context.Context, rule *model.Rule, exts []string) (added, duplicates int, err error) {
	err = s.store.WithTx(ctx, func(tx storage.Storage) error {
		var txErr error
		added, duplicates, txErr = tx.AddMediaExtensions(ctx, rule.ID, exts)
		if txErr != nil {
			return txErr
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			_, _, fanErr := tx.AddMediaExtensions(ctx, peer.ID, exts)
			return fanErr
		})
	})
	return added, duplicates, err
}

// DeleteMediaExtension removes one extension by its id and the matching
// value on each peer.
func (s *Synchronizer) DeleteMediaExtension(ctx context.Context, rule *model.Rule, extID int64) error {
	return s.store.WithTx(ctx, func(tx storage.Storage) error {
		exts, err := tx.ListMediaExtensions(ctx, rule.ID)
		if err != nil {
			return err
		}
		var value string
		for _, e := range exts {
			if e.ID == extID {
				value = e.Extension
				break
			}
		}
		if value == "" {
			return storage.ErrNotFound
		}

		if err := tx.DeleteMediaExtension(ctx, extID); err != nil {
			return err
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			return tx.DeleteMediaExtensionByValue(ctx, peer.ID, value)
		})
	})
}

// AddPushConfig attaches a push channel and replays the add on each peer.
func (s *Synchronizer) AddPushConfig(ctx context.Context, rule *model.Rule, channelURL string) (created bool, err error) {
	err = s.store.WithTx(ctx, func(tx storage.Storage) error {
		pc := &model.PushConfig{
			RuleID:        rule.ID,
			ChannelURL:    channelURL,
			Enabled:       true,
			MediaSendMode: model.MediaSendSingle,
		}
		var txErr error
		created, txErr = tx.AddPushConfig(ctx, pc)
		if txErr != nil {
			return txErr
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			_, fanErr := tx.AddPushConfig(ctx, &model.PushConfig{
				RuleID:        peer.ID,
				ChannelURL:    channelURL,
				Enabled:       true,
				MediaSendMode: model.MediaSendSingle,
			})
			return fanErr
		})
	})
	return created, err
}

// DeletePushConfig removes the channel from the rule and, matched by URL,
// from each peer.
func (s *Synchronizer) DeletePushConfig(ctx context.Context, rule *model.Rule, channelURL string) error {
	return s.store.WithTx(ctx, func(tx storage.Storage) error {
		if err := tx.DeletePushConfigByURL(ctx, rule.ID, channelURL); err != nil {
			return err
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			err := tx.DeletePushConfigByURL(ctx, peer.ID, channelURL)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		})
	})
}

// TogglePushConfig flips the enabled flag and mirrors the new value to
// each peer's config with the same URL, skipping peers without one.
func (s *Synchronizer) TogglePushConfig(ctx context.Context, rule *model.Rule, channelURL string) (bool, error) {
	var newValue bool
	err := s.store.WithTx(ctx, func(tx storage.Storage) error {
		pc, err := tx.GetPushConfigByURL(ctx, rule.ID, channelURL)
		if err != nil {
			return err
		}
		pc.Enabled = !pc.Enabled
		newValue = pc.Enabled
		if err := tx.UpdatePushConfig(ctx, pc); err != nil {
			return err
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			peerPC, err := tx.GetPushConfigByURL(ctx, peer.ID, channelURL)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			peerPC.Enabled = newValue
			return tx.UpdatePushConfig(ctx, peerPC)
		})
	})
	return newValue, err
}

// SetPushMediaSendMode changes how attachments are batched and mirrors it
// to each peer's config with the same URL.
func (s *Synchronizer) SetPushMediaSendMode(ctx context.Context, rule *model.Rule, channelURL string, mode model.MediaSendMode) error {
	return s.store.WithTx(ctx, func(tx storage.Storage) error {
		pc, err := tx.GetPushConfigByURL(ctx, rule.ID, channelURL)
		if err != nil {
			return err
		}
		pc.MediaSendMode = mode
		if err := tx.UpdatePushConfig(ctx, pc); err != nil {
			return err
		}
		return s.fanOut(ctx, tx, rule, func(peer *model.Rule) error {
			peerPC, err := tx.GetPushConfigByURL(ctx, peer.ID, channelURL)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			peerPC.MediaSendMode = mode
			return tx.UpdatePushConfig(ctx, peerPC)
		})
	})
}
