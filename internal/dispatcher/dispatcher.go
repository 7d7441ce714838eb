// Package dispatcher routes incoming messages to the pipelines of every
// matching rule.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tg_forwarder/internal/model"
	"tg_forwarder/internal/pipeline"
	"tg_forwarder/internal/storage"
	"tg_forwarder/internal/telegram"
)

// groupSeenTTL is how long a processed media group id is remembered so
// album siblings do not trigger duplicate pipeline runs.
const groupSeenTTL = 5 * time.Minute

// Dispatcher resolves the rules matching a message's source chat and runs
// one pipeline per rule.
type Dispatcher struct {
	store storage.Storage
	pipe  *pipeline.Pipeline
	log   *slog.Logger

	mu        sync.Mutex
	seenGroup map[string]time.Time

	now func() time.Time
}

// New creates a Dispatcher.
func New(store storage.Storage, pipe *pipeline.Pipeline, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		pipe:      pipe,
		log:       log,
		seenGroup: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Dispatch processes one incoming message. Album siblings after the first
// are dropped; the pipeline's Init stage gathers them itself.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *telegram.Message) error {
	if msg.GroupedID != 0 && !d.firstOfGroup(msg.ChatID, msg.GroupedID) {
		return nil
	}

	rules, err := d.store.ListRulesForSource(ctx, strconv.FormatInt(msg.ChatID, 10))
	if err != nil {
		return fmt.Errorf("list rules for source %d: %w", msg.ChatID, err)
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if err := d.runRule(ctx, rule, msg); err != nil {
			d.log.Error("rule processing failed",
				"rule_id", rule.ID, "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) runRule(ctx context.Context, rule *model.Rule, msg *telegram.Message) error {
	c, err := d.buildContext(ctx, rule, msg)
	if err != nil {
		return err
	}
	return d.pipe.Run(ctx, c)
}

// buildContext loads the rule's filter configuration into a fresh
// pipeline context.
func (d *Dispatcher) buildContext(ctx context.Context, rule *model.Rule, msg *telegram.Message) (*pipeline.Context, error) {
	c := pipeline.NewContext(rule, msg)

	sourceChat, err := d.store.GetChat(ctx, rule.SourceChatID)
	if err != nil {
		return nil, fmt.Errorf("load source chat: %w", err)
	}
	targetChat, err := d.store.GetChat(ctx, rule.TargetChatID)
	if err != nil {
		return nil, fmt.Errorf("load target chat: %w", err)
	}
	c.SourceChat = sourceChat
	c.TargetChat = targetChat

	if c.Keywords, err = d.store.ListKeywords(ctx, rule.ID); err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	if rule.ReplaceEnabled {
		if c.ReplaceRules, err = d.store.ListReplaceRules(ctx, rule.ID); err != nil {
			return nil, fmt.Errorf("load replace rules: %w", err)
		}
	}
	if rule.MediaTypeFilterEnabled {
		if c.MediaTypes, err = d.store.GetMediaTypes(ctx, rule.ID); err != nil {
			return nil, fmt.Errorf("load media types: %w", err)
		}
	}
	if rule.ExtensionFilterEnabled {
		if c.Extensions, err = d.store.ListMediaExtensions(ctx, rule.ID); err != nil {
			return nil, fmt.Errorf("load media extensions: %w", err)
		}
	}
	if rule.PushEnabled {
		if c.PushConfigs, err = d.store.ListPushConfigs(ctx, rule.ID); err != nil {
			return nil, fmt.Errorf("load push configs: %w", err)
		}
	}
	if c.RSSConfig, err = d.store.GetRSSConfig(ctx, rule.ID); err != nil {
		return nil, fmt.Errorf("load rss config: %w", err)
	}
	return c, nil
}

// firstOfGroup reports whether this is the first sighting of a media
// group, remembering it for the dedup window.
func (d *Dispatcher) firstOfGroup(chatID, groupedID int64) bool {
	key := fmt.Sprintf("%d:%d", chatID, groupedID)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, seen := range d.seenGroup {
		if now.Sub(seen) > groupSeenTTL {
			delete(d.seenGroup, k)
		}
	}
	if _, ok := d.seenGroup[key]; ok {
		return false
	}
	d.seenGroup[key] = now
	return true
}
