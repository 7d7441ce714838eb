// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"tg_forwarder/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations. All mutations go
// through a single writer path; WithTx lets callers group a primary
// mutation with its synchronized fan-out in one transaction.
type Storage interface {
	UpsertChat(ctx context.Context, telegramID, displayName string) (*model.Chat, error)
	GetChat(ctx context.Context, id int64) (*model.Chat, error)
	GetChatByTelegramID(ctx context.Context, telegramID string) (*model.Chat, error)
	ListChats(ctx context.Context) ([]model.Chat, error)
	SetChatDisplayName(ctx context.Context, id int64, name string) error
	SetChatEditRule(ctx context.Context, chatID int64, ruleID *int64) error

	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id int64) (*model.Rule, error)
	GetRuleByChats(ctx context.Context, sourceChatID, targetChatID int64) (*model.Rule, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	ListRulesForSource(ctx context.Context, telegramID string) ([]model.Rule, error)
	ListSummaryRules(ctx context.Context) ([]model.Rule, error)
	UpdateRule(ctx context.Context, rule *model.Rule) error
	DeleteRule(ctx context.Context, id int64) error

	AddKeywords(ctx context.Context, ruleID int64, kws []model.Keyword) (added, duplicates int, err error)
	ListKeywords(ctx context.Context, ruleID int64) ([]model.Keyword, error)
	DeleteKeywordsByIndex(ctx context.Context, ruleID int64, indexes []int) (int, error)
	DeleteKeywordByValue(ctx context.Context, ruleID int64, text string, isRegex, isBlacklist bool) error

	AddReplaceRules(ctx context.Context, ruleID int64, rrs []model.ReplaceRule) (added, duplicates int, err error)
	ListReplaceRules(ctx context.Context, ruleID int64) ([]model.ReplaceRule, error)
	DeleteReplaceRulesByIndex(ctx context.Context, ruleID int64, indexes []int) (int, error)
	DeleteReplaceRuleByValue(ctx context.Context, ruleID int64, pattern, replacement string) error

	GetMediaTypes(ctx context.Context, ruleID int64) (model.MediaTypes, error)
	ToggleMediaType(ctx context.Context, ruleID int64, kind model.MediaKind) (bool, error)
	SetMediaType(ctx context.Context, ruleID int64, kind model.MediaKind, value bool) error

	AddMediaExtensions(ctx context.Context, ruleID int64, exts []string) (added, duplicates int, err error)
	ListMediaExtensions(ctx context.Context, ruleID int64) ([]model.MediaExtension, error)
	DeleteMediaExtension(ctx context.Context, id int64) error
	DeleteMediaExtensionByValue(ctx context.Context, ruleID int64, ext string) error

	AddPushConfig(ctx context.Context, pc *model.PushConfig) (created bool, err error)
	ListPushConfigs(ctx context.Context, ruleID int64) ([]model.PushConfig, error)
	GetPushConfigByURL(ctx context.Context, ruleID int64, channelURL string) (*model.PushConfig, error)
	UpdatePushConfig(ctx context.Context, pc *model.PushConfig) error
	DeletePushConfig(ctx context.Context, id int64) error
	DeletePushConfigByURL(ctx context.Context, ruleID int64, channelURL string) error

	AddRuleSync(ctx context.Context, ruleID, peerRuleID int64) error
	ListSyncPeers(ctx context.Context, ruleID int64) ([]int64, error)
	DeleteRuleSync(ctx context.Context, ruleID, peerRuleID int64) error

	GetRSSConfig(ctx context.Context, ruleID int64) (*model.RSSConfig, error)
	UpsertRSSConfig(ctx context.Context, cfg *model.RSSConfig) error

	WithTx(ctx context.Context, fn func(Storage) error) error

	Close() error
}
