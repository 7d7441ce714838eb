// Package model defines the domain types used across the application.
package model

import "time"

// Chat is a Telegram chat known to the engine, either as a rule source or
// target. CurrentEditRuleID remembers which rule the operator is editing
// from this chat.
type Chat struct {
	ID                int64
	TelegramID        string
	DisplayName       string
	CurrentEditRuleID *int64
	CreatedAt         time.Time
}

// ForwardMode defines how whitelist and blacklist keywords combine.
type ForwardMode string

// Supported forward modes.
const (
	ForwardWhitelist              ForwardMode = "whitelist"
	ForwardBlacklist              ForwardMode = "blacklist"
	ForwardWhitelistThenBlacklist ForwardMode = "whitelist_then_blacklist"
	ForwardBlacklistThenWhitelist ForwardMode = "blacklist_then_whitelist"
)

// AddMode defines which list newly added keywords enter.
type AddMode string

// Supported add modes.
const (
	AddWhitelist AddMode = "whitelist"
	AddBlacklist AddMode = "blacklist"
)

// HandleMode defines whether a rule forwards to the target or rewrites the
// source message in place. Edit mode applies only to channel sources.
type HandleMode string

// Supported handle modes.
const (
	HandleForward HandleMode = "forward"
	HandleEdit    HandleMode = "edit"
)

// MessageMode is the parse mode used when sending.
type MessageMode string

// Supported message modes. Plain is internal only, used when a Markdown
// send fails to parse and the text is retried verbatim.
const (
	MessageMarkdown MessageMode = "markdown"
	MessageHTML     MessageMode = "html"
	MessagePlain    MessageMode = "plain"
)

// PreviewMode controls link previews on forwarded messages. Follow keeps
// the preview state of the original message.
type PreviewMode string

// Supported preview modes.
const (
	PreviewOn     PreviewMode = "on"
	PreviewOff    PreviewMode = "off"
	PreviewFollow PreviewMode = "follow"
)

// ExtensionFilterMode defines how the media extension list is applied.
type ExtensionFilterMode string

// Supported extension filter modes.
const (
	ExtensionWhitelist ExtensionFilterMode = "whitelist"
	ExtensionBlacklist ExtensionFilterMode = "blacklist"
)

// MediaSendMode defines how push attachments are batched.
type MediaSendMode string

// Supported media send modes.
const (
	MediaSendSingle   MediaSendMode = "single"
	MediaSendMultiple MediaSendMode = "multiple"
)

// MediaKind identifies a Telegram media type.
type MediaKind string

// Supported media kinds.
const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaVoice    MediaKind = "voice"
)

// NoExtension is the sentinel extension matching files without one.
const NoExtension = "no-extension"

// FullTextPattern is the replace pattern that swaps the entire text and
// terminates further substitution.
const FullTextPattern = ".*"

// Rule is one forwarding relationship from a source chat to a target chat.
// (SourceChatID, TargetChatID) is unique.
type Rule struct {
	ID            int64
	SourceChatID  int64
	TargetChatID  int64
	Enabled       bool
	UseBotAccount bool
	HandleMode    HandleMode
	OnlyRSS       bool

	AddMode          AddMode
	ForwardMode      ForwardMode
	ReverseBlacklist bool
	ReverseWhitelist bool
	FilterUserInfo   bool
	KeywordAfterAI   bool

	ReplaceEnabled bool
	MessageMode    MessageMode
	PreviewMode    PreviewMode

	IncludeOriginalLink  bool
	OriginalLinkTemplate string
	IncludeSender        bool
	UserInfoTemplate     string
	IncludeTime          bool
	TimeTemplate         string

	DeleteOriginal bool
	DelayEnabled   bool
	DelaySeconds   int

	MediaTypeFilterEnabled bool
	MediaSizeFilterEnabled bool
	MaxMediaSizeMB         float64
	NotifyOnOversize       bool
	ExtensionFilterEnabled bool
	ExtensionFilterMode    ExtensionFilterMode
	MediaAllowText         bool

	AIEnabled     bool
	AIModel       string
	AIPrompt      string
	AIUploadImage bool

	SummaryEnabled bool
	SummaryTime    string
	SummaryPrompt  string
	PinSummary     bool

	CommentButtonEnabled bool
	SyncEnabled          bool

	PushEnabled bool
	OnlyPush    bool

	CreatedAt time.Time
}

// Keyword is a whitelist or blacklist entry attached to a rule. The tuple
// (RuleID, Text, IsRegex, IsBlacklist) is unique.
type Keyword struct {
	ID          int64
	RuleID      int64
	Text        string
	IsRegex     bool
	IsBlacklist bool
	CreatedAt   time.Time
}

// ReplaceRule rewrites matched text. A pattern of ".*" replaces the whole
// text; anything else is a regex substitution.
type ReplaceRule struct {
	ID          int64
	RuleID      int64
	Pattern     string
	Replacement string
	CreatedAt   time.Time
}

// MediaTypes is the per-rule media type filter. Each flag, when true,
// blocks that media type.
type MediaTypes struct {
	RuleID   int64
	Photo    bool
	Document bool
	Video    bool
	Audio    bool
	Voice    bool
}

// Blocks reports whether the given media kind is blocked.
func (m MediaTypes) Blocks(kind MediaKind) bool {
	switch kind {
	case MediaPhoto:
		return m.Photo
	case MediaDocument:
		return m.Document
	case MediaVideo:
		return m.Video
	case MediaAudio:
		return m.Audio
	case MediaVoice:
		return m.Voice
	}
	return false
}

// MediaExtension is one entry of a rule's extension filter list.
type MediaExtension struct {
	ID        int64
	RuleID    int64
	Extension string
	CreatedAt time.Time
}

// PushConfig is one third-party notifier endpoint attached to a rule.
// ChannelURL is a notifier-style URL such as "ntfy://host/topic".
type PushConfig struct {
	ID            int64
	RuleID        int64
	ChannelURL    string
	Enabled       bool
	MediaSendMode MediaSendMode
	CreatedAt     time.Time
}

// RuleSync is a directed edge: mutations applied to RuleID are replayed on
// PeerRuleID. Edges are never followed transitively.
type RuleSync struct {
	ID         int64
	RuleID     int64
	PeerRuleID int64
	CreatedAt  time.Time
}

// RSSConfig holds a rule's feed settings. MaxItems is the per-rule
// retention cap.
type RSSConfig struct {
	RuleID      int64
	Enabled     bool
	Title       string
	Description string
	Language    string
	MaxItems    int
	CreatedAt   time.Time
}
