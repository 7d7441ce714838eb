// Package telegram defines the transport capability consumed by the engine
// and a bot-API backed implementation of its sending side.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg_forwarder/internal/model"
)

// ErrNoUserSession reports an operation that needs the user-session side
// of the transport while the process runs with the bot side only.
var ErrNoUserSession = errors.New("user session not configured")

// Sender identifies who sent a message.
type Sender struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// DisplayName returns a human-readable sender name.
func (s Sender) DisplayName() string {
	name := s.FirstName
	if s.LastName != "" {
		if name != "" {
			name += " "
		}
		name += s.LastName
	}
	if name == "" {
		name = s.Username
	}
	if name == "" {
		name = fmt.Sprintf("id%d", s.ID)
	}
	return name
}

// Button is one inline URL button.
type Button struct {
	Text string
	URL  string
}

// MediaInfo describes the media attached to a message.
type MediaInfo struct {
	Kind          model.MediaKind
	Filename      string
	Size          int64 // bytes
	IsLinkPreview bool  // the only "media" is a web page preview
}

// Message is the minimal message record the pipeline needs, decoupled from
// any transport library.
type Message struct {
	ID            int64
	ChatID        int64
	ChatTitle     string
	ChatUsername  string
	GroupedID     int64 // zero when not part of a media group
	Date          time.Time
	Text          string
	Buttons       [][]Button
	Media         *MediaInfo
	Sender        Sender
	IsChannelPost bool
}

// HasMedia reports whether the message carries downloadable media.
func (m *Message) HasMedia() bool {
	return m.Media != nil && !m.Media.IsLinkPreview
}

// Entity is a resolved chat, channel, or user.
type Entity struct {
	ID        int64
	Title     string
	Username  string
	FirstName string
	LastName  string
	Broadcast bool
}

// DisplayName returns the entity's human-readable name.
func (e Entity) DisplayName() string {
	if e.Title != "" {
		return e.Title
	}
	name := e.FirstName
	if e.LastName != "" {
		if name != "" {
			name += " "
		}
		name += e.LastName
	}
	if name == "" {
		name = e.Username
	}
	return name
}

// IterOptions control message history iteration.
type IterOptions struct {
	Limit      int
	MinID      int64
	MaxID      int64
	OffsetDate time.Time
	Reverse    bool
}

// SendOptions control how an outgoing message is rendered.
type SendOptions struct {
	ParseMode   model.MessageMode
	LinkPreview bool
	Buttons     [][]Button
	ReplyTo     int64
}

// UserClient is the user-session side of the transport: history access,
// entity resolution, editing and deleting source messages, media download.
type UserClient interface {
	GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error)
	IterMessages(ctx context.Context, chatID int64, opts IterOptions) ([]Message, error)
	GetEntity(ctx context.Context, idOrLink string) (*Entity, error)
	GetLinkedChatID(ctx context.Context, chatID int64) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string, opts SendOptions) error
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error
	DownloadMedia(ctx context.Context, msg *Message, dir string) (string, error)
}

// BotClient is the bot-account side of the transport: sending and pinning.
type BotClient interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error)
	SendFile(ctx context.Context, chatID int64, paths []string, caption string, opts SendOptions) ([]Message, error)
	PinMessage(ctx context.Context, chatID, messageID int64) error
}

// IO bundles both transport sides. Rules pick a side per operation via
// their use_bot_account setting; user-only operations (edit, delete,
// history) always go through User.
type IO struct {
	User UserClient
	Bot  BotClient
}

// SenderFor returns the client a rule should send with. Rules configured
// for the user account fall back to the bot when no user session exists.
func (io *IO) SenderFor(rule *model.Rule) BotClient {
	if !rule.UseBotAccount {
		if uc, ok := io.User.(BotClient); ok {
			return uc
		}
	}
	return io.Bot
}

// FloodWaitError reports a Telegram rate limit with the wait it demands.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %d seconds", e.Seconds)
}
