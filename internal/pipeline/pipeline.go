// Package pipeline runs an incoming message through the ordered filter
// stages of one forwarding rule.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tg_forwarder/internal/ai"
	"tg_forwarder/internal/model"
	"tg_forwarder/internal/push"
	"tg_forwarder/internal/rss"
	"tg_forwarder/internal/telegram"
)

// ErrorKind classifies pipeline errors by their recovery policy.
type ErrorKind string

// Supported error kinds.
const (
	ErrSourceFetch    ErrorKind = "source_fetch"
	ErrAIProvider     ErrorKind = "ai_provider"
	ErrMediaOversize  ErrorKind = "media_oversize"
	ErrRegex          ErrorKind = "regex"
	ErrTargetSend     ErrorKind = "target_send"
	ErrFloodWait      ErrorKind = "flood_wait"
	ErrPushNotifier   ErrorKind = "push_notifier"
	ErrRuleValidation ErrorKind = "rule_validation"
	ErrEntryStore     ErrorKind = "entry_store"
)

// Error is one recoverable or fatal pipeline error.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is a stage verdict: continue with the next stage or stop the
// chain.
type Result int

// Stage verdicts.
const (
	Continue Result = iota
	Stop
)

// SkippedMedia records a media item rejected by the size filter.
type SkippedMedia struct {
	Message  telegram.Message
	SizeMB   float64
	Filename string
}

// Context carries one message through the stages. Stages read and mutate
// it; a stage returning Stop skips everything after it.
type Context struct {
	Rule         *model.Rule
	SourceChat   *model.Chat
	TargetChat   *model.Chat
	Keywords     []model.Keyword
	ReplaceRules []model.ReplaceRule
	MediaTypes   model.MediaTypes
	Extensions   []model.MediaExtension
	PushConfigs  []model.PushConfig
	RSSConfig    *model.RSSConfig

	Message      *telegram.Message
	OriginalText string
	Text         string
	CheckText    string

	IsMediaGroup       bool
	MediaGroupID       int64
	MediaGroupMessages []telegram.Message

	DownloadedMediaPaths []string
	SkippedMedia         []SkippedMedia

	Buttons      [][]telegram.Button
	SenderInfo   string
	TimeInfo     string
	OriginalLink string
	CommentLink  string

	ShouldForward     bool
	ForwardedMessages []telegram.Message
	Errors            []*Error

	sentOK     bool
	savedMedia []rss.Media
}

// NewContext builds a Context with the text fields seeded from the
// message.
func NewContext(rule *model.Rule, msg *telegram.Message) *Context {
	return &Context{
		Rule:          rule,
		Message:       msg,
		OriginalText:  msg.Text,
		Text:          msg.Text,
		CheckText:     msg.Text,
		Buttons:       msg.Buttons,
		ShouldForward: true,
	}
}

func (c *Context) recordError(kind ErrorKind, err error) {
	c.Errors = append(c.Errors, &Error{Kind: kind, Err: err})
}

// Config carries the pipeline's tunable defaults, resolved from the
// application configuration at startup.
type Config struct {
	TempDir              string
	Timezone             *time.Location
	DefaultAIModel       string
	DefaultAIPrompt      string
	RSSMaxItems          int
	RSSMediaBaseURL      string
	UserInfoTemplate     string
	TimeTemplate         string
	OriginalLinkTemplate string
}

// Template defaults applied when a rule has none of its own.
const (
	DefaultUserInfoTemplate     = "{name}:\n"
	DefaultTimeTemplate         = "\n\n{time}"
	DefaultOriginalLinkTemplate = "\n\n[source]({original_link})"
)

// Pipeline executes the stage chain. One instance serves all rules; the
// per-message state lives in the Context.
type Pipeline struct {
	io    *telegram.IO
	ai    *ai.Registry
	push  *push.Sender
	store *rss.Store
	cfg   Config
	log   *slog.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline.
func New(io *telegram.IO, registry *ai.Registry, pusher *push.Sender, store *rss.Store, cfg Config, log *slog.Logger) *Pipeline {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.UserInfoTemplate == "" {
		cfg.UserInfoTemplate = DefaultUserInfoTemplate
	}
	if cfg.TimeTemplate == "" {
		cfg.TimeTemplate = DefaultTimeTemplate
	}
	if cfg.OriginalLinkTemplate == "" {
		cfg.OriginalLinkTemplate = DefaultOriginalLinkTemplate
	}
	if cfg.RSSMaxItems <= 0 {
		cfg.RSSMaxItems = rss.DefaultMaxItems
	}
	return &Pipeline{
		io:    io,
		ai:    registry,
		push:  pusher,
		store: store,
		cfg:   cfg,
		log:   log,
		sleep: sleepCtx,
	}
}

type stageFunc func(ctx context.Context, c *Context) (Result, error)

// Run executes the stages in order. A stage error aborts the pipeline
// with ShouldForward=false; a Stop verdict ends it cleanly. Temporary
// media files are removed either way.
func (p *Pipeline) Run(ctx context.Context, c *Context) error {
	stages := []struct {
		name string
		fn   stageFunc
	}{
		{"init", p.stageInit},
		{"delay", p.stageDelay},
		{"keyword", p.stageKeyword},
		{"replace", p.stageReplace},
		{"media", p.stageMedia},
		{"ai", p.stageAI},
		{"info", p.stageInfo},
		{"comment_button", p.stageCommentButton},
		{"rss", p.stageRSS},
		{"edit", p.stageEdit},
		{"sender", p.stageSender},
		{"reply", p.stageReply},
		{"push", p.stagePush},
		{"delete_original", p.stageDeleteOriginal},
	}
	defer p.cleanup(c)

	for _, st := range stages {
		res, err := st.fn(ctx, c)
		if err != nil {
			c.ShouldForward = false
			p.log.Error("pipeline stage failed",
				"rule_id", c.Rule.ID, "stage", st.name, "error", err)
			return fmt.Errorf("stage %s: %w", st.name, err)
		}
		if res == Stop {
			p.log.Debug("pipeline stopped",
				"rule_id", c.Rule.ID, "stage", st.name, "forward", c.ShouldForward)
			return nil
		}
	}
	return nil
}

func (p *Pipeline) cleanup(c *Context) {
	for _, path := range c.DownloadedMediaPaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn("remove temp file", "path", path, "error", err)
		}
	}
}

// composeCaption builds the outgoing text: sender info, body, time info
// and original link, followed by one notice line per skipped media item.
func (p *Pipeline) composeCaption(c *Context) string {
	out := c.SenderInfo + c.Text + c.TimeInfo + c.OriginalLink
	for _, sm := range c.SkippedMedia {
		notice := fmt.Sprintf("⚠️ media file %s (%.2fMB) exceeds size limit", sm.Filename, sm.SizeMB)
		if out != "" {
			out += "\n\n"
		}
		out += notice
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
