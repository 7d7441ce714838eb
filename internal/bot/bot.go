// Package bot implements the operator command surface and the update
// loop feeding incoming messages into the dispatcher.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg_forwarder/internal/config"
	"tg_forwarder/internal/dispatcher"
	"tg_forwarder/internal/rss"
	"tg_forwarder/internal/rulesync"
	"tg_forwarder/internal/state"
	"tg_forwarder/internal/storage"
	"tg_forwarder/internal/summary"
	"tg_forwarder/internal/telegram"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles operator commands and routes source-chat traffic into the
// forwarding dispatcher.
type Bot struct {
	api      telegramAPI
	store    storage.Storage
	cfg      *config.Config
	sync     *rulesync.Synchronizer
	summary  *summary.Scheduler
	states   *state.Manager
	dispatch *dispatcher.Dispatcher
	entries  *rss.Store
	io       *telegram.IO
	log      *slog.Logger
}

// New creates a Bot.
func New(token string, store storage.Storage, cfg *config.Config, sync *rulesync.Synchronizer,
	scheduler *summary.Scheduler, states *state.Manager, dispatch *dispatcher.Dispatcher,
	entries *rss.Store, io *telegram.IO, log *slog.Logger) (*Bot, error) {

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newWithAPI(api, store, cfg, sync, scheduler, states, dispatch, entries, io, log), nil
}

func newWithAPI(api telegramAPI, store storage.Storage, cfg *config.Config, sync *rulesync.Synchronizer,
	scheduler *summary.Scheduler, states *state.Manager, dispatch *dispatcher.Dispatcher,
	entries *rss.Store, io *telegram.IO, log *slog.Logger) *Bot {

	return &Bot{
		api:      api,
		store:    store,
		cfg:      cfg,
		sync:     sync,
		summary:  scheduler,
		states:   states,
		dispatch: dispatch,
		entries:  entries,
		io:       io,
		log:      log,
	}
}

// Run starts the long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Channel posts are forwarding traffic, never operator input.
	if update.ChannelPost != nil {
		b.feedDispatcher(ctx, update.ChannelPost, true)
		return
	}
	msg := update.Message
	if msg == nil {
		return
	}

	if msg.IsCommand() {
		if msg.From == nil || !b.cfg.IsAdmin(msg.From.ID) {
			b.reply(msg.Chat.ID, "Access denied.")
			return
		}
		b.handleCommand(ctx, msg)
		return
	}

	// Free text from an operator may answer a pending prompt.
	if msg.From != nil && b.cfg.IsAdmin(msg.From.ID) {
		if b.consumeStateAnswer(ctx, msg) {
			return
		}
	}

	b.feedDispatcher(ctx, msg, false)
}

func (b *Bot) feedDispatcher(ctx context.Context, msg *tgbotapi.Message, channelPost bool) {
	converted := fromUpdateMessage(msg, channelPost)
	if err := b.dispatch.Dispatch(ctx, converted); err != nil {
		b.log.Error("dispatch failed", "chat_id", converted.ChatID, "message_id", converted.ID, "error", err)
	}
}

// reply sends a plain text message, scheduling its auto-deletion when
// the configuration asks for one.
func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	sent, err := b.api.Send(msg)
	if err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
		return
	}
	b.scheduleDelete(chatID, sent.MessageID)
}

func (b *Bot) scheduleDelete(chatID int64, messageID int) {
	timeout := b.cfg.BotMessageDeleteTimeout
	if timeout <= 0 {
		return
	}
	time.AfterFunc(timeout, func() {
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
			b.log.Debug("auto-delete failed", "chat_id", chatID, "message_id", messageID, "error", err)
		}
	})
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "bind":
		b.handleBind(ctx, chatID, args)
	case "unbind":
		b.handleUnbind(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "rule":
		b.handleRule(ctx, chatID, args)
	case "enable":
		b.handleSetEnabled(ctx, chatID, args, true)
	case "disable":
		b.handleSetEnabled(ctx, chatID, args, false)
	case "mode":
		b.handleMode(ctx, chatID, args)
	case "addkw":
		b.handleAddKeywords(ctx, chatID, args)
	case "rmkw":
		b.handleRemoveKeywords(ctx, chatID, args)
	case "kws":
		b.handleListKeywords(ctx, chatID, args)
	case "addreplace":
		b.handleAddReplace(ctx, chatID, args)
	case "rmreplace":
		b.handleRemoveReplace(ctx, chatID, args)
	case "replaces":
		b.handleListReplace(ctx, chatID, args)
	case "addext":
		b.handleAddExtensions(ctx, chatID, args)
	case "rmext":
		b.handleRemoveExtension(ctx, chatID, args)
	case "exts":
		b.handleListExtensions(ctx, chatID, args)
	case "mediatype":
		b.handleToggleMediaType(ctx, chatID, args)
	case "addpush":
		b.handleAddPush(ctx, chatID, msg.From.ID, args)
	case "rmpush":
		b.handleRemovePush(ctx, chatID, args)
	case "togglepush":
		b.handleTogglePush(ctx, chatID, args)
	case "pushes":
		b.handleListPush(ctx, chatID, args)
	case "syncadd":
		b.handleSyncAdd(ctx, chatID, args)
	case "syncrm":
		b.handleSyncRemove(ctx, chatID, args)
	case "syncs":
		b.handleListSyncs(ctx, chatID, args)
	case "summary":
		b.handleSummaryNow(ctx, chatID, args)
	case "settime":
		b.handleSetSummaryTime(ctx, chatID, args)
	case "setprompt":
		b.handlePromptState(chatID, msg.From.ID, args, state.TagAIPrompt, "AI prompt")
	case "setsummaryprompt":
		b.handlePromptState(chatID, msg.From.ID, args, state.TagSummaryPrompt, "summary prompt")
	case "cancel":
		b.handleCancel(chatID, msg.From.ID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
