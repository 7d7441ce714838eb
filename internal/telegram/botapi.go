package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg_forwarder/internal/model"
)

// botAPI is the subset of the bot API client used by the adapter.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot implements BotClient over the Telegram bot API.
type Bot struct {
	api botAPI
}

// NewBot creates a Bot from a bot token.
func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Bot{api: api}, nil
}

// NewBotWithAPI wraps an existing API client (useful for testing).
func NewBotWithAPI(api botAPI) *Bot {
	return &Bot{api: api}
}

// SendMessage sends a text message.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode(opts.ParseMode)
	msg.DisableWebPagePreview = !opts.LinkPreview
	if opts.ReplyTo != 0 {
		msg.ReplyToMessageID = int(opts.ReplyTo)
	}
	if markup := inlineMarkup(opts.Buttons); markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return nil, wrapSendError(err)
	}
	return fromAPIMessage(sent), nil
}

// SendFile sends one file with a caption, or several as a single album.
// Albums cannot carry inline buttons; callers attach them via a reply.
func (b *Bot) SendFile(ctx context.Context, chatID int64, paths []string, caption string, opts SendOptions) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no files to send")
	}

	if len(paths) == 1 {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(paths[0]))
		doc.Caption = caption
		doc.ParseMode = parseMode(opts.ParseMode)
		if markup := inlineMarkup(opts.Buttons); markup != nil {
			doc.ReplyMarkup = markup
		}
		sent, err := b.api.Send(doc)
		if err != nil {
			return nil, wrapSendError(err)
		}
		return []Message{*fromAPIMessage(sent)}, nil
	}

	media := make([]any, 0, len(paths))
	for i, p := range paths {
		doc := tgbotapi.NewInputMediaDocument(tgbotapi.FilePath(p))
		if i == 0 {
			doc.Caption = caption
			doc.ParseMode = parseMode(opts.ParseMode)
		}
		media = append(media, doc)
	}
	group := tgbotapi.NewMediaGroup(chatID, media)
	sent, err := b.api.SendMediaGroup(group)
	if err != nil {
		return nil, wrapSendError(err)
	}
	out := make([]Message, 0, len(sent))
	for _, m := range sent {
		out = append(out, *fromAPIMessage(m))
	}
	return out, nil
}

// PinMessage pins a message in a chat.
func (b *Bot) PinMessage(ctx context.Context, chatID, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.PinChatMessageConfig{
		ChatID:              chatID,
		MessageID:           int(messageID),
		DisableNotification: true,
	})
	if err != nil {
		return wrapSendError(err)
	}
	return nil
}

func parseMode(mode model.MessageMode) string {
	switch mode {
	case model.MessageHTML:
		return tgbotapi.ModeHTML
	case model.MessagePlain:
		return ""
	}
	return tgbotapi.ModeMarkdown
}

func inlineMarkup(buttons [][]Button) any {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
		}
		rows = append(rows, btns)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return markup
}

func fromAPIMessage(m tgbotapi.Message) *Message {
	msg := &Message{
		ID:   int64(m.MessageID),
		Date: time.Unix(int64(m.Date), 0),
		Text: m.Text,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.ChatTitle = m.Chat.Title
		msg.ChatUsername = m.Chat.UserName
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	return msg
}

// wrapSendError converts rate limit responses into FloodWaitError.
func wrapSendError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return &FloodWaitError{Seconds: apiErr.RetryAfter}
	}
	return err
}

// CandidateIDs returns the target chat id variants to try when sending:
// the stored id as-is, then the -100-prefixed channel form, then the plain
// negated form. Tolerates storage format drift.
func CandidateIDs(telegramID string) []int64 {
	id, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		return nil
	}
	abs := id
	if abs < 0 {
		abs = -abs
	}
	prefixed, err := strconv.ParseInt(fmt.Sprintf("-100%d", abs), 10, 64)
	if err != nil {
		prefixed = -abs
	}
	seen := make(map[int64]bool, 3)
	var out []int64
	for _, c := range []int64{id, prefixed, -abs} {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
