package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tg_forwarder/internal/ai"
	"tg_forwarder/internal/model"
	"tg_forwarder/internal/push"
	"tg_forwarder/internal/rss"
	"tg_forwarder/internal/telegram"
)

type fakeUser struct {
	getMessage   func(chatID, messageID int64) (*telegram.Message, error)
	iterMessages func(chatID int64, opts telegram.IterOptions) ([]telegram.Message, error)
	linkedChatID int64
	downloadErr  error

	editTexts  []string
	deletedIDs []int64
}

func (f *fakeUser) GetMessage(_ context.Context, chatID, messageID int64) (*telegram.Message, error) {
	if f.getMessage == nil {
		return nil, errors.New("not found")
	}
	return f.getMessage(chatID, messageID)
}

func (f *fakeUser) IterMessages(_ context.Context, chatID int64, opts telegram.IterOptions) ([]telegram.Message, error) {
	if f.iterMessages == nil {
		return nil, nil
	}
	return f.iterMessages(chatID, opts)
}

func (f *fakeUser) GetEntity(_ context.Context, _ string) (*telegram.Entity, error) {
	return nil, errors.New("not supported")
}

func (f *fakeUser) GetLinkedChatID(_ context.Context, _ int64) (int64, error) {
	if f.linkedChatID == 0 {
		return 0, errors.New("no linked chat")
	}
	return f.linkedChatID, nil
}

func (f *fakeUser) EditMessage(_ context.Context, _, _ int64, text string, _ telegram.SendOptions) error {
	f.editTexts = append(f.editTexts, text)
	return nil
}

func (f *fakeUser) DeleteMessages(_ context.Context, _ int64, messageIDs []int64) error {
	f.deletedIDs = append(f.deletedIDs, messageIDs...)
	return nil
}

func (f *fakeUser) DownloadMedia(_ context.Context, msg *telegram.Message, dir string) (string, error) {
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	name := "media.bin"
	if msg.Media != nil && msg.Media.Filename != "" {
		name = msg.Media.Filename
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_%s", msg.ID, name))
	if err := os.WriteFile(path, []byte("bytes"), 0o640); err != nil {
		return "", err
	}
	return path, nil
}

type sentMessage struct {
	ChatID int64
	Text   string
	Paths  []string
	Opts   telegram.SendOptions
}

type fakeBot struct {
	sendErr func(chatID int64) error
	sent    []sentMessage
	pinned  []int64
	nextID  int64
}

func (f *fakeBot) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (*telegram.Message, error) {
	if f.sendErr != nil {
		if err := f.sendErr(chatID); err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	f.nextID++
	return &telegram.Message{ID: 9000 + f.nextID, ChatID: chatID, Text: text}, nil
}

func (f *fakeBot) SendFile(_ context.Context, chatID int64, paths []string, caption string, opts telegram.SendOptions) ([]telegram.Message, error) {
	if f.sendErr != nil {
		if err := f.sendErr(chatID); err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: caption, Paths: paths, Opts: opts})
	var out []telegram.Message
	for range paths {
		f.nextID++
		out = append(out, telegram.Message{ID: 9000 + f.nextID, ChatID: chatID})
	}
	return out, nil
}

func (f *fakeBot) PinMessage(_ context.Context, _, messageID int64) error {
	f.pinned = append(f.pinned, messageID)
	return nil
}

type fakeProvider struct {
	out       string
	err       error
	gotPrompt string
	gotImages []string
	gotModel  string
}

func (f *fakeProvider) Process(_ context.Context, req ai.Request) (string, error) {
	f.gotPrompt = req.Prompt
	f.gotImages = req.ImagePaths
	f.gotModel = req.Model
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

type harness struct {
	p        *Pipeline
	user     *fakeUser
	bot      *fakeBot
	provider *fakeProvider
	store    *rss.Store
	pushes   []string
	slept    []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		user:     &fakeUser{},
		bot:      &fakeBot{},
		provider: &fakeProvider{out: "processed"},
	}
	root := t.TempDir()
	h.store = rss.NewStore(filepath.Join(root, "data"), filepath.Join(root, "media"), log)

	notify := func(url, message string) error {
		h.pushes = append(h.pushes, message)
		return nil
	}
	h.p = New(
		&telegram.IO{User: h.user, Bot: h.bot},
		ai.NewRegistry(h.provider),
		push.NewSenderWithNotify(notify, log),
		h.store,
		Config{TempDir: t.TempDir(), Timezone: time.UTC},
		log,
	)
	h.p.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	return h
}

func testRule() *model.Rule {
	return &model.Rule{
		ID:                  1,
		Enabled:             true,
		HandleMode:          model.HandleForward,
		AddMode:             model.AddWhitelist,
		ForwardMode:         model.ForwardBlacklist,
		MessageMode:         model.MessageMarkdown,
		PreviewMode:         model.PreviewFollow,
		ExtensionFilterMode: model.ExtensionBlacklist,
		MaxMediaSizeMB:      10,
		SummaryTime:         "07:00",
	}
}

func testMessage(text string) *telegram.Message {
	return &telegram.Message{
		ID:        10,
		ChatID:    -1001111,
		ChatTitle: "Source Channel",
		Date:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Text:      text,
	}
}

func newContext(rule *model.Rule, msg *telegram.Message) *Context {
	c := NewContext(rule, msg)
	c.SourceChat = &model.Chat{ID: 1, TelegramID: "-1001111", DisplayName: "Source Channel"}
	c.TargetChat = &model.Chat{ID: 2, TelegramID: "-1002222", DisplayName: "Target"}
	return c
}

func TestTextMessageForwarded(t *testing.T) {
	h := newHarness(t)
	c := newContext(testRule(), testMessage("plain update"))

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.bot.sent))
	}
	got := h.bot.sent[0]
	if got.Text != "plain update" {
		t.Errorf("text = %q", got.Text)
	}
	if got.ChatID != -1002222 {
		t.Errorf("chat id = %d", got.ChatID)
	}
	if !c.ShouldForward || len(c.ForwardedMessages) != 1 {
		t.Errorf("context after run: forward=%v forwarded=%d", c.ShouldForward, len(c.ForwardedMessages))
	}
}

func TestKeywordBlacklistStops(t *testing.T) {
	h := newHarness(t)
	c := newContext(testRule(), testMessage("spam offer inside"))
	c.Keywords = []model.Keyword{{Text: "spam", IsBlacklist: true}}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.ShouldForward {
		t.Error("blacklisted message not dropped")
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(h.bot.sent))
	}
}

func TestSenderNameJoinsKeywordCheck(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.FilterUserInfo = true
	msg := testMessage("harmless text")
	msg.IsChannelPost = true
	c := newContext(rule, msg)
	c.Keywords = []model.Keyword{{Text: "Source Channel", IsBlacklist: true}}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.ShouldForward {
		t.Error("channel name did not join the keyword check")
	}
}

func TestReplaceRulesApplied(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.ReplaceEnabled = true
	c := newContext(rule, testMessage("visit http://ads.example now"))
	c.ReplaceRules = []model.ReplaceRule{{Pattern: `http://\S+`, Replacement: "[link removed]"}}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 || h.bot.sent[0].Text != "visit [link removed] now" {
		t.Errorf("sent = %+v", h.bot.sent)
	}
}

func TestDelayRefetchesMessage(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.DelayEnabled = true
	rule.DelaySeconds = 30
	msg := testMessage("first draft")
	h.user.getMessage = func(chatID, messageID int64) (*telegram.Message, error) {
		fresh := *msg
		fresh.Text = "edited draft"
		return &fresh, nil
	}
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.slept) != 1 || h.slept[0] != 30*time.Second {
		t.Errorf("slept = %v", h.slept)
	}
	if len(h.bot.sent) != 1 || h.bot.sent[0].Text != "edited draft" {
		t.Errorf("sent = %+v", h.bot.sent)
	}
}

func TestInfoTemplatesComposeCaption(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.IncludeSender = true
	rule.IncludeTime = true
	rule.IncludeOriginalLink = true
	msg := testMessage("body")
	msg.IsChannelPost = true
	msg.ChatUsername = "mychannel"
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "Source Channel:\nbody\n\n2024-03-01 12:00:00\n\n[source](https://t.me/mychannel/10)"
	if len(h.bot.sent) != 1 || h.bot.sent[0].Text != want {
		t.Errorf("caption = %q, want %q", h.bot.sent[0].Text, want)
	}
}

func TestOversizeMediaNotice(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.MediaSizeFilterEnabled = true
	rule.NotifyOnOversize = true
	msg := testMessage("preview")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaDocument, Filename: "report.pdf", Size: 50 * 1048576}
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.bot.sent))
	}
	got := h.bot.sent[0]
	want := "preview\n\n⚠️ media file report.pdf (50.00MB) exceeds size limit"
	if got.Text != want {
		t.Errorf("caption = %q, want %q", got.Text, want)
	}
	if len(got.Paths) != 0 {
		t.Errorf("oversize media was sent: %v", got.Paths)
	}
	if len(c.Errors) != 1 || c.Errors[0].Kind != ErrMediaOversize {
		t.Errorf("errors = %+v", c.Errors)
	}
}

func TestOversizeMediaSilentDrop(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.MediaSizeFilterEnabled = true
	msg := testMessage("preview")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaVideo, Filename: "clip.mp4", Size: 50 * 1048576}
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.ShouldForward || len(h.bot.sent) != 0 {
		t.Errorf("silent drop failed: forward=%v sent=%d", c.ShouldForward, len(h.bot.sent))
	}
}

func TestBlockedMediaTypeKeepsTextWhenAllowed(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.MediaTypeFilterEnabled = true
	rule.MediaAllowText = true
	msg := testMessage("photo caption")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "img.jpg", Size: 1024}
	c := newContext(rule, msg)
	c.MediaTypes = model.MediaTypes{RuleID: rule.ID, Photo: true}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 || h.bot.sent[0].Text != "photo caption" || len(h.bot.sent[0].Paths) != 0 {
		t.Errorf("sent = %+v", h.bot.sent)
	}
}

func TestBlockedMediaTypeDropsWithoutText(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.MediaTypeFilterEnabled = true
	msg := testMessage("caption")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "img.jpg", Size: 1024}
	c := newContext(rule, msg)
	c.MediaTypes = model.MediaTypes{RuleID: rule.ID, Photo: true}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.ShouldForward || len(h.bot.sent) != 0 {
		t.Errorf("dropped message still forwarded: forward=%v sent=%d", c.ShouldForward, len(h.bot.sent))
	}
}

func TestExtensionWhitelist(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.ExtensionFilterEnabled = true
	rule.ExtensionFilterMode = model.ExtensionWhitelist
	msg := testMessage("")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaDocument, Filename: "notes.TXT", Size: 1024}
	c := newContext(rule, msg)
	c.Extensions = []model.MediaExtension{{RuleID: rule.ID, Extension: "txt"}}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 || len(h.bot.sent[0].Paths) != 1 {
		t.Fatalf("whitelisted extension not sent: %+v", h.bot.sent)
	}
}

func TestMediaDownloadAndCleanup(t *testing.T) {
	h := newHarness(t)
	msg := testMessage("with file")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaDocument, Filename: "doc.pdf", Size: 1024}
	c := newContext(testRule(), msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 || len(h.bot.sent[0].Paths) != 1 {
		t.Fatalf("sent = %+v", h.bot.sent)
	}
	if _, err := os.Stat(h.bot.sent[0].Paths[0]); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file survived the run: %v", err)
	}
}

func TestAIRewritesText(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.AIEnabled = true
	rule.AIPrompt = "Translate: {Message}"
	rule.AIModel = "gpt-4o"
	h.provider.out = "translated text"
	c := newContext(rule, testMessage("original text"))

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.provider.gotPrompt != "Translate: original text" {
		t.Errorf("prompt = %q", h.provider.gotPrompt)
	}
	if h.provider.gotModel != "gpt-4o" {
		t.Errorf("model = %q", h.provider.gotModel)
	}
	if len(h.bot.sent) != 1 || h.bot.sent[0].Text != "translated text" {
		t.Errorf("sent = %+v", h.bot.sent)
	}
}

func TestAIFailureKeepsOriginalText(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.AIEnabled = true
	h.provider.err = &ai.ProviderError{Provider: "openai", Err: errors.New("quota")}
	c := newContext(rule, testMessage("original text"))

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 || h.bot.sent[0].Text != "original text" {
		t.Errorf("sent = %+v", h.bot.sent)
	}
	if len(c.Errors) != 1 || c.Errors[0].Kind != ErrAIProvider {
		t.Errorf("errors = %+v", c.Errors)
	}
}

func TestAIUploadsImageAttachments(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.AIEnabled = true
	rule.AIUploadImage = true
	msg := testMessage("describe this")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "pic.jpg", Size: 1024}
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.provider.gotImages) != 1 || filepath.Ext(h.provider.gotImages[0]) != ".jpg" {
		t.Errorf("image paths = %v", h.provider.gotImages)
	}
}

func TestKeywordRecheckAfterAI(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.AIEnabled = true
	rule.KeywordAfterAI = true
	h.provider.out = "now mentions crypto"
	c := newContext(rule, testMessage("clean input"))
	c.Keywords = []model.Keyword{{Text: "crypto", IsBlacklist: true}}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.ShouldForward || len(h.bot.sent) != 0 {
		t.Errorf("recheck missed the new text: forward=%v sent=%d", c.ShouldForward, len(h.bot.sent))
	}
}

func TestCommentButtonFindsEcho(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.CommentButtonEnabled = true
	msg := testMessage("channel announcement")
	msg.IsChannelPost = true
	msg.ChatUsername = "mychannel"
	h.user.linkedChatID = 777
	h.user.iterMessages = func(chatID int64, opts telegram.IterOptions) ([]telegram.Message, error) {
		if chatID != 777 {
			return nil, nil
		}
		return []telegram.Message{
			{ID: 41, Text: "unrelated", Date: msg.Date},
			{ID: 42, Text: "channel announcement", Date: msg.Date},
		}, nil
	}
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	wantLink := "https://t.me/mychannel/10?comment=42"
	if c.CommentLink != wantLink {
		t.Errorf("comment link = %q, want %q", c.CommentLink, wantLink)
	}
	if len(h.slept) != 1 || h.slept[0] != 2*time.Second {
		t.Errorf("slept = %v", h.slept)
	}
	sent := h.bot.sent[0]
	if len(sent.Opts.Buttons) == 0 || sent.Opts.Buttons[0][0].URL != wantLink {
		t.Errorf("buttons = %+v", sent.Opts.Buttons)
	}
}

func TestCommentButtonWithoutLinkedGroup(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.CommentButtonEnabled = true
	msg := testMessage("post")
	msg.IsChannelPost = true
	msg.ChatUsername = "mychannel"
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.CommentLink != "https://t.me/mychannel/10?comment=1" {
		t.Errorf("comment link = %q", c.CommentLink)
	}
}

func TestRSSOnlySkipsDelivery(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.OnlyRSS = true
	c := newContext(rule, testMessage("feed item\nsecond line"))
	c.RSSConfig = &model.RSSConfig{RuleID: rule.ID, Enabled: true, MaxItems: 10}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("rss-only rule sent to target: %+v", h.bot.sent)
	}
	entries, err := h.store.List(rule.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "feed item" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRSSOnlyEditModeStillEdits(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.OnlyRSS = true
	rule.HandleMode = model.HandleEdit
	msg := testMessage("source text")
	msg.IsChannelPost = true
	c := newContext(rule, msg)
	c.RSSConfig = &model.RSSConfig{RuleID: rule.ID, Enabled: true, MaxItems: 10}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.user.editTexts) != 1 || h.user.editTexts[0] != "source text" {
		t.Errorf("edits = %v", h.user.editTexts)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("edit mode sent to target: %+v", h.bot.sent)
	}
}

func TestRSSOnlyEditModeGroupMessageSkipsDelivery(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.OnlyRSS = true
	rule.HandleMode = model.HandleEdit
	c := newContext(rule, testMessage("group chatter"))
	c.RSSConfig = &model.RSSConfig{RuleID: rule.ID, Enabled: true, MaxItems: 10}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("rss-only rule sent to target: %+v", h.bot.sent)
	}
	if len(h.user.editTexts) != 0 {
		t.Errorf("edited a non-channel message: %v", h.user.editTexts)
	}
	entries, err := h.store.List(rule.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestEditModeRewritesSource(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.HandleMode = model.HandleEdit
	rule.ReplaceEnabled = true
	msg := testMessage("buy at http://ads.example")
	msg.IsChannelPost = true
	c := newContext(rule, msg)
	c.ReplaceRules = []model.ReplaceRule{{Pattern: `http://\S+`, Replacement: ""}}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.user.editTexts) != 1 || h.user.editTexts[0] != "buy at " {
		t.Errorf("edits = %v", h.user.editTexts)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("edit mode sent to target: %+v", h.bot.sent)
	}
}

func TestTargetCandidateFallback(t *testing.T) {
	h := newHarness(t)
	c := newContext(testRule(), testMessage("hello"))
	c.TargetChat.TelegramID = "1234567"

	h.bot.sendErr = func(chatID int64) error {
		if chatID == 1234567 {
			return errors.New("chat not found")
		}
		return nil
	}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 || h.bot.sent[0].ChatID != -1001234567 {
		t.Errorf("sent = %+v", h.bot.sent)
	}
	if !c.ShouldForward || len(c.Errors) != 0 {
		t.Errorf("fallback left error state: %+v", c.Errors)
	}
}

func TestAllCandidatesFail(t *testing.T) {
	h := newHarness(t)
	c := newContext(testRule(), testMessage("hello"))
	h.bot.sendErr = func(int64) error { return errors.New("forbidden") }

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(c.Errors) != 1 || c.Errors[0].Kind != ErrTargetSend {
		t.Errorf("errors = %+v", c.Errors)
	}
	if len(c.ForwardedMessages) != 0 {
		t.Errorf("forwarded = %+v", c.ForwardedMessages)
	}
}

func TestFloodWaitAbortsPipeline(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.DeleteOriginal = true
	c := newContext(rule, testMessage("hello"))
	h.bot.sendErr = func(int64) error { return &telegram.FloodWaitError{Seconds: 30} }

	err := h.p.Run(context.Background(), c)
	if err == nil {
		t.Fatal("flood wait did not abort the run")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != ErrFloodWait {
		t.Errorf("error = %v", err)
	}
	if c.ShouldForward {
		t.Error("forward flag still set")
	}
	if len(h.user.deletedIDs) != 0 {
		t.Errorf("original deleted after failed send: %v", h.user.deletedIDs)
	}
}

func TestDeleteOriginalAfterDelivery(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.DeleteOriginal = true
	c := newContext(rule, testMessage("hello"))

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.user.deletedIDs) != 1 || h.user.deletedIDs[0] != 10 {
		t.Errorf("deleted = %v", h.user.deletedIDs)
	}
}

func TestPushDelivery(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.PushEnabled = true
	rule.OnlyPush = true
	c := newContext(rule, testMessage("push me"))
	c.PushConfigs = []model.PushConfig{
		{RuleID: rule.ID, ChannelURL: "ntfy://host/topic", Enabled: true, MediaSendMode: model.MediaSendSingle},
		{RuleID: rule.ID, ChannelURL: "ntfy://host/other", Enabled: false, MediaSendMode: model.MediaSendSingle},
	}

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("push-only rule sent to target: %+v", h.bot.sent)
	}
	if len(h.pushes) != 1 || h.pushes[0] != "push me" {
		t.Errorf("pushes = %v", h.pushes)
	}
}

func TestMediaGroupGatheredAndSentTogether(t *testing.T) {
	h := newHarness(t)
	msg := testMessage("")
	msg.GroupedID = 555
	msg.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "a.jpg", Size: 1024}

	h.user.iterMessages = func(chatID int64, opts telegram.IterOptions) ([]telegram.Message, error) {
		return []telegram.Message{
			{ID: 11, ChatID: msg.ChatID, GroupedID: 555, Text: "album caption",
				Media: &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "b.jpg", Size: 1024}},
			{ID: 10, ChatID: msg.ChatID, GroupedID: 555,
				Media: &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "a.jpg", Size: 1024}},
			{ID: 9, ChatID: msg.ChatID, GroupedID: 999, Text: "other album"},
		}, nil
	}
	c := newContext(testRule(), msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.bot.sent))
	}
	got := h.bot.sent[0]
	if len(got.Paths) != 2 {
		t.Errorf("paths = %v", got.Paths)
	}
	if got.Text != "album caption" {
		t.Errorf("caption = %q", got.Text)
	}
}

func TestMediaGroupCommentReply(t *testing.T) {
	h := newHarness(t)
	rule := testRule()
	rule.CommentButtonEnabled = true
	msg := testMessage("")
	msg.IsChannelPost = true
	msg.ChatUsername = "mychannel"
	msg.GroupedID = 555
	msg.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "a.jpg", Size: 1024}

	h.user.linkedChatID = 777
	h.user.iterMessages = func(chatID int64, opts telegram.IterOptions) ([]telegram.Message, error) {
		if chatID == 777 {
			return []telegram.Message{{ID: 31, Text: "album post", Date: msg.Date}}, nil
		}
		return []telegram.Message{
			{ID: 10, ChatID: msg.ChatID, GroupedID: 555, Text: "album post",
				Media: &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "a.jpg", Size: 1024}},
		}, nil
	}
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 2 {
		t.Fatalf("sent %d messages, want album plus reply", len(h.bot.sent))
	}
	reply := h.bot.sent[1]
	if reply.Text != "💬" || reply.Opts.ReplyTo == 0 {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.Opts.Buttons) != 1 || reply.Opts.Buttons[0][0].URL != "https://t.me/mychannel/10?comment=31" {
		t.Errorf("reply buttons = %+v", reply.Opts.Buttons)
	}
}

func TestBotOnlyTransportForwardsTextWithoutMedia(t *testing.T) {
	h := newHarness(t)
	h.p.io = &telegram.IO{Bot: h.bot}

	msg := testMessage("photo caption")
	msg.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "a.jpg", Size: 1024}
	c := newContext(testRule(), msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.bot.sent))
	}
	got := h.bot.sent[0]
	if got.Text != "photo caption" || len(got.Paths) != 0 {
		t.Errorf("sent = %+v, want caption without media", got)
	}
	var recorded bool
	for _, e := range c.Errors {
		if e.Kind == ErrSourceFetch && errors.Is(e.Err, telegram.ErrNoUserSession) {
			recorded = true
		}
	}
	if !recorded {
		t.Errorf("errors = %v, want a source fetch error for the missing user session", c.Errors)
	}
}

func TestBotOnlyTransportGathersAlbumFromTrigger(t *testing.T) {
	h := newHarness(t)
	h.p.io = &telegram.IO{Bot: h.bot}

	msg := testMessage("album caption")
	msg.GroupedID = 555
	msg.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "a.jpg", Size: 1024}
	c := newContext(testRule(), msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !c.IsMediaGroup {
		t.Error("grouped message not marked as a media group")
	}
	if len(h.bot.sent) != 1 || h.bot.sent[0].Text != "album caption" {
		t.Errorf("sent = %+v", h.bot.sent)
	}
	if len(h.bot.sent) == 1 && len(h.bot.sent[0].Paths) != 0 {
		t.Errorf("paths = %v, want none without a user session", h.bot.sent[0].Paths)
	}
}

func TestBotOnlyTransportEditModeRecordsError(t *testing.T) {
	h := newHarness(t)
	h.p.io = &telegram.IO{Bot: h.bot}

	rule := testRule()
	rule.HandleMode = model.HandleEdit
	msg := testMessage("source text")
	msg.IsChannelPost = true
	c := newContext(rule, msg)

	if err := h.p.Run(context.Background(), c); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(h.bot.sent))
	}
	var recorded bool
	for _, e := range c.Errors {
		if e.Kind == ErrTargetSend && errors.Is(e.Err, telegram.ErrNoUserSession) {
			recorded = true
		}
	}
	if !recorded {
		t.Errorf("errors = %v, want a target send error for the missing user session", c.Errors)
	}
}
