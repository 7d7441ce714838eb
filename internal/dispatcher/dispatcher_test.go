package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"tg_forwarder/internal/ai"
	"tg_forwarder/internal/model"
	"tg_forwarder/internal/pipeline"
	"tg_forwarder/internal/push"
	"tg_forwarder/internal/rss"
	"tg_forwarder/internal/storage"
	"tg_forwarder/internal/telegram"
)

type fakeUser struct{}

func (f *fakeUser) GetMessage(ctx context.Context, chatID, messageID int64) (*telegram.Message, error) {
	return nil, os.ErrNotExist
}

func (f *fakeUser) IterMessages(ctx context.Context, chatID int64, opts telegram.IterOptions) ([]telegram.Message, error) {
	return nil, nil
}

func (f *fakeUser) GetEntity(ctx context.Context, idOrLink string) (*telegram.Entity, error) {
	return nil, os.ErrNotExist
}

func (f *fakeUser) GetLinkedChatID(ctx context.Context, chatID int64) (int64, error) {
	return 0, nil
}

func (f *fakeUser) EditMessage(ctx context.Context, chatID, messageID int64, text string, opts telegram.SendOptions) error {
	return nil
}

func (f *fakeUser) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error {
	return nil
}

func (f *fakeUser) DownloadMedia(ctx context.Context, msg *telegram.Message, dir string) (string, error) {
	path := filepath.Join(dir, strconv.FormatInt(msg.ID, 10)+"_"+msg.Media.Filename)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeBot struct {
	sent []sentMessage
}

type sentMessage struct {
	ChatID int64
	Text   string
	Paths  []string
}

func (f *fakeBot) SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (*telegram.Message, error) {
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return &telegram.Message{ID: int64(9000 + len(f.sent)), ChatID: chatID, Text: text}, nil
}

func (f *fakeBot) SendFile(ctx context.Context, chatID int64, paths []string, caption string, opts telegram.SendOptions) ([]telegram.Message, error) {
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: caption, Paths: paths})
	return []telegram.Message{{ID: int64(9000 + len(f.sent)), ChatID: chatID}}, nil
}

func (f *fakeBot) PinMessage(ctx context.Context, chatID, messageID int64) error {
	return nil
}

type harness struct {
	d     *Dispatcher
	store *storage.SQLite
	bot   *fakeBot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bot := &fakeBot{}
	transport := &telegram.IO{User: &fakeUser{}, Bot: bot}
	feedStore := rss.NewStore(t.TempDir(), t.TempDir(), log)
	pipe := pipeline.New(transport, ai.NewRegistry(nil), push.NewSender(log), feedStore,
		pipeline.Config{TempDir: t.TempDir(), Timezone: time.UTC}, log)

	return &harness{d: New(s, pipe, log), store: s, bot: bot}
}

// makeRule creates a rule binding the two telegram ids, creating chats as
// needed.
func makeRule(t *testing.T, s *storage.SQLite, source, target string, enabled bool) *model.Rule {
	t.Helper()
	ctx := context.Background()
	src, err := s.UpsertChat(ctx, source, "Source")
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	dst, err := s.UpsertChat(ctx, target, "Target")
	if err != nil {
		t.Fatalf("upsert target: %v", err)
	}
	rule := &model.Rule{
		SourceChatID:        src.ID,
		TargetChatID:        dst.ID,
		Enabled:             enabled,
		UseBotAccount:       true,
		HandleMode:          model.HandleForward,
		AddMode:             model.AddWhitelist,
		ForwardMode:         model.ForwardBlacklist,
		MessageMode:         model.MessageMarkdown,
		PreviewMode:         model.PreviewFollow,
		ExtensionFilterMode: model.ExtensionBlacklist,
		MaxMediaSizeMB:      10,
		SummaryTime:         "07:00",
	}
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func incoming(chatID int64, text string) *telegram.Message {
	return &telegram.Message{
		ID:        10,
		ChatID:    chatID,
		ChatTitle: "Source",
		Date:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Text:      text,
	}
}

func TestDispatchRoutesToMatchingRules(t *testing.T) {
	h := newHarness(t)
	makeRule(t, h.store, "-1001111", "-1002222", true)
	makeRule(t, h.store, "-1001111", "-1003333", true)
	makeRule(t, h.store, "-1009999", "-1004444", true)

	if err := h.d.Dispatch(context.Background(), incoming(-1001111, "hello")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(h.bot.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(h.bot.sent))
	}
	targets := map[int64]bool{h.bot.sent[0].ChatID: true, h.bot.sent[1].ChatID: true}
	if !targets[-1002222] || !targets[-1003333] {
		t.Errorf("delivered to %v", targets)
	}
}

func TestDispatchSkipsDisabledRules(t *testing.T) {
	h := newHarness(t)
	makeRule(t, h.store, "-1001111", "-1002222", false)

	if err := h.d.Dispatch(context.Background(), incoming(-1001111, "hello")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(h.bot.sent))
	}
}

func TestDispatchUnknownSourceIsNoop(t *testing.T) {
	h := newHarness(t)

	if err := h.d.Dispatch(context.Background(), incoming(-1005555, "hello")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(h.bot.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(h.bot.sent))
	}
}

func TestDispatchDeduplicatesAlbumSiblings(t *testing.T) {
	h := newHarness(t)
	makeRule(t, h.store, "-1001111", "-1002222", true)

	first := incoming(-1001111, "album caption")
	first.GroupedID = 555
	first.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "a.jpg", Size: 1024}
	if err := h.d.Dispatch(context.Background(), first); err != nil {
		t.Fatalf("dispatch first: %v", err)
	}
	sent := len(h.bot.sent)
	if sent == 0 {
		t.Fatal("first album message was not delivered")
	}

	sibling := incoming(-1001111, "")
	sibling.ID = 11
	sibling.GroupedID = 555
	sibling.Media = &telegram.MediaInfo{Kind: model.MediaPhoto, Filename: "b.jpg", Size: 1024}
	if err := h.d.Dispatch(context.Background(), sibling); err != nil {
		t.Fatalf("dispatch sibling: %v", err)
	}
	if len(h.bot.sent) != sent {
		t.Errorf("sibling triggered %d extra sends", len(h.bot.sent)-sent)
	}
}

func TestFirstOfGroup(t *testing.T) {
	h := newHarness(t)

	if !h.d.firstOfGroup(-1001111, 555) {
		t.Error("first sighting reported as duplicate")
	}
	if h.d.firstOfGroup(-1001111, 555) {
		t.Error("repeat sighting reported as first")
	}
	if !h.d.firstOfGroup(-1001111, 556) {
		t.Error("different group reported as duplicate")
	}
	if !h.d.firstOfGroup(-1002222, 555) {
		t.Error("same group in another chat reported as duplicate")
	}

	// The entry expires after the dedup window.
	h.d.now = func() time.Time { return time.Now().Add(groupSeenTTL + time.Minute) }
	if !h.d.firstOfGroup(-1001111, 555) {
		t.Error("expired entry still deduplicated")
	}
}
