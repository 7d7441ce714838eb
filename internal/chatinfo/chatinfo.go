// Package chatinfo keeps cached chat display names fresh.
package chatinfo

import (
	"context"
	"log/slog"
	"time"

	"tg_forwarder/internal/storage"
	"tg_forwarder/internal/telegram"
)

// Refresher re-resolves every known chat once a day and updates stale
// display names.
type Refresher struct {
	store storage.Storage
	user  telegram.UserClient
	at    string
	loc   *time.Location
	log   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Refresher firing daily at the given HH:MM in loc.
func New(store storage.Storage, user telegram.UserClient, at string, loc *time.Location, log *slog.Logger) *Refresher {
	if loc == nil {
		loc = time.UTC
	}
	return &Refresher{
		store: store,
		user:  user,
		at:    at,
		loc:   loc,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Run blocks until the context is cancelled, refreshing at the daily mark.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		if err := r.sleep(ctx, r.nextFire().Sub(r.now())); err != nil {
			return err
		}
		if err := r.RefreshAll(ctx); err != nil {
			r.log.Error("chat refresh failed", "error", err)
		}
	}
}

func (r *Refresher) nextFire() time.Time {
	t, err := time.Parse("15:04", r.at)
	if err != nil {
		t, _ = time.Parse("15:04", "03:00")
	}
	now := r.now().In(r.loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, r.loc)
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}

// RefreshAll re-resolves every chat and persists changed names. Failures
// on single chats are logged and skipped.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	chats, err := r.store.ListChats(ctx)
	if err != nil {
		return err
	}
	for _, chat := range chats {
		entity, err := r.user.GetEntity(ctx, chat.TelegramID)
		if err != nil {
			r.log.Warn("resolve chat failed", "telegram_id", chat.TelegramID, "error", err)
			continue
		}
		name := entity.DisplayName()
		if name == "" || name == chat.DisplayName {
			continue
		}
		if err := r.store.SetChatDisplayName(ctx, chat.ID, name); err != nil {
			r.log.Warn("update chat name failed", "chat_id", chat.ID, "error", err)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
