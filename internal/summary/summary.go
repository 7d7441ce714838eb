// Package summary runs the per-rule daily digest tasks.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tg_forwarder/internal/ai"
	"tg_forwarder/internal/model"
	"tg_forwarder/internal/storage"
	"tg_forwarder/internal/telegram"
)

// maxPartLength keeps each digest part under the Telegram message limit
// with headroom for the header.
const maxPartLength = 3796

// maxSummarizing bounds how many rules may summarize in parallel, so
// summaries cannot starve the forward path.
const maxSummarizing = 2

// sendAttempts is the total tries per digest part, flood waits included.
const sendAttempts = 2

// Config carries the scheduler's resolved defaults.
type Config struct {
	Timezone      *time.Location
	DefaultModel  string
	DefaultPrompt string
	DefaultTime   string
	BatchSize     int
	BatchDelay    time.Duration
}

// Scheduler owns one recurring task per summary-enabled rule.
type Scheduler struct {
	store storage.Storage
	io    *telegram.IO
	ai    *ai.Registry
	cfg   Config
	log   *slog.Logger

	mu    sync.Mutex
	tasks map[int64]context.CancelFunc
	base  context.Context

	sem   chan struct{}
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Scheduler.
func New(store storage.Storage, io *telegram.IO, registry *ai.Registry, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 2 * time.Second
	}
	if cfg.DefaultTime == "" {
		cfg.DefaultTime = "07:00"
	}
	return &Scheduler{
		store: store,
		io:    io,
		ai:    registry,
		cfg:   cfg,
		log:   log,
		tasks: make(map[int64]context.CancelFunc),
		sem:   make(chan struct{}, maxSummarizing),
		sleep: sleepCtx,
		now:   time.Now,
	}
}

// Run loads every summary-enabled rule and schedules it, then blocks
// until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	// Digests page source history through the user session; with the bot
	// side only there is nothing to schedule.
	if s.io.User == nil {
		s.log.Warn("summaries disabled", "error", telegram.ErrNoUserSession)
		<-ctx.Done()
		s.cancelAll()
		return ctx.Err()
	}

	rules, err := s.store.ListSummaryRules(ctx)
	if err != nil {
		return fmt.Errorf("list summary rules: %w", err)
	}
	for i := range rules {
		s.Schedule(&rules[i])
	}
	<-ctx.Done()
	s.cancelAll()
	return ctx.Err()
}

// Schedule starts (or restarts) the daily task for a rule. Rules without
// summary_enabled only get any existing task cancelled.
func (s *Scheduler) Schedule(rule *model.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.tasks[rule.ID]; ok {
		cancel()
		delete(s.tasks, rule.ID)
	}
	if !rule.SummaryEnabled {
		return
	}
	base := s.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	s.tasks[rule.ID] = cancel

	ruleID := rule.ID
	go s.loop(ctx, ruleID)
}

// Reschedule reloads the rule and re-arms its task, picking up a changed
// summary_time.
func (s *Scheduler) Reschedule(ctx context.Context, ruleID int64) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		s.log.Error("reschedule: load rule", "rule_id", ruleID, "error", err)
		return
	}
	s.Schedule(rule)
}

// Cancel stops the task for a rule.
func (s *Scheduler) Cancel(ruleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.tasks[ruleID]; ok {
		cancel()
		delete(s.tasks, ruleID)
	}
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.tasks {
		cancel()
		delete(s.tasks, id)
	}
}

func (s *Scheduler) loop(ctx context.Context, ruleID int64) {
	for {
		rule, err := s.store.GetRule(ctx, ruleID)
		if err != nil {
			s.log.Error("summary loop: load rule", "rule_id", ruleID, "error", err)
			return
		}
		if !rule.SummaryEnabled {
			return
		}

		fireAt := s.nextFire(rule.SummaryTime)
		if err := s.sleep(ctx, fireAt.Sub(s.now())); err != nil {
			return
		}
		if err := s.RunNow(ctx, rule); err != nil {
			s.log.Error("summary run failed", "rule_id", ruleID, "error", err)
		}
	}
}

// nextFire returns the next occurrence of summaryTime in the configured
// timezone.
func (s *Scheduler) nextFire(summaryTime string) time.Time {
	at := s.todayAt(summaryTime)
	if !at.After(s.now()) {
		at = at.Add(24 * time.Hour)
	}
	return at
}

func (s *Scheduler) todayAt(summaryTime string) time.Time {
	t, err := time.Parse("15:04", summaryTime)
	if err != nil {
		t, _ = time.Parse("15:04", s.cfg.DefaultTime)
	}
	now := s.now().In(s.cfg.Timezone)
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, s.cfg.Timezone)
}

// RunNow summarizes the last 24 hours for one rule immediately. The
// global semaphore bounds concurrent runs.
func (s *Scheduler) RunNow(ctx context.Context, rule *model.Rule) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	sourceChat, err := s.store.GetChat(ctx, rule.SourceChatID)
	if err != nil {
		return fmt.Errorf("load source chat: %w", err)
	}
	targetChat, err := s.store.GetChat(ctx, rule.TargetChatID)
	if err != nil {
		return fmt.Errorf("load target chat: %w", err)
	}

	end := s.now().In(s.cfg.Timezone)
	start := s.todayAt(rule.SummaryTime).Add(-24 * time.Hour)

	texts, err := s.collect(ctx, sourceChat, start, end)
	if err != nil {
		return fmt.Errorf("collect messages: %w", err)
	}
	if len(texts) == 0 {
		s.log.Info("summary: no messages in window", "rule_id", rule.ID)
		return nil
	}

	digest, err := s.summarize(ctx, rule, texts)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	header := fmt.Sprintf("%s — %.0fh summary\n%s — %s\n%d messages\n\n",
		sourceChat.DisplayName,
		end.Sub(start).Hours(),
		start.Format("2006-01-02 15:04"),
		end.Format("2006-01-02 15:04"),
		len(texts))

	return s.deliver(ctx, rule, targetChat, header+digest)
}

// collect pages the source history backwards and keeps non-empty texts
// inside [start, end], stopping at the first message older than start.
func (s *Scheduler) collect(ctx context.Context, sourceChat *model.Chat, start, end time.Time) ([]string, error) {
	if s.io.User == nil {
		return nil, telegram.ErrNoUserSession
	}
	candidates := telegram.CandidateIDs(sourceChat.TelegramID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("invalid source chat id %q", sourceChat.TelegramID)
	}
	chatID := candidates[0]

	var texts []string
	var maxID int64
	for {
		msgs, err := s.io.User.IterMessages(ctx, chatID, telegram.IterOptions{
			Limit: s.cfg.BatchSize,
			MaxID: maxID,
		})
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}

		done := false
		for _, m := range msgs {
			if m.Date.Before(start) {
				done = true
				break
			}
			if m.Text != "" && !m.Date.After(end) {
				texts = append(texts, m.Text)
			}
		}
		if done || len(msgs) < s.cfg.BatchSize {
			break
		}
		maxID = msgs[len(msgs)-1].ID
		if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
			return nil, err
		}
	}

	// Pages arrive newest first; the digest reads better chronologically.
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return texts, nil
}

func (s *Scheduler) summarize(ctx context.Context, rule *model.Rule, texts []string) (string, error) {
	modelName := rule.AIModel
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	prompt := rule.SummaryPrompt
	if prompt == "" {
		prompt = s.cfg.DefaultPrompt
	}
	return s.ai.Process(ctx, ai.Request{
		Model:  modelName,
		Prompt: ai.RenderPrompt(prompt, strings.Join(texts, "\n")),
	})
}

// deliver splits the digest and sends the parts sequentially, pinning the
// first one when the rule asks for it.
func (s *Scheduler) deliver(ctx context.Context, rule *model.Rule, targetChat *model.Chat, digest string) error {
	candidates := telegram.CandidateIDs(targetChat.TelegramID)
	if len(candidates) == 0 {
		return fmt.Errorf("invalid target chat id %q", targetChat.TelegramID)
	}
	chatID := candidates[0]
	client := s.io.SenderFor(rule)

	var first *telegram.Message
	for _, part := range SplitMessage(digest, maxPartLength) {
		sent, err := s.sendPart(ctx, client, chatID, part)
		if err != nil {
			return err
		}
		if first == nil {
			first = sent
		}
	}

	if rule.PinSummary && first != nil {
		if err := client.PinMessage(ctx, chatID, first.ID); err != nil {
			s.log.Warn("pin summary failed", "rule_id", rule.ID, "error", err)
		}
	}
	return nil
}

// sendPart sends one part as Markdown, retrying once as plain text on a
// parse failure and honoring flood waits up to the attempt budget.
func (s *Scheduler) sendPart(ctx context.Context, client telegram.BotClient, chatID int64, part string) (*telegram.Message, error) {
	mode := model.MessageMarkdown
	var lastErr error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		sent, err := client.SendMessage(ctx, chatID, part, telegram.SendOptions{ParseMode: mode})
		if err == nil {
			return sent, nil
		}
		lastErr = err

		var fw *telegram.FloodWaitError
		if errors.As(err, &fw) {
			if serr := s.sleep(ctx, time.Duration(fw.Seconds)*time.Second); serr != nil {
				return nil, serr
			}
			continue
		}
		mode = model.MessagePlain
	}
	return nil, fmt.Errorf("send digest part: %w", lastErr)
}

// SplitMessage cuts text into parts of at most limit runes, preferring to
// break on newlines.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	return parts
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
