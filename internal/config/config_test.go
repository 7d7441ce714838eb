package config

import (
	"testing"
	"time"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatal("missing token accepted")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMINS", "")
	t.Setenv("USER_ID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultTimezone != "Asia/Shanghai" {
		t.Errorf("timezone = %q", cfg.DefaultTimezone)
	}
	if cfg.RSSHost != "127.0.0.1" || cfg.RSSPort != 8000 {
		t.Errorf("rss host = %q, port = %d", cfg.RSSHost, cfg.RSSPort)
	}
	if cfg.RSSBaseURL != "http://127.0.0.1:8000" {
		t.Errorf("rss base url = %q", cfg.RSSBaseURL)
	}
	if cfg.RSSMediaBaseURL != cfg.RSSBaseURL {
		t.Errorf("media base url = %q", cfg.RSSMediaBaseURL)
	}
	if cfg.DefaultSummaryTime != "07:00" || cfg.DefaultMaxMediaSize != 10 {
		t.Errorf("summary defaults: %q, %v", cfg.DefaultSummaryTime, cfg.DefaultMaxMediaSize)
	}
	if cfg.SummaryBatchSize != 20 || cfg.SummaryBatchDelay != 2*time.Second {
		t.Errorf("batch config: %d, %v", cfg.SummaryBatchSize, cfg.SummaryBatchDelay)
	}
	if cfg.BotMessageDeleteTimeout != 300*time.Second {
		t.Errorf("delete timeout = %v", cfg.BotMessageDeleteTimeout)
	}
	if cfg.ChatUpdateTime != "03:00" {
		t.Errorf("chat update time = %q", cfg.ChatUpdateTime)
	}
	if len(cfg.Admins) != 0 {
		t.Errorf("admins = %v", cfg.Admins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DEFAULT_TIMEZONE", "Europe/Berlin")
	t.Setenv("RSS_HOST", "0.0.0.0")
	t.Setenv("RSS_PORT", "9100")
	t.Setenv("RSS_BASE_URL", "https://feeds.example.com")
	t.Setenv("SUMMARY_BATCH_DELAY", "5")
	t.Setenv("DEFAULT_MAX_MEDIA_SIZE", "25.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultTimezone != "Europe/Berlin" {
		t.Errorf("timezone = %q", cfg.DefaultTimezone)
	}
	if cfg.RSSBaseURL != "https://feeds.example.com" {
		t.Errorf("rss base url = %q", cfg.RSSBaseURL)
	}
	if cfg.RSSMediaBaseURL != "https://feeds.example.com" {
		t.Errorf("media base url = %q", cfg.RSSMediaBaseURL)
	}
	if cfg.SummaryBatchDelay != 5*time.Second {
		t.Errorf("batch delay = %v", cfg.SummaryBatchDelay)
	}
	if cfg.DefaultMaxMediaSize != 25.5 {
		t.Errorf("max media size = %v", cfg.DefaultMaxMediaSize)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("location = %v", cfg.Location())
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DEFAULT_TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatal("invalid timezone accepted")
	}
}

func TestAdminList(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMINS", "100, 200,300")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Admins) != 3 {
		t.Fatalf("admins = %v", cfg.Admins)
	}
	if !cfg.IsAdmin(200) {
		t.Error("listed admin rejected")
	}
	if cfg.IsAdmin(999) {
		t.Error("stranger accepted")
	}
}

func TestAdminFallsBackToUserID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMINS", "")
	t.Setenv("USER_ID", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Admins) != 1 || !cfg.IsAdmin(42) {
		t.Errorf("admins = %v", cfg.Admins)
	}
}

func TestAdminListRejectsGarbage(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMINS", "100,notanumber")
	if _, err := Load(); err == nil {
		t.Fatal("invalid admin list accepted")
	}
}
