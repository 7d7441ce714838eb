// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default prompts used when a rule has none of its own.
const (
	DefaultAIPrompt      = "Process the following message and return only the result:\n\n{Message}"
	DefaultSummaryPrompt = "Summarize the following messages into a concise digest:\n\n{Message}"
)

// Config holds the application configuration.
type Config struct {
	ProjectName      string
	TelegramBotToken string
	DatabasePath     string
	TempPath         string
	LogLevel         string
	DefaultTimezone  string

	RSSEnabled      bool
	RSSHost         string
	RSSPort         int
	RSSDataPath     string
	RSSMediaPath    string
	RSSBaseURL      string
	RSSMediaBaseURL string

	RulesPerPage        int
	PushChannelPerPage  int
	KeywordsPerPage     int
	AIModelsPerPage     int
	SummaryTimeRows     int
	SummaryTimeCols     int
	DelayTimeRows       int
	DelayTimeCols       int
	MediaSizeRows       int
	MediaSizeCols       int
	MediaExtensionsRows int
	MediaExtensionsCols int

	DefaultAIModel       string
	DefaultAIPrompt      string
	DefaultSummaryPrompt string
	DefaultSummaryTime   string
	DefaultMaxMediaSize  float64

	SummaryBatchSize  int
	SummaryBatchDelay time.Duration

	OpenAIBaseURL   string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	Admins []int64

	BotMessageDeleteTimeout time.Duration
	UserMessageDeleteEnable bool

	ChatUpdateTime string
}

// Load reads configuration from the environment, consulting an optional
// .env file first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		ProjectName:      envStr("PROJECT_NAME", "tg_forwarder"),
		TelegramBotToken: token,
		DatabasePath:     envStr("DATABASE_PATH", "./data/db/forward.db"),
		TempPath:         envStr("TEMP_PATH", "./data/temp"),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		DefaultTimezone:  envStr("DEFAULT_TIMEZONE", "Asia/Shanghai"),

		RSSEnabled:      envBool("RSS_ENABLED", false),
		RSSHost:         envStr("RSS_HOST", "127.0.0.1"),
		RSSPort:         envInt("RSS_PORT", 8000),
		RSSDataPath:     envStr("RSS_DATA_PATH", "./data/rss/data"),
		RSSMediaPath:    envStr("RSS_MEDIA_PATH", "./data/rss/media"),

		RulesPerPage:        envInt("RULES_PER_PAGE", 20),
		PushChannelPerPage:  envInt("PUSH_CHANNEL_PER_PAGE", 10),
		KeywordsPerPage:     envInt("KEYWORDS_PER_PAGE", 50),
		AIModelsPerPage:     envInt("AI_MODELS_PER_PAGE", 10),
		SummaryTimeRows:     envInt("SUMMARY_TIME_ROWS", 6),
		SummaryTimeCols:     envInt("SUMMARY_TIME_COLS", 4),
		DelayTimeRows:       envInt("DELAY_TIME_ROWS", 2),
		DelayTimeCols:       envInt("DELAY_TIME_COLS", 5),
		MediaSizeRows:       envInt("MEDIA_SIZE_ROWS", 2),
		MediaSizeCols:       envInt("MEDIA_SIZE_COLS", 5),
		MediaExtensionsRows: envInt("MEDIA_EXTENSIONS_ROWS", 5),
		MediaExtensionsCols: envInt("MEDIA_EXTENSIONS_COLS", 4),

		DefaultAIModel:       envStr("DEFAULT_AI_MODEL", "gpt-4o-mini"),
		DefaultAIPrompt:      envStr("DEFAULT_AI_PROMPT", DefaultAIPrompt),
		DefaultSummaryPrompt: envStr("DEFAULT_SUMMARY_PROMPT", DefaultSummaryPrompt),
		DefaultSummaryTime:   envStr("DEFAULT_SUMMARY_TIME", "07:00"),
		DefaultMaxMediaSize:  envFloat("DEFAULT_MAX_MEDIA_SIZE", 10),

		SummaryBatchSize:  envInt("SUMMARY_BATCH_SIZE", 20),
		SummaryBatchDelay: time.Duration(envInt("SUMMARY_BATCH_DELAY", 2)) * time.Second,

		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),

		BotMessageDeleteTimeout: time.Duration(envInt("BOT_MESSAGE_DELETE_TIMEOUT", 300)) * time.Second,
		UserMessageDeleteEnable: envBool("USER_MESSAGE_DELETE_ENABLE", false),

		ChatUpdateTime: envStr("CHAT_UPDATE_TIME", "03:00"),
	}

	cfg.RSSBaseURL = envStr("RSS_BASE_URL", fmt.Sprintf("http://%s:%d", cfg.RSSHost, cfg.RSSPort))
	cfg.RSSMediaBaseURL = envStr("RSS_MEDIA_BASE_URL", cfg.RSSBaseURL)

	admins, err := parseIDList(os.Getenv("ADMINS"))
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		admins, err = parseIDList(os.Getenv("USER_ID"))
		if err != nil {
			return nil, err
		}
	}
	cfg.Admins = admins

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}

	return cfg, nil
}

// Location returns the configured timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsAdmin checks whether a user ID is in the admin allow list. An empty
// list permits nobody.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(os.Getenv(name))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
