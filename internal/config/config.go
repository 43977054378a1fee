package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 配信元の一覧など実行中に変わりうる設定は SourceFile が扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Sources
	SourcesFile string

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// Collect
	CollectInterval      time.Duration
	CollectTimeout       time.Duration
	CollectMaxSize       int64
	CollectMaxConcurrent int
	NewsAPIKey           string

	// Posting
	PostMinInterval    time.Duration
	PostMaxInterval    time.Duration
	QueueCapacity      int
	UrgentPostDelay    time.Duration
	PublishTimeout     time.Duration
	PublishMinInterval time.Duration
	SummaryBaseLength  int
	SummaryEnabled     bool

	// Dedup
	DedupEnabled       bool
	DedupThreshold     float64
	DedupTitleWeight   float64
	DedupContentWeight float64

	// Gate
	GateMaxUrgencyCalls    int
	GateMaxFreshnessCalls  int
	GateCallDelay          time.Duration
	GateRateLimitBackoff   time.Duration
	GateCallTimeout        time.Duration
	GateCacheTTL           time.Duration
	GateCacheBackend       string
	FreshnessMaxAgeMinutes int

	// LLM
	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMEndpoint string

	// Telegram
	TelegramBotToken  string
	TelegramChannelID string
	TelegramLinkLabel string

	// Ledger
	LedgerRetentionDays int
	LedgerMaxRetries    int
	LedgerRetryDelay    time.Duration
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（デフォルト .env）が存在する場合は先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SourcesFile = getEnvString("SOURCES_FILE", "sources.yaml")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	cfg.CollectInterval = getEnvDuration("COLLECT_INTERVAL", 10*time.Minute)
	cfg.CollectTimeout = getEnvDuration("COLLECT_TIMEOUT", 15*time.Second)
	cfg.CollectMaxSize = getEnvInt64("COLLECT_MAX_SIZE", 5242880)
	cfg.CollectMaxConcurrent = getEnvInt("COLLECT_MAX_CONCURRENT", 8)
	cfg.NewsAPIKey = getEnvString("NEWSAPI_KEY", "")

	cfg.PostMinInterval = getEnvDuration("POST_MIN_INTERVAL", 5*time.Minute)
	cfg.PostMaxInterval = getEnvDuration("POST_MAX_INTERVAL", 7*time.Minute)
	cfg.QueueCapacity = getEnvInt("QUEUE_CAPACITY", 50)
	cfg.UrgentPostDelay = getEnvDuration("URGENT_POST_DELAY", 2*time.Second)
	cfg.PublishTimeout = getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second)
	cfg.PublishMinInterval = getEnvDuration("PUBLISH_MIN_INTERVAL", 1*time.Second)
	cfg.SummaryBaseLength = getEnvInt("SUMMARY_BASE_LENGTH", 500)
	cfg.SummaryEnabled = getEnvBool("SUMMARY_ENABLED", false)

	cfg.DedupEnabled = getEnvBool("DEDUP_ENABLED", true)
	cfg.DedupThreshold = getEnvFloat("DEDUP_THRESHOLD", 0.7)
	cfg.DedupTitleWeight = getEnvFloat("DEDUP_TITLE_WEIGHT", 0.6)
	cfg.DedupContentWeight = getEnvFloat("DEDUP_CONTENT_WEIGHT", 0.4)

	cfg.GateMaxUrgencyCalls = getEnvInt("GATE_MAX_URGENCY_CALLS", 10)
	cfg.GateMaxFreshnessCalls = getEnvInt("GATE_MAX_FRESHNESS_CALLS", 15)
	cfg.GateCallDelay = getEnvDuration("GATE_CALL_DELAY", 800*time.Millisecond)
	cfg.GateRateLimitBackoff = getEnvDuration("GATE_RATE_LIMIT_BACKOFF", 5*time.Second)
	cfg.GateCallTimeout = getEnvDuration("GATE_CALL_TIMEOUT", 20*time.Second)
	cfg.GateCacheTTL = getEnvDuration("GATE_CACHE_TTL", 24*time.Hour)
	cfg.GateCacheBackend = getEnvString("GATE_CACHE_BACKEND", "postgres")
	cfg.FreshnessMaxAgeMinutes = getEnvInt("FRESHNESS_MAX_AGE_MINUTES", 120)

	cfg.LLMProvider = getEnvString("LLM_PROVIDER", "groq")
	cfg.LLMAPIKey = getEnvString("LLM_API_KEY", "")
	cfg.LLMModel = getEnvString("LLM_MODEL", "")
	cfg.LLMEndpoint = getEnvString("LLM_ENDPOINT", "")

	cfg.TelegramBotToken = getEnvString("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChannelID = getEnvString("TELEGRAM_CHANNEL_ID", "")
	cfg.TelegramLinkLabel = getEnvString("TELEGRAM_LINK_LABEL", "Читать полностью")

	cfg.LedgerRetentionDays = getEnvInt("LEDGER_RETENTION_DAYS", 30)
	cfg.LedgerMaxRetries = getEnvInt("LEDGER_MAX_RETRIES", 3)
	cfg.LedgerRetryDelay = getEnvDuration("LEDGER_RETRY_DELAY", 200*time.Millisecond)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// PublishingEnabled はTelegramの送信先が設定されているかを返す。
func (c *Config) PublishingEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChannelID != ""
}

// ClassifierEnabled はLLMのAPIキーが設定されているかを返す。
func (c *Config) ClassifierEnabled() bool {
	return c.LLMAPIKey != ""
}

// validate は値の範囲を検証する。問題はまとめて1つのエラーとして返す。
func (c *Config) validate() error {
	var problems []string

	for name, v := range map[string]float64{
		"DEDUP_THRESHOLD":      c.DedupThreshold,
		"DEDUP_TITLE_WEIGHT":   c.DedupTitleWeight,
		"DEDUP_CONTENT_WEIGHT": c.DedupContentWeight,
	} {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0,1]: %v", name, v))
		}
	}
	if c.PostMinInterval <= 0 || c.PostMaxInterval < c.PostMinInterval {
		problems = append(problems, fmt.Sprintf("POST_MIN_INTERVAL/POST_MAX_INTERVAL invalid: %v/%v", c.PostMinInterval, c.PostMaxInterval))
	}
	if c.CollectInterval <= 0 {
		problems = append(problems, "COLLECT_INTERVAL must be positive")
	}
	if c.QueueCapacity <= 0 {
		problems = append(problems, "QUEUE_CAPACITY must be positive")
	}
	if c.CollectMaxConcurrent <= 0 {
		problems = append(problems, "COLLECT_MAX_CONCURRENT must be positive")
	}
	switch c.GateCacheBackend {
	case "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("GATE_CACHE_BACKEND must be postgres or memory: %q", c.GateCacheBackend))
	}
	switch c.LLMProvider {
	case "groq", "gemini":
	default:
		problems = append(problems, fmt.Sprintf("LLM_PROVIDER must be groq or gemini: %q", c.LLMProvider))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// loadDotEnv は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
