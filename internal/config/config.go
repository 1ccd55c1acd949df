package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	APIToken string

	// LLM
	GeminiAPIKey  string
	GeminiModel   string
	LLMTimeout    time.Duration
	LLMMaxRetries int
	LLMRetryDelay time.Duration
	PromptBudget  int // プロンプト全体の文字数上限
	DraftMaxLen   int // 生成された草稿の文字数上限

	// SMTP
	SMTPServer   string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchMaxItems      int // ソース1件あたりの最大取得件数

	// Pipeline
	PipelineTimeout time.Duration
	MaxItems        int           // 正規化後の最大項目数
	RecencyWindow   time.Duration // この期間より古い項目は破棄

	// Delivery
	SendMaxConcurrent int
	SendRatePerSec    float64
	SendTimeout       time.Duration

	// Worker
	SendLoopInterval time.Duration

	// Ranking（オプションのYAMLファイル）
	RankingConfigPath string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.APIToken = os.Getenv("API_TOKEN")
	if cfg.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	if cfg.SMTPUsername == "" {
		missing = append(missing, "SMTP_USERNAME")
	}

	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	if cfg.SMTPPassword == "" {
		missing = append(missing, "SMTP_PASSWORD")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-2.0-flash")
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", 60*time.Second)
	cfg.LLMMaxRetries = getEnvInt("LLM_MAX_RETRIES", 3)
	cfg.LLMRetryDelay = getEnvDuration("LLM_RETRY_DELAY", 5*time.Second)
	cfg.PromptBudget = getEnvInt("PROMPT_BUDGET", 24000)
	cfg.DraftMaxLen = getEnvInt("DRAFT_MAX_LEN", 100000)

	cfg.SMTPServer = getEnvString("SMTP_SERVER", "smtp.gmail.com")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.FromEmail = getEnvString("FROM_EMAIL", cfg.SMTPUsername)
	cfg.FromName = getEnvString("FROM_NAME", "CreatorPulse")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 8)
	cfg.FetchMaxItems = getEnvInt("FETCH_MAX_ITEMS", 20)

	cfg.PipelineTimeout = getEnvDuration("PIPELINE_TIMEOUT", 2*time.Minute)
	cfg.MaxItems = getEnvInt("MAX_ITEMS", 60)
	cfg.RecencyWindow = getEnvDuration("RECENCY_WINDOW", 72*time.Hour)

	cfg.SendMaxConcurrent = getEnvInt("SEND_MAX_CONCURRENT", 4)
	cfg.SendRatePerSec = getEnvFloat("SEND_RATE_PER_SEC", 2.0)
	cfg.SendTimeout = getEnvDuration("SEND_TIMEOUT", 30*time.Second)

	cfg.SendLoopInterval = getEnvDuration("SEND_LOOP_INTERVAL", time.Minute)

	cfg.RankingConfigPath = getEnvString("RANKING_CONFIG_PATH", "")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
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
