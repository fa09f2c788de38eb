package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"receipt-bot/internal/common"
)

// Config holds all application configuration.
type Config struct {
	Telegram TelegramConfig
	Database DatabaseConfig
	LLM      LLMConfig
	OCR      OCRConfig
	Storage  StorageConfig
	Queue    QueueConfig
}

// TelegramConfig holds bot transport configuration.
type TelegramConfig struct {
	Token          string
	MaxReplyLen    int           // replies longer than this are truncated
	PhotoDebounce  time.Duration // media-group settle time before processing
	SeenCacheLimit int           // bounded duplicate-suppression set size
}

// DatabaseConfig holds storage configuration for both drivers.
type DatabaseConfig struct {
	Driver          string // "postgres" | "sqlite"
	DSN             string
	SQLitePath      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// LLMConfig selects and configures the extraction/planning provider.
type LLMConfig struct {
	Provider    string // "openai" | "gemini"
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OCRConfig configures the tesseract stage.
type OCRConfig struct {
	Tesseract     string
	TesseractLang string // default "heb+eng"
	TessdataDir   string
	PSM           int
	Enabled       bool
}

// StorageConfig configures the receipt image object store.
type StorageConfig struct {
	RootDir string
}

// QueueConfig bounds the async processing queue.
type QueueConfig struct {
	Capacity    int
	MaxAttempts int
}

// Load reads configuration from the environment. A .env file is honored
// when present (development convenience, same as production env vars).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Telegram: TelegramConfig{
			Token:          getEnv("TELEGRAM_BOT_TOKEN", ""),
			MaxReplyLen:    getEnvAsInt("TELEGRAM_MAX_REPLY_LEN", 4000),
			PhotoDebounce:  getEnvAsDuration("TELEGRAM_PHOTO_DEBOUNCE", 1200*time.Millisecond),
			SeenCacheLimit: getEnvAsInt("TELEGRAM_SEEN_CACHE_LIMIT", 1000),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("STORAGE_DRIVER", "postgres"),
			DSN:             getEnv("DB_URL", ""),
			SQLitePath:      getEnv("SQLITE_PATH", "receipts.db"),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			APIKey:      getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
		},
		OCR: OCRConfig{
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "heb+eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			PSM:           getEnvAsInt("TESSERACT_PSM", 6),
			Enabled:       getEnvAsBool("OCR_ENABLED", true),
		},
		Storage: StorageConfig{
			RootDir: getEnv("IMAGE_STORE_DIR", "./images"),
		},
		Queue: QueueConfig{
			Capacity:    getEnvAsInt("QUEUE_CAPACITY", 64),
			MaxAttempts: getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
		},
	}
}

// Validate fails fast on configuration the process cannot run without.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return common.NewAppError("CONFIG_ERROR", "TELEGRAM_BOT_TOKEN is required", common.ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return common.NewAppError("CONFIG_ERROR", "LLM_API_KEY is required", common.ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return common.NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres driver", common.ErrInvalidInput)
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return common.NewAppError("CONFIG_ERROR", "SQLITE_PATH is required for the sqlite driver", common.ErrInvalidInput)
		}
	default:
		return common.NewAppError("CONFIG_ERROR", "STORAGE_DRIVER must be postgres or sqlite", common.ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return common.NewAppError("CONFIG_ERROR", "LLM_PROVIDER must be openai or gemini", common.ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
