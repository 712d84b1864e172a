package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Estimate EstimateConfig `mapstructure:"estimate"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	CORSOrigins    string        `mapstructure:"cors_origins"`
	WSPollInterval time.Duration `mapstructure:"ws_poll_interval"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, pgx or memory
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type LLMConfig struct {
	APIKey          string         `mapstructure:"api_key"`
	BaseURL         string         `mapstructure:"base_url"`
	Model           string         `mapstructure:"model"`
	MaxTokens       int            `mapstructure:"max_tokens"`
	Temperature     float32        `mapstructure:"temperature"`
	MaxPromptTokens int            `mapstructure:"max_prompt_tokens"`
	Timeouts        TimeoutsConfig `mapstructure:"timeouts"`
	Retry           RetryConfig    `mapstructure:"retry"`
	Breaker         BreakerConfig  `mapstructure:"breaker"`
}

// TimeoutsConfig holds the per-call-kind timeout policy
type TimeoutsConfig struct {
	Chat          time.Duration `mapstructure:"chat"`
	Transcription time.Duration `mapstructure:"transcription"`
	Speech        time.Duration `mapstructure:"speech"`
	Intent        time.Duration `mapstructure:"intent"`
	Functionality time.Duration `mapstructure:"functionality"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type EstimateConfig struct {
	HourlyRate           float64 `mapstructure:"hourly_rate"`
	MinimumProjectCost   float64 `mapstructure:"minimum_project_cost"`
	CustomAllowanceHours float64 `mapstructure:"custom_allowance_hours"`
	MinimalHours         float64 `mapstructure:"minimal_hours"`
	Currency             string  `mapstructure:"currency"`
}

type TelegramConfig struct {
	BotToken           string  `mapstructure:"bot_token"`
	ReviewerChatID     int64   `mapstructure:"reviewer_chat_id"`
	AllowedReviewerIDs []int64 `mapstructure:"allowed_reviewer_ids"`
	Mode               string  `mapstructure:"mode"` // webhook, polling or disabled
	WebhookSecret      string  `mapstructure:"webhook_secret"`
	EditURLBase        string  `mapstructure:"edit_url_base"`
}

type AuthConfig struct {
	SessionSecret string        `mapstructure:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	AdminKeyHash  string        `mapstructure:"admin_key_hash"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Load reads .env, the config file and environment overrides
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".sozdaibota"))
	}

	setDefaults(v)

	v.SetEnvPrefix("SOZDAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("server.ws_poll_interval", 3*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sozdaibota")
	v.SetDefault("database.database", "sozdaibota")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_prompt_tokens", 6000)
	v.SetDefault("llm.timeouts.chat", 30*time.Second)
	v.SetDefault("llm.timeouts.transcription", 60*time.Second)
	v.SetDefault("llm.timeouts.speech", 30*time.Second)
	v.SetDefault("llm.timeouts.intent", 15*time.Second)
	v.SetDefault("llm.timeouts.functionality", 90*time.Second)
	v.SetDefault("llm.retry.base_delay", time.Second)
	v.SetDefault("llm.retry.max_delay", 10*time.Second)
	v.SetDefault("llm.retry.max_retries", 3)
	v.SetDefault("llm.breaker.failure_threshold", 5)
	v.SetDefault("llm.breaker.cooldown", 30*time.Second)

	v.SetDefault("estimate.hourly_rate", 2000.0)
	v.SetDefault("estimate.minimum_project_cost", 15000.0)
	v.SetDefault("estimate.custom_allowance_hours", 20.0)
	v.SetDefault("estimate.minimal_hours", 40.0)
	v.SetDefault("estimate.currency", "RUB")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.reviewer_chat_id", 0)
	v.SetDefault("telegram.mode", "disabled")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.edit_url_base", "http://localhost:8080/admin")

	v.SetDefault("auth.session_secret", "change-me-in-production")
	v.SetDefault("auth.session_ttl", 30*24*time.Hour)
	v.SetDefault("auth.admin_key_hash", "")

	v.SetDefault("cache.ttl", 2*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func loadEnvOverrides(cfg *Config) {
	// Conventional names used by docker-compose and hosting panels
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = token
	}
	if chatID := os.Getenv("TELEGRAM_ADMIN_CHAT_ID"); chatID != "" && cfg.Telegram.ReviewerChatID == 0 {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Telegram.ReviewerChatID = id
		}
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}
}
