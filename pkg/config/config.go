package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Facts      FactsConfig      `mapstructure:"facts"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Log        LogConfig        `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SummarizerConfig struct {
	MessageThreshold int  `mapstructure:"message_threshold"`
	KeepRecentCount  int  `mapstructure:"keep_recent_count"`
	ContextLimit     int  `mapstructure:"context_limit"`
	AutoSummarize    bool `mapstructure:"auto_summarize"`
}

type FactsConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	MinImportance float64 `mapstructure:"min_importance"`
	Window        int     `mapstructure:"window"`
}

type AnalyticsConfig struct {
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queue_size"`
	RetentionDays int `mapstructure:"retention_days"`
}

type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type SchedulerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Aggregate string `mapstructure:"aggregate"`
	Cleanup   string `mapstructure:"cleanup"`
}

type TelegramConfig struct {
	Token        string  `mapstructure:"token"`
	AllowedUsers []int64 `mapstructure:"allowed_users"`
}

type LogConfig struct {
	Debug  bool   `mapstructure:"debug"`
	Format string `mapstructure:"format"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   DriverPostgres,
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "memory")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "memory.db")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.timeout", 30*time.Second)

	v.SetDefault("summarizer.message_threshold", 20)
	v.SetDefault("summarizer.keep_recent_count", 10)
	v.SetDefault("summarizer.context_limit", 200)
	v.SetDefault("summarizer.auto_summarize", true)

	v.SetDefault("facts.min_confidence", 0.7)
	v.SetDefault("facts.min_importance", 0.6)
	v.SetDefault("facts.window", 20)

	v.SetDefault("analytics.workers", 2)
	v.SetDefault("analytics.queue_size", 1024)
	v.SetDefault("analytics.retention_days", 30)

	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.aggregate", "10 0 * * *")
	v.SetDefault("scheduler.cleanup", "30 3 * * *")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.allowed_users", []int64{})

	v.SetDefault("log.debug", false)
	v.SetDefault("log.format", "console")
}

// LoadConfig reads the YAML file at path, when given, on top of the
// defaults. Environment variables override file values: nested keys use
// underscores (SUMMARIZER_MESSAGE_THRESHOLD), and DATABASE_URL,
// OPENAI_API_KEY and TELEGRAM_TOKEN are honored as well.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.SQLitePath = config.Database.SQLitePath
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values the components can't default on their own.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Summarizer.KeepRecentCount > c.Summarizer.MessageThreshold {
		return fmt.Errorf("summarizer.keep_recent_count (%d) exceeds summarizer.message_threshold (%d)",
			c.Summarizer.KeepRecentCount, c.Summarizer.MessageThreshold)
	}
	if c.Summarizer.ContextLimit < c.Summarizer.MessageThreshold {
		return fmt.Errorf("summarizer.context_limit (%d) is below summarizer.message_threshold (%d)",
			c.Summarizer.ContextLimit, c.Summarizer.MessageThreshold)
	}
	for name, v := range map[string]float64{
		"facts.min_confidence": c.Facts.MinConfidence,
		"facts.min_importance": c.Facts.MinImportance,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	return nil
}
