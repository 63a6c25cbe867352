// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server struct {
		Port         string        `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`

		// MaxMediaBytes caps photo and voice request bodies.
		MaxMediaBytes int64 `mapstructure:"max_media_bytes"`
	} `mapstructure:"server"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
	DB        DBConfig  `mapstructure:"db"`
	GPT       GPTConfig `mapstructure:"gpt"`
	Assistant struct {
		FreeMessages  int `mapstructure:"free_messages"`
		HistoryWindow int `mapstructure:"history_window"`
		CompactEvery  int `mapstructure:"compact_every"`
		CompactWindow int `mapstructure:"compact_window"`
	} `mapstructure:"assistant"`
	Stripe   StripeConfig `mapstructure:"stripe"`
	Telegram struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"telegram"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	Driver       string        `mapstructure:"driver"`
	Path         string        `mapstructure:"path"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

type GPTConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Model              string        `mapstructure:"model"`
	VisionModel        string        `mapstructure:"vision_model"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type StripeConfig struct {
	SecretKey  string `mapstructure:"secret_key"`
	WebhookKey string `mapstructure:"webhook_key"`
	PriceID    string `mapstructure:"price_id"`
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
}

// Enabled reports whether enough Stripe settings are present to create checkout sessions.
func (s StripeConfig) Enabled() bool {
	return s.SecretKey != "" && s.PriceID != ""
}

// NewViper returns a viper instance with defaults, search paths and env bindings applied.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.diet-bot")

	// Every key needs a default so AutomaticEnv can override it during Unmarshal.
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.max_media_bytes", 32<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.path", "diet-bot.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.dbname", "diet_bot")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_lifetime", 5*time.Minute)
	v.SetDefault("gpt.api_key", "")
	v.SetDefault("gpt.base_url", "")
	v.SetDefault("gpt.model", "gpt-4o-mini")
	v.SetDefault("gpt.vision_model", "gpt-4o-mini")
	v.SetDefault("gpt.transcription_model", "whisper-1")
	v.SetDefault("gpt.timeout", 45*time.Second)
	v.SetDefault("assistant.free_messages", 10)
	v.SetDefault("assistant.history_window", 10)
	v.SetDefault("assistant.compact_every", 15)
	v.SetDefault("assistant.compact_window", 50)
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_key", "")
	v.SetDefault("stripe.price_id", "")
	v.SetDefault("stripe.success_url", "")
	v.SetDefault("stripe.cancel_url", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Hosting platforms inject PORT; SERVER_PORT wins when both are set.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")

	return v
}

// Load reads .env, the optional config file and the environment into a Config.
// An explicit configFile must exist; the default search paths may be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the values required to serve traffic.
func (c *Config) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.GPT.APIKey) == "" {
		return fmt.Errorf("gpt.api_key is required")
	}
	if c.GPT.Timeout <= 0 {
		return fmt.Errorf("gpt.timeout must be positive")
	}
	if c.Assistant.FreeMessages < 0 {
		return fmt.Errorf("assistant.free_messages must not be negative")
	}
	if c.Assistant.CompactEvery <= 0 || c.Assistant.HistoryWindow <= 0 || c.Assistant.CompactWindow <= 0 {
		return fmt.Errorf("assistant window settings must be positive")
	}
	return nil
}

// Validate checks the settings of the selected driver.
func (d DBConfig) Validate() error {
	switch d.Driver {
	case DriverSQLite:
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("db.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if d.Host == "" || d.DBName == "" {
			return fmt.Errorf("db.host and db.dbname are required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported db.driver %q", d.Driver)
	}
	return nil
}
