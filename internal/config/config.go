package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultServerHost        = "0.0.0.0"
	defaultServerPort        = 8080
	defaultGeminiModel       = "gemini-2.5-flash"
	defaultMediaGroupWindow  = time.Second
	defaultDedupTTL          = 30 * time.Second
	defaultDispatcherWorkers = 4
	defaultDispatcherQueue   = 64
	defaultMaxAttempts       = 1
	defaultPresignTTL        = time.Hour
	defaultJWTTTL            = 24 * time.Hour
	defaultRatePerSecond     = 25
	defaultLogLevel          = "info"
	defaultLanguage          = "ru"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	AWS           AWSConfig           `yaml:"aws"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	JWT           JWTConfig           `yaml:"jwt"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Intake        IntakeConfig        `yaml:"intake"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port" env:"SERVER_PORT"`
	Host string `yaml:"host" env:"SERVER_HOST"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DATABASE_HOST"`
	Port     int    `yaml:"port" env:"DATABASE_PORT"`
	User     string `yaml:"user" env:"DATABASE_USER"`
	Password string `yaml:"password" env:"DATABASE_PASSWORD"`
	DBName   string `yaml:"dbname" env:"DATABASE_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DATABASE_SSLMODE"`
}

// AWSConfig holds photo storage configuration
type AWSConfig struct {
	Region     string        `yaml:"region" env:"AWS_REGION"`
	S3Bucket   string        `yaml:"s3_bucket" env:"AWS_S3_BUCKET"`
	AccessKey  string        `yaml:"access_key" env:"AWS_ACCESS_KEY"`
	SecretKey  string        `yaml:"secret_key" env:"AWS_SECRET_KEY"`
	Endpoint   string        `yaml:"endpoint" env:"AWS_ENDPOINT"` // S3-compatible storage
	PresignTTL time.Duration `yaml:"presign_ttl" env:"AWS_PRESIGN_TTL"`
}

// TelegramConfig holds bot configuration
type TelegramConfig struct {
	Token           string `yaml:"token" env:"TELEGRAM_TOKEN"`
	BotUsername     string `yaml:"bot_username" env:"TELEGRAM_BOT_USERNAME"`
	MiniAppURL      string `yaml:"mini_app_url" env:"TELEGRAM_MINI_APP_URL"`
	SupportContact  string `yaml:"support_contact" env:"TELEGRAM_SUPPORT_CONTACT"`
	PurchaseURL     string `yaml:"purchase_url" env:"TELEGRAM_PURCHASE_URL"`
	DefaultLanguage string `yaml:"default_language" env:"TELEGRAM_DEFAULT_LANGUAGE"`
	RatePerSecond   int    `yaml:"rate_per_second" env:"TELEGRAM_RATE_PER_SECOND"`
}

// GeminiConfig holds vision/language model configuration
type GeminiConfig struct {
	APIKey string `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model  string `yaml:"model" env:"GEMINI_MODEL"`
}

// JWTConfig holds mini-app token configuration
type JWTConfig struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL"`
}

// NotificationsConfig holds notification bridge configuration
type NotificationsConfig struct {
	ServiceKey string        `yaml:"service_key" env:"NOTIFICATIONS_SERVICE_KEY"`
	DedupTTL   time.Duration `yaml:"dedup_ttl" env:"NOTIFICATIONS_DEDUP_TTL"`
}

// IntakeConfig holds photo intake configuration
type IntakeConfig struct {
	MediaGroupWindow time.Duration `yaml:"media_group_window" env:"INTAKE_MEDIA_GROUP_WINDOW"`
}

// DispatcherConfig holds background analysis configuration
type DispatcherConfig struct {
	Workers     int `yaml:"workers" env:"DISPATCHER_WORKERS"`
	QueueSize   int `yaml:"queue_size" env:"DISPATCHER_QUEUE_SIZE"`
	MaxAttempts int `yaml:"max_attempts" env:"DISPATCHER_MAX_ATTEMPTS"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A missing file is allowed when every required value comes from the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// environment only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = defaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaultGeminiModel
	}
	if c.AWS.PresignTTL <= 0 {
		c.AWS.PresignTTL = defaultPresignTTL
	}
	if c.JWT.TTL <= 0 {
		c.JWT.TTL = defaultJWTTTL
	}
	if c.Telegram.RatePerSecond <= 0 {
		c.Telegram.RatePerSecond = defaultRatePerSecond
	}
	if c.Telegram.DefaultLanguage == "" {
		c.Telegram.DefaultLanguage = defaultLanguage
	}
	if c.Notifications.DedupTTL <= 0 {
		c.Notifications.DedupTTL = defaultDedupTTL
	}
	if c.Intake.MediaGroupWindow <= 0 {
		c.Intake.MediaGroupWindow = defaultMediaGroupWindow
	}
	if c.Dispatcher.Workers <= 0 {
		c.Dispatcher.Workers = defaultDispatcherWorkers
	}
	if c.Dispatcher.QueueSize <= 0 {
		c.Dispatcher.QueueSize = defaultDispatcherQueue
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		c.Dispatcher.MaxAttempts = defaultMaxAttempts
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

// Validate checks that required values are present
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Telegram.MiniAppURL) == "" {
		return fmt.Errorf("telegram.mini_app_url is required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if strings.TrimSpace(c.Notifications.ServiceKey) == "" {
		return fmt.Errorf("notifications.service_key is required")
	}
	if strings.TrimSpace(c.AWS.S3Bucket) == "" {
		return fmt.Errorf("aws.s3_bucket is required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
