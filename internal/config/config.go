package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the roomchat server configuration
	Config struct {
		Server   ServerConfig   `yaml:"server"`
		Logger   LoggerConfig   `yaml:"logger"`
		Chat     ChatConfig     `yaml:"chat"`
		Auth     AuthConfig     `yaml:"auth"`
		Database DatabaseConfig `yaml:"database"`
		Storage  StorageConfig  `yaml:"storage"`
	}

	// ServerConfig represents the HTTP listener configuration
	ServerConfig struct {
		Addr            string        `yaml:"addr" validate:"required"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		Mode            string        `yaml:"mode" validate:"omitempty,oneof=debug release test"` // gin mode
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format     string `yaml:"format" validate:"omitempty,oneof=json console"`
		Output     string `yaml:"output" validate:"omitempty,oneof=stdout file"`
		FilePath   string `yaml:"file_path" validate:"required_if=Output file"`
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`
		Color      bool   `yaml:"color"`
		Stacktrace bool   `yaml:"stacktrace"`
	}

	// ChatConfig tunes the per-connection loop and transport
	ChatConfig struct {
		SendBuffer      int           `yaml:"send_buffer" validate:"gte=1"`
		MaxMessageBytes int           `yaml:"max_message_bytes" validate:"gte=-1"` // -1 disables the limit
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongWait        time.Duration `yaml:"pong_wait"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
	}

	// AuthConfig selects and configures the identity provider
	AuthConfig struct {
		Provider string        `yaml:"provider" validate:"oneof=jwt http"`
		Role     string        `yaml:"role" validate:"required"`
		Timeout  time.Duration `yaml:"timeout"`
		JWT      JWTConfig     `yaml:"jwt"`
		HTTP     HTTPAuth      `yaml:"http"`
	}

	// JWTConfig configures locally verified HS256 tokens
	JWTConfig struct {
		Secret   string        `yaml:"secret"`
		Issuer   string        `yaml:"issuer"`
		TokenTTL time.Duration `yaml:"token_ttl"`
	}

	// HTTPAuth configures a remote identity service exposing GET /auth/v1/user
	HTTPAuth struct {
		URL    string `yaml:"url" validate:"omitempty,url"`
		APIKey string `yaml:"api_key"`
	}

	// DatabaseConfig represents the SQL database configuration
	DatabaseConfig struct {
		Type     string `yaml:"type" validate:"oneof=sqlite postgres mysql"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname" validate:"required"`
		SSLMode  string `yaml:"sslmode"`
	}

	// StorageConfig selects where chat messages are appended
	StorageConfig struct {
		Type      string       `yaml:"type" validate:"oneof=database badger redis memory"`
		QueueSize int          `yaml:"queue_size" validate:"gte=-1"` // -1 appends synchronously
		Badger    BadgerConfig `yaml:"badger"`
		Redis     RedisConfig  `yaml:"redis"`
	}

	// BadgerConfig represents the embedded key-value store configuration
	BadgerConfig struct {
		Path string `yaml:"path"`
	}

	// RedisConfig represents the Redis stream configuration
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		MaxLen   int64  `yaml:"max_len"` // exact cap per room stream, 0 keeps everything
	}
)

var validate = validator.New()

// Load reads filename, expands ${ENV:default} placeholders, fills defaults and
// validates the result. A .env file in the working directory is loaded first
// when present.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration content.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(resolveEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every zero value that has a default.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}

	if c.Chat.SendBuffer <= 0 {
		c.Chat.SendBuffer = 16
	}
	if c.Chat.MaxMessageBytes == 0 {
		c.Chat.MaxMessageBytes = 4096
	}
	if c.Chat.PingInterval <= 0 {
		c.Chat.PingInterval = 30 * time.Second
	}
	if c.Chat.PongWait <= 0 {
		c.Chat.PongWait = 60 * time.Second
	}
	if c.Chat.WriteTimeout <= 0 {
		c.Chat.WriteTimeout = 10 * time.Second
	}

	if c.Auth.Provider == "" {
		c.Auth.Provider = "jwt"
	}
	if c.Auth.Role == "" {
		c.Auth.Role = "user"
	}
	if c.Auth.Timeout <= 0 {
		c.Auth.Timeout = 5 * time.Second
	}
	if c.Auth.JWT.TokenTTL <= 0 {
		c.Auth.JWT.TokenTTL = 24 * time.Hour
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DBName == "" && c.Database.Type == "sqlite" {
		c.Database.DBName = "./data/roomchat.db"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "database"
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = 256
	}
	if c.Storage.Badger.Path == "" {
		c.Storage.Badger.Path = "./data/messages"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "roomchat:messages:"
	}
}

// Validate checks field constraints and the cross-section rules that
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Auth.Provider {
	case "jwt":
		if c.Auth.JWT.Secret == "" {
			return fmt.Errorf("invalid config: auth.jwt.secret is required for the jwt provider")
		}
	case "http":
		if c.Auth.HTTP.URL == "" {
			return fmt.Errorf("invalid config: auth.http.url is required for the http provider")
		}
	}
	if c.Storage.Type == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("invalid config: storage.redis.addr is required for redis storage")
	}
	if c.Chat.PongWait <= c.Chat.PingInterval {
		return fmt.Errorf("invalid config: chat.pong_wait (%s) must exceed chat.ping_interval (%s)",
			c.Chat.PongWait, c.Chat.PingInterval)
	}
	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	case "sqlite":
		return c.DBName // file path
	default:
		return ""
	}
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// resolveEnv replaces ${KEY} and ${KEY:default} placeholders.
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		if value, ok := os.LookupEnv(string(matches[1])); ok {
			return []byte(value)
		}
		return matches[2]
	})
}
