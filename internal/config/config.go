// Package config loads the guardian YAML configuration with environment
// variable expansion and sane defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/imageguard/guardian/internal/models"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Neo4j         Neo4jConfig         `yaml:"neo4j"`
	Storage       StorageConfig       `yaml:"storage"`
	Platforms     []PlatformConfig    `yaml:"platforms"`
	Matcher       MatcherConfig       `yaml:"matcher"`
	Hunter        HunterConfig        `yaml:"hunter"`
	Auth          AuthConfig          `yaml:"auth"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Enabled  bool   `yaml:"enabled"`
}

// StorageConfig selects where evidence images and exports are written.
// Backend is "s3" or "local".
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	LocalRoot string `yaml:"local_root"`
	S3        struct {
		Region          string `yaml:"region"`
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
	} `yaml:"s3"`
}

type PlatformConfig struct {
	Name           models.Platform `yaml:"name"`
	BaseURL        string          `yaml:"base_url"`
	APIKey         string          `yaml:"api_key"`
	RequestsPerSec float64         `yaml:"requests_per_sec"`
	Burst          int             `yaml:"burst"`
	Timeout        time.Duration   `yaml:"timeout"`
	Enabled        bool            `yaml:"enabled"`
}

type MatcherConfig struct {
	PHashWeight float64 `yaml:"phash_weight"`
	ORBWeight   float64 `yaml:"orb_weight"`
	ColorWeight float64 `yaml:"color_weight"`
}

type HunterConfig struct {
	Workers int `yaml:"workers"`
}

type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	AccessTokenExpiry  time.Duration `yaml:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `yaml:"refresh_token_expiry"`
}

type NotificationsConfig struct {
	MinSeverity models.RiskLevel  `yaml:"min_severity"`
	Slack       SlackNotifyConfig `yaml:"slack"`
	Email       EmailNotifyConfig `yaml:"email"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type EmailNotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {

		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Neo4j.URI == "" {
		c.Neo4j.URI = "bolt://localhost:7687"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "./data/evidence"
	}

	if len(c.Platforms) == 0 {
		c.Platforms = []PlatformConfig{
			{Name: models.PlatformShopee, BaseURL: "https://api.shopee.example", Enabled: true},
			{Name: models.PlatformRuten, BaseURL: "https://api.ruten.example", Enabled: true},
		}
	}
	for i := range c.Platforms {
		if c.Platforms[i].RequestsPerSec == 0 {
			c.Platforms[i].RequestsPerSec = 2
		}
		if c.Platforms[i].Burst == 0 {
			c.Platforms[i].Burst = 5
		}
		if c.Platforms[i].Timeout == 0 {
			c.Platforms[i].Timeout = 30 * time.Second
		}
	}

	if c.Hunter.Workers == 0 {
		c.Hunter.Workers = 2
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "change-me-in-production"

		fmt.Println("WARNING: Using default JWT secret. Set auth.jwt_secret in production!")
	}
	if c.Auth.AccessTokenExpiry == 0 {
		c.Auth.AccessTokenExpiry = 15 * time.Minute
	}
	if c.Auth.RefreshTokenExpiry == 0 {
		c.Auth.RefreshTokenExpiry = 7 * 24 * time.Hour
	}

	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = models.RiskHigh
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}
}
