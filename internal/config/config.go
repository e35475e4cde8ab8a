// Package config loads the eventsd configuration file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/technosupport/ts-events/internal/data"
	"github.com/technosupport/ts-events/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LogConfig           `yaml:"log"`
	HTTP       HTTPConfig          `yaml:"http"`
	Database   DatabaseConfig      `yaml:"database"`
	Redis      RedisConfig         `yaml:"redis"`
	NATS       NATSConfig          `yaml:"nats"`
	MQTT       MQTTConfig          `yaml:"mqtt"`
	Pipeline   PipelineConfig      `yaml:"pipeline"`
	Preprocess PreprocessConfig    `yaml:"preprocess"`
	Providers  []ProviderConfig    `yaml:"providers"`
	Rules      RulesConfig         `yaml:"rules"`
	Webhook    WebhookConfig       `yaml:"webhook"`
	Cameras    []data.CameraSource `yaml:"cameras"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

type HTTPConfig struct {
	Address   string `yaml:"address"`
	PublicURL string `yaml:"public_url"`
	// AnalyzeLimit bounds manual analysis per client. Needs Redis.
	AnalyzeLimit ratelimit.LimitConfig `yaml:"analyze_limit"`
}

type DatabaseConfig struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SSLMode    string `yaml:"sslmode"`
	Migrations string `yaml:"migrations"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig enables the shared cooldown tracker and provider usage when
// Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type NATSConfig struct {
	URL            string `yaml:"url"`
	VMSSubject     string `yaml:"vms_subject"`
	Queue          string `yaml:"queue"`
	RealtimePrefix string `yaml:"realtime_prefix"`
	PushSubject    string `yaml:"push_subject"`
	SnapshotBase   string `yaml:"snapshot_base_url"`
}

type MQTTConfig struct {
	Broker         string            `yaml:"broker"`
	ClientID       string            `yaml:"client_id"`
	User           string            `yaml:"user"`
	Password       string            `yaml:"password"`
	FrigateTopic   string            `yaml:"frigate_topic"`
	FrigateURL     string            `yaml:"frigate_url"`
	FrigateCameras map[string]string `yaml:"frigate_cameras"`
	RealtimePrefix string            `yaml:"realtime_prefix"`
}

type PipelineConfig struct {
	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	DefaultCooldown    time.Duration `yaml:"default_cooldown"`
	MaxCameras         int           `yaml:"max_cameras"`
	ThumbnailCacheSize int           `yaml:"thumbnail_cache_size"`
}

type PreprocessConfig struct {
	TargetDimension int `yaml:"target_dimension"`
	MaxFrames       int `yaml:"max_frames"`
}

type QuotaConfig struct {
	Limit   int           `yaml:"limit"`
	Period  time.Duration `yaml:"period"`
	Reserve int           `yaml:"reserve"`
}

type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Kind      string        `yaml:"kind"` // openai, anthropic, gemini
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Attempts  int           `yaml:"attempts"`
	Quota     QuotaConfig   `yaml:"quota"`
}

type RulesConfig struct {
	Source   string        `yaml:"source"` // db or file
	File     string        `yaml:"file"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type WebhookConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// Load reads path (optional), applies defaults and environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.setDefaults()
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8090"
	}
	if c.HTTP.AnalyzeLimit.Rate == 0 {
		c.HTTP.AnalyzeLimit = ratelimit.LimitConfig{Rate: 20, Window: time.Minute}
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Migrations == "" {
		c.Database.Migrations = "file://db/migrations"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "ts-events"
	}
	if c.NATS.VMSSubject == "" {
		c.NATS.VMSSubject = "events.vms"
	}
	if c.NATS.Queue == "" {
		c.NATS.Queue = "ts-events"
	}
	if c.NATS.RealtimePrefix == "" {
		c.NATS.RealtimePrefix = "events.realtime"
	}
	if c.NATS.PushSubject == "" {
		c.NATS.PushSubject = "notifications.push"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ts-events"
	}
	if c.MQTT.FrigateTopic == "" {
		c.MQTT.FrigateTopic = "frigate/events"
	}
	if c.MQTT.RealtimePrefix == "" {
		c.MQTT.RealtimePrefix = "ts-events"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 8
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = c.Pipeline.Workers * 2
	}
	if c.Pipeline.DefaultCooldown == 0 {
		c.Pipeline.DefaultCooldown = 30 * time.Second
	}
	if c.Pipeline.MaxCameras == 0 {
		c.Pipeline.MaxCameras = 4096
	}
	if c.Pipeline.ThumbnailCacheSize == 0 {
		c.Pipeline.ThumbnailCacheSize = 512
	}
	if c.Preprocess.TargetDimension == 0 {
		c.Preprocess.TargetDimension = 1280
	}
	if c.Preprocess.MaxFrames == 0 {
		c.Preprocess.MaxFrames = 3
	}
	for i := range c.Providers {
		if c.Providers[i].Name == "" {
			c.Providers[i].Name = c.Providers[i].Kind
		}
	}
	if c.Rules.Source == "" {
		c.Rules.Source = "db"
	}
	if c.Rules.CacheTTL == 0 {
		c.Rules.CacheTTL = 30 * time.Second
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
	if c.Webhook.MaxAttempts == 0 {
		c.Webhook.MaxAttempts = 3
	}
	if c.Webhook.MaxConcurrent == 0 {
		c.Webhook.MaxConcurrent = 32
	}
}

// applyEnv lets deployment secrets and endpoints override the file.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.Host, "DB_HOST")
	set(&c.Database.Port, "DB_PORT")
	set(&c.Database.User, "DB_USER")
	set(&c.Database.Password, "DB_PASSWORD")
	set(&c.Database.Name, "DB_NAME")
	set(&c.Database.SSLMode, "DB_SSLMODE")
	set(&c.Redis.Addr, "REDIS_ADDR")
	set(&c.Redis.Password, "REDIS_PASSWORD")
	set(&c.NATS.URL, "NATS_URL")
	set(&c.MQTT.Broker, "MQTT_BROKER")
	set(&c.MQTT.Password, "MQTT_PASSWORD")
	set(&c.HTTP.PublicURL, "PUBLIC_URL")
	set(&c.Log.Level, "LOG_LEVEL")
	if port := getenv("PORT"); port != "" {
		c.HTTP.Address = ":" + port
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKeyEnv != "" {
			set(&p.APIKey, p.APIKeyEnv)
		}
	}
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider is required"))
	}
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		switch p.Kind {
		case "openai", "anthropic", "gemini":
		default:
			errs = append(errs, fmt.Errorf("providers[%d]: unknown kind %q", i, p.Kind))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: model is required", i))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.Quota.Limit > 0 && p.Quota.Period <= 0 {
			errs = append(errs, fmt.Errorf("providers[%d]: quota period is required with a limit", i))
		}
		if p.Quota.Reserve < 0 || (p.Quota.Limit > 0 && p.Quota.Reserve >= p.Quota.Limit) {
			errs = append(errs, fmt.Errorf("providers[%d]: quota reserve must be below the limit", i))
		}
	}

	switch c.Rules.Source {
	case "db":
	case "file":
		if c.Rules.File == "" {
			errs = append(errs, errors.New("rules.file is required when rules.source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("rules.source: unknown value %q", c.Rules.Source))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown value %q", c.Log.Format))
	}

	if c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.workers must be positive"))
	}
	if c.Pipeline.QueueSize < 1 {
		errs = append(errs, errors.New("pipeline.queue_size must be positive"))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook.max_attempts must be positive"))
	}

	for i, cam := range c.Cameras {
		if cam.ID == "" {
			errs = append(errs, fmt.Errorf("cameras[%d]: id is required", i))
		}
	}

	return errors.Join(errs...)
}
