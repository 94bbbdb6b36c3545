package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Funnel   FunnelConfig   `mapstructure:"funnel"`
	Meta     MetaConfig     `mapstructure:"meta"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AdminToken guards the failure and stats routes. Empty disables them.
	AdminToken string `mapstructure:"admin_token"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DeliveryConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	SigningSecret  string        `mapstructure:"signing_secret"`
	Workers        int           `mapstructure:"workers"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

type VariantConfig struct {
	Mode   string `mapstructure:"mode"`
	Source string `mapstructure:"source"`
}

type FunnelConfig struct {
	Debounce       time.Duration            `mapstructure:"debounce"`
	DefaultVariant string                   `mapstructure:"default_variant"`
	Variants       map[string]VariantConfig `mapstructure:"variants"`
	Claims         string                   `mapstructure:"claims"`
	ClaimTTL       time.Duration            `mapstructure:"claim_ttl"`
}

type MetaConfig struct {
	PixelID       string        `mapstructure:"pixel_id"`
	AccessToken   string        `mapstructure:"access_token"`
	APIVersion    string        `mapstructure:"api_version"`
	BaseURL       string        `mapstructure:"base_url"`
	TestEventCode string        `mapstructure:"test_event_code"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PageViewTTL   time.Duration `mapstructure:"pageview_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("leadrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/leadrelay")
	}

	setDefaults(v)

	v.SetEnvPrefix("LEADRELAY")
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

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/leadrelay.db")

	v.SetDefault("delivery.webhook_url", "")
	v.SetDefault("delivery.signing_secret", "")
	v.SetDefault("delivery.workers", 16)
	v.SetDefault("delivery.timeout", 10*time.Second)
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.base_delay", time.Second)
	v.SetDefault("delivery.replay_interval", time.Duration(0))

	v.SetDefault("funnel.debounce", 800*time.Millisecond)
	v.SetDefault("funnel.default_variant", "default")
	v.SetDefault("funnel.variants", map[string]interface{}{
		"default": map[string]interface{}{"mode": "all", "source": "nla-site"},
		"lp-2":    map[string]interface{}{"mode": "reveal", "source": "lp-2"},
	})
	v.SetDefault("funnel.claims", "memory")
	v.SetDefault("funnel.claim_ttl", 7*24*time.Hour)

	v.SetDefault("meta.pixel_id", "")
	v.SetDefault("meta.access_token", "")
	v.SetDefault("meta.api_version", "v24.0")
	v.SetDefault("meta.base_url", "https://graph.facebook.com")
	v.SetDefault("meta.test_event_code", "")
	v.SetDefault("meta.timeout", 10*time.Second)
	v.SetDefault("meta.pageview_ttl", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "leads")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
