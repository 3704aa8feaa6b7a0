package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Identity struct {
	// Mode selects how bearer tokens are verified: "jwt" verifies
	// locally with Secret, "introspect" POSTs to IntrospectURL.
	Mode          string `mapstructure:"mode"`
	Secret        string `mapstructure:"secret"`
	Issuer        string `mapstructure:"issuer"`
	IntrospectURL string `mapstructure:"introspect_url"`
}

type Provider struct {
	// Kind selects the media provider adapter: "signed" or "rest".
	Kind      string        `mapstructure:"kind"`
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	MaxTTL    time.Duration `mapstructure:"max_ttl"`
}

type RateLimit struct {
	Limit    int           `mapstructure:"limit"`
	Window   time.Duration `mapstructure:"window"`
	Capacity int           `mapstructure:"capacity"`
}

type Config struct {
	Mode           string    `mapstructure:"mode"`
	Port           int       `mapstructure:"port"`
	AllowedOrigins []string  `mapstructure:"allowed_origins"`
	Identity       Identity  `mapstructure:"identity"`
	Provider       Provider  `mapstructure:"provider"`
	RateLimit      RateLimit `mapstructure:"rate_limit"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("identity.mode", "jwt")
	v.SetDefault("provider.kind", "signed")
	v.SetDefault("provider.max_ttl", "15m")
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.capacity", 10000)

	v.SetEnvPrefix("ROOMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults and env\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Identity.Mode {
	case "jwt":
		if c.Identity.Secret == "" {
			return fmt.Errorf("identity.secret is required in jwt mode")
		}
	case "introspect":
		if c.Identity.IntrospectURL == "" {
			return fmt.Errorf("identity.introspect_url is required in introspect mode")
		}
	default:
		return fmt.Errorf("unknown identity.mode %q", c.Identity.Mode)
	}

	switch c.Provider.Kind {
	case "signed":
		if c.Provider.APIKey == "" || c.Provider.APISecret == "" {
			return fmt.Errorf("provider.api_key and provider.api_secret are required for the signed provider")
		}
	case "rest":
		if c.Provider.URL == "" {
			return fmt.Errorf("provider.url is required for the rest provider")
		}
	default:
		return fmt.Errorf("unknown provider.kind %q", c.Provider.Kind)
	}

	if c.Provider.MaxTTL <= 0 {
		return fmt.Errorf("provider.max_ttl must be positive")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.limit and rate_limit.window must be positive")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins must not be empty")
	}
	return nil
}
