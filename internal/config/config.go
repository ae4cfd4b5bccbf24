package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Qustodio  QustodioConfig  `mapstructure:"qustodio" yaml:"qustodio"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Host           string  `mapstructure:"host" yaml:"host"`
	Port           int     `mapstructure:"port" yaml:"port"`
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// QustodioConfig configures the upstream API client. The client id and
// secret identify the mobile app build the service expects; they are
// configuration, not code, because they change without notice.
type QustodioConfig struct {
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	SummaryBaseURL string  `mapstructure:"summary_base_url" yaml:"summary_base_url"`
	Username       string  `mapstructure:"username" yaml:"username"`
	Password       string  `mapstructure:"password" yaml:"password"`
	ClientID       string  `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret   string  `mapstructure:"client_secret" yaml:"client_secret"`
	UserAgent      string  `mapstructure:"user_agent" yaml:"user_agent"`
	RequestRate    float64 `mapstructure:"request_rate" yaml:"request_rate"`
	RequestBurst   int     `mapstructure:"request_burst" yaml:"request_burst"`
	CacheRules     bool    `mapstructure:"cache_rules" yaml:"cache_rules"`
}

type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from file, expanding ${VAR} references from
// the environment so credentials can be kept out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Qustodio.Username == "" {
		return fmt.Errorf("qustodio.username is required")
	}
	if c.Qustodio.Password == "" {
		return fmt.Errorf("qustodio.password is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	return nil
}

// String renders the effective configuration as YAML with credentials
// redacted, for debug logging at startup.
func (c *Config) String() string {
	redacted := *c
	if redacted.Qustodio.Password != "" {
		redacted.Qustodio.Password = "<redacted>"
	}
	if redacted.Qustodio.ClientSecret != "" {
		redacted.Qustodio.ClientSecret = "<redacted>"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("<unprintable config: %v>", err)
	}
	return string(out)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("qustodio.base_url", "https://api.qustodio.com/v1")
	v.SetDefault("qustodio.summary_base_url", "https://api.qustodio.com/v2")
	v.SetDefault("qustodio.client_id", "264ca1d226906aa08b03")
	v.SetDefault("qustodio.client_secret", "3e8826cbed3b996f8b206c7d6a4b2321529bc6bd")
	v.SetDefault("qustodio.user_agent", "Qustodio/2.0.0 (Android)")
	v.SetDefault("qustodio.request_rate", 5.0)
	v.SetDefault("qustodio.request_burst", 5)
	v.SetDefault("qustodio.cache_rules", true)

	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.cycle_timeout", 2*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
