package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL           string
	Registry         string
	PollInterval     time.Duration
	StatsInterval    time.Duration
	RPCTimeout       time.Duration
	Listen           string
	AllowOrigins     []string
	SubscriberBuffer int
	MaxSubscribers   int
	Out              string
	PGDSN            string
	DialRetries      int
	DialBackoff      time.Duration
	LogLevel         string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("stats-interval", 10*time.Second)
	v.SetDefault("rpc-timeout", 5*time.Second)
	v.SetDefault("listen", ":8080")
	v.SetDefault("subscriber-buffer", 64)
	v.SetDefault("max-subscribers", 1000)
	v.SetDefault("out", "")
	v.SetDefault("pg-dsn", "")
	v.SetDefault("dial-retries", 5)
	v.SetDefault("dial-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		Registry:         v.GetString("registry"),
		PollInterval:     v.GetDuration("poll-interval"),
		StatsInterval:    v.GetDuration("stats-interval"),
		RPCTimeout:       v.GetDuration("rpc-timeout"),
		Listen:           v.GetString("listen"),
		AllowOrigins:     getStringSlice(v, "allow-origins"),
		SubscriberBuffer: v.GetInt("subscriber-buffer"),
		MaxSubscribers:   v.GetInt("max-subscribers"),
		Out:              v.GetString("out"),
		PGDSN:            v.GetString("pg-dsn"),
		DialRetries:      v.GetInt("dial-retries"),
		DialBackoff:      v.GetDuration("dial-backoff"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the values the run command cannot start without.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Registry == "" {
		return fmt.Errorf("registry path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be > 0")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber buffer must be > 0")
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
