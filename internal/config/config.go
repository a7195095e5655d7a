// Package config loads the bot's process configuration: a run-mode-selected
// TOML file plus POUCET_* environment overrides for the secrets (platform
// token, redis credentials).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	RunMode string
	Debug   bool

	Discord struct {
		Token string
	}

	Redis struct {
		Address  string
		Username string
		Password string
	}

	Telemetry struct {
		Enabled bool
	}
}

// RunMode returns the configured run mode, defaulting to "dev". Dev mode
// registers slash commands per guild so they show up immediately.
func RunMode() string {
	if mode := os.Getenv("RUN_MODE"); mode != "" {
		return mode
	}
	return "dev"
}

// Load reads config.{run_mode}.toml from the working directory (optional)
// and applies POUCET_* environment overrides. The token is the only value
// that must be present.
func Load() (*Config, error) {
	mode := RunMode()

	v := viper.New()
	v.SetConfigName("config." + mode)
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("poucet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("debug", false)
	v.SetDefault("redis.address", "127.0.0.1:6379")
	v.SetDefault("telemetry.enabled", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config.%s.toml: %w", mode, err)
		}
		// No file for this run mode; environment variables still apply.
	}

	cfg := &Config{RunMode: mode}
	cfg.Debug = v.GetBool("debug")
	cfg.Discord.Token = v.GetString("discord.bot.token")
	cfg.Redis.Address = v.GetString("redis.address")
	cfg.Redis.Username = v.GetString("redis.username")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Telemetry.Enabled = v.GetBool("telemetry.enabled")

	if cfg.Discord.Token == "" {
		return nil, errors.New("missing or incorrect discord bot token (discord.bot.token / POUCET_DISCORD_BOT_TOKEN)")
	}
	return cfg, nil
}

// RedisURL assembles the redis connection URL, folding the optional
// credentials into the authority part.
func (c *Config) RedisURL() string {
	auth := ""
	switch {
	case c.Redis.Username == "" && c.Redis.Password == "":
	case c.Redis.Username == "":
		auth = c.Redis.Password + "@"
	case c.Redis.Password == "":
		auth = c.Redis.Username + "@"
	default:
		auth = c.Redis.Username + ":" + c.Redis.Password + "@"
	}
	return "redis://" + auth + c.Redis.Address
}

// ConfigFile returns the path of the run-mode config file, whether or not it
// exists. Used by the watcher.
func (c *Config) ConfigFile() string {
	return "config." + c.RunMode + ".toml"
}
