// Copyright 2024-2026 Aiku AI

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/ptr"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the complete telegram-relay configuration.
type Config struct {
	Telegram TelegramConfig    `yaml:"telegram"`
	Server   ServerConfig      `yaml:"server"`
	Relay    RelayConfig       `yaml:"relay"`
	Logging  zeroconfig.Config `yaml:"logging"`
}

// TelegramConfig holds the application credentials and session storage.
type TelegramConfig struct {
	APIID      int    `yaml:"api_id"`
	APIHash    string `yaml:"api_hash"`
	SessionDir string `yaml:"session_dir"`
}

// ServerConfig holds the HTTP API listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// RelayConfig holds timeouts and phone number parsing options.
type RelayConfig struct {
	PlatformTimeout time.Duration `yaml:"-"`
	RelayTimeout    time.Duration `yaml:"-"`

	PlatformTimeoutRaw string `yaml:"platform_timeout"`
	RelayTimeoutRaw    string `yaml:"relay_timeout"`

	DefaultRegion string `yaml:"default_region"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads, parses and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse parses a config document. ${VAR} references are expanded from the
// environment, and keys missing from data take their value from
// ExampleConfig. The result is not validated.
func Parse(data []byte) (*Config, error) {
	var base yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	var user yaml.Node
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &user); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if user.Kind == yaml.DocumentNode {
		upgradeConfig(up.NewHelper(&base, &user))
	}

	var cfg Config
	if err := base.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Int, "telegram", "api_id")
	helper.Copy(up.Str, "telegram", "api_hash")
	helper.Copy(up.Str, "telegram", "session_dir")
	helper.Copy(up.Str, "server", "listen_addr")
	helper.Copy(up.Str, "relay", "platform_timeout")
	helper.Copy(up.Str, "relay", "relay_timeout")
	helper.Copy(up.Str, "relay", "default_region")
	helper.Copy(up.Map, "logging")
}

// expandEnvVars replaces ${VAR} with the value of VAR, or nothing if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyEnv fills empty credentials from API_ID and API_HASH.
func (c *Config) applyEnv() error {
	if c.Telegram.APIID == 0 {
		if raw := strings.TrimSpace(os.Getenv("API_ID")); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid API_ID %q: %w", raw, err)
			}
			c.Telegram.APIID = id
		}
	}
	if c.Telegram.APIHash == "" {
		c.Telegram.APIHash = strings.TrimSpace(os.Getenv("API_HASH"))
	}
	return nil
}

func (c *Config) parseDurations() error {
	var err error
	if c.Relay.PlatformTimeout, err = time.ParseDuration(c.Relay.PlatformTimeoutRaw); err != nil {
		return fmt.Errorf("failed to parse relay.platform_timeout %q: %w", c.Relay.PlatformTimeoutRaw, err)
	}
	if c.Relay.RelayTimeout, err = time.ParseDuration(c.Relay.RelayTimeoutRaw); err != nil {
		return fmt.Errorf("failed to parse relay.relay_timeout %q: %w", c.Relay.RelayTimeoutRaw, err)
	}
	return nil
}

// Validate checks required fields. It returns the first problem found.
func (c *Config) Validate() error {
	switch {
	case c.Telegram.APIID <= 0:
		return errors.New("telegram.api_id is required (or set API_ID)")
	case c.Telegram.APIHash == "":
		return errors.New("telegram.api_hash is required (or set API_HASH)")
	case c.Telegram.SessionDir == "":
		return errors.New("telegram.session_dir must not be empty")
	case c.Server.ListenAddr == "":
		return errors.New("server.listen_addr must not be empty")
	case c.Relay.PlatformTimeout <= 0:
		return errors.New("relay.platform_timeout must be positive")
	case c.Relay.RelayTimeout <= 0:
		return errors.New("relay.relay_timeout must be positive")
	}
	if region := c.Relay.DefaultRegion; region != "" && phonenumbers.GetCountryCodeForRegion(strings.ToUpper(region)) == 0 {
		return fmt.Errorf("relay.default_region %q is not a known region", region)
	}
	return nil
}

// Logger builds the configured logger. Without writers it logs to stdout.
func (c *Config) Logger() (*zerolog.Logger, error) {
	logCfg := c.Logging
	if len(logCfg.Writers) == 0 {
		logCfg.Writers = []zeroconfig.WriterConfig{{Type: "stdout", Format: "pretty-colored"}}
	}
	if logCfg.MinLevel == nil {
		logCfg.MinLevel = ptr.Ptr(zerolog.InfoLevel)
	}
	log, err := logCfg.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}
