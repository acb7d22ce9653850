// Package config loads thermoctl settings from a TOML file and THERMOCTL_*
// environment variables. Command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/joshp123/thermoctl/internal/hold"
	"github.com/joshp123/thermoctl/internal/logger"
	"github.com/joshp123/thermoctl/internal/oauth"
)

const (
	DefaultPath            = "~/.config/thermoctl/config.toml"
	DefaultCredentialsFile = "~/.config/thermoctl/credentials"
	DefaultAPIURL          = oauth.DefaultBaseURL
	DefaultScope           = oauth.DefaultScope
	DefaultLogLevel        = logger.InfoLevel
	DefaultTopicPrefix     = "thermoctl"
	DefaultMirrorPrefix    = "thermoctl"

	envPrefix = "THERMOCTL_"
)

type Config struct {
	CredentialsFile string       `toml:"credentials_file"`
	APIURL          string       `toml:"api_url"`
	Scope           string       `toml:"scope"`
	LogLevel        string       `toml:"log_level"`
	Daemon          DaemonConfig `toml:"daemon"`
	MQTT            MQTTConfig   `toml:"mqtt"`
	Mirror          MirrorConfig `toml:"mirror"`
}

type DaemonConfig struct {
	MetricsAddr string `toml:"metrics_addr"`
	HoldType    string `toml:"hold_type"`
}

type MQTTConfig struct {
	Broker       string `toml:"broker"`
	TopicPrefix  string `toml:"topic_prefix"`
	Username     string `toml:"username"`
	PasswordFile string `toml:"password_file"`
}

type MirrorConfig struct {
	Endpoint      string `toml:"endpoint"`
	Bucket        string `toml:"bucket"`
	Prefix        string `toml:"prefix"`
	Region        string `toml:"region"`
	AccessKeyFile string `toml:"access_key_file"`
	SecretKeyFile string `toml:"secret_key_file"`
}

// Load reads path (DefaultPath when empty). A missing file yields defaults;
// unknown keys are rejected.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	resolved, err := expandPath(firstNonEmpty(path, DefaultPath))
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return Config{}, fmt.Errorf("parse config %s: %s", resolved, strict.String())
			}
			return Config{}, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, os.ErrNotExist) && strings.TrimSpace(path) == "":
	case errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("config file %s not found", resolved)
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg, lookup)
	if err := applyDefaults(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	fields := map[string]*string{
		"CREDENTIALS_FILE":       &cfg.CredentialsFile,
		"API_URL":                &cfg.APIURL,
		"SCOPE":                  &cfg.Scope,
		"LOG_LEVEL":              &cfg.LogLevel,
		"METRICS_ADDR":           &cfg.Daemon.MetricsAddr,
		"HOLD_TYPE":              &cfg.Daemon.HoldType,
		"MQTT_BROKER":            &cfg.MQTT.Broker,
		"MQTT_TOPIC_PREFIX":      &cfg.MQTT.TopicPrefix,
		"MQTT_USERNAME":          &cfg.MQTT.Username,
		"MQTT_PASSWORD_FILE":     &cfg.MQTT.PasswordFile,
		"MIRROR_ENDPOINT":        &cfg.Mirror.Endpoint,
		"MIRROR_BUCKET":          &cfg.Mirror.Bucket,
		"MIRROR_PREFIX":          &cfg.Mirror.Prefix,
		"MIRROR_REGION":          &cfg.Mirror.Region,
		"MIRROR_ACCESS_KEY_FILE": &cfg.Mirror.AccessKeyFile,
		"MIRROR_SECRET_KEY_FILE": &cfg.Mirror.SecretKeyFile,
	}
	for name, field := range fields {
		if value, ok := lookup(envPrefix + name); ok {
			*field = value
		}
	}
}

func applyDefaults(cfg *Config) error {
	trim := []*string{
		&cfg.CredentialsFile, &cfg.APIURL, &cfg.Scope, &cfg.LogLevel,
		&cfg.Daemon.MetricsAddr, &cfg.Daemon.HoldType,
		&cfg.MQTT.Broker, &cfg.MQTT.TopicPrefix, &cfg.MQTT.Username, &cfg.MQTT.PasswordFile,
		&cfg.Mirror.Endpoint, &cfg.Mirror.Bucket, &cfg.Mirror.Prefix, &cfg.Mirror.Region,
		&cfg.Mirror.AccessKeyFile, &cfg.Mirror.SecretKeyFile,
	}
	for _, field := range trim {
		*field = strings.TrimSpace(*field)
	}

	cfg.CredentialsFile = firstNonEmpty(cfg.CredentialsFile, DefaultCredentialsFile)
	cfg.APIURL = strings.TrimRight(firstNonEmpty(cfg.APIURL, DefaultAPIURL), "/")
	cfg.Scope = firstNonEmpty(cfg.Scope, DefaultScope)
	cfg.LogLevel = strings.ToLower(firstNonEmpty(cfg.LogLevel, DefaultLogLevel))
	cfg.MQTT.TopicPrefix = firstNonEmpty(cfg.MQTT.TopicPrefix, DefaultTopicPrefix)
	cfg.Mirror.Prefix = firstNonEmpty(cfg.Mirror.Prefix, DefaultMirrorPrefix)

	for _, field := range []*string{&cfg.CredentialsFile, &cfg.MQTT.PasswordFile, &cfg.Mirror.AccessKeyFile, &cfg.Mirror.SecretKeyFile} {
		if *field == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}

// Validate checks values that defaults cannot repair.
func (c Config) Validate() error {
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api_url %q must be an http(s) url", c.APIURL)
	}
	if _, err := hold.ParseHoldType(c.Daemon.HoldType); err != nil {
		return fmt.Errorf("daemon.hold_type: %w", err)
	}
	if c.Mirror.Endpoint != "" {
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket is required when mirror.endpoint is set")
		}
		if c.Mirror.AccessKeyFile == "" || c.Mirror.SecretKeyFile == "" {
			return fmt.Errorf("mirror.access_key_file and mirror.secret_key_file are required when mirror.endpoint is set")
		}
	}
	if c.MQTT.PasswordFile != "" && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.password_file is set")
	}
	return nil
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
