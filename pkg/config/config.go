// Package config loads the plugin's INI configuration file, following
// the gateway's convention of a single "<config_dir>/<plugin>.cfg"
// file with one section.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// ConfigFileName is the file the gateway's config_dir is expected to
// contain.
const ConfigFileName = "janus.plugin.sfu.cfg"

// Config is the plugin's [general] section, fully resolved: zero
// values from the file have already been replaced by their defaults.
type Config struct {
	// AuthKeyPath points at a DER-encoded RSA public key file. Empty
	// disables token validation entirely.
	AuthKeyPath string
	// MaxRoomSize caps the number of simultaneous publishers per room.
	// 0 means unlimited.
	MaxRoomSize int
	// MaxCCU caps the number of distinct publishing users server-wide;
	// it is checked only when a publisher joins, so subscriber handles
	// never count against it. 0 means unlimited.
	MaxCCU int
	// MessageThreads is the size of the signalling worker pool. 0
	// means "one per host CPU".
	MessageThreads int
	// LogLevel is a logrus level name (e.g. "info", "debug").
	LogLevel string
}

// ErrNoConfigEnvVar is returned by LoadFromEnv when CONFIG isn't set.
var ErrNoConfigEnvVar = errors.New("config: CONFIG environment variable not set")

// Load resolves a Config the same way the gateway's init() callback
// does: prefer the CONFIG environment variable (holding the INI
// document inline, handy for tests and containers), falling back to
// "<configDir>/janus.plugin.sfu.cfg" on disk.
func Load(configDir string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}

		return LoadFromPath(filepath.Join(configDir, ConfigFileName))
	}

	return cfg, nil
}

// LoadFromEnv loads the INI document from the CONFIG environment
// variable.
func LoadFromEnv() (*Config, error) {
	raw := os.Getenv("CONFIG")
	if raw == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadFromString(raw)
}

// LoadFromPath loads the INI document from a file on disk.
func LoadFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	return LoadFromString(string(raw))
}

// LoadFromString parses an INI document and applies defaults.
func LoadFromString(document string) (*Config, error) {
	file, err := ini.Load([]byte(document))
	if err != nil {
		return nil, fmt.Errorf("config: parse ini: %w", err)
	}

	section := file.Section("general")

	cfg := &Config{
		AuthKeyPath:    section.Key("auth_key").String(),
		MaxRoomSize:    section.Key("max_room_size").MustInt(0),
		MaxCCU:         section.Key("max_ccu").MustInt(0),
		MessageThreads: section.Key("message_threads").MustInt(0),
		LogLevel:       section.Key("log_level").MustString("info"),
	}

	if cfg.MessageThreads == 0 {
		cfg.MessageThreads = runtime.NumCPU()
	}

	return cfg, nil
}

// ReadAuthKey reads the DER-encoded RSA public key file named by
// AuthKeyPath. Returns nil, nil if no key is configured.
func (c *Config) ReadAuthKey() ([]byte, error) {
	if c.AuthKeyPath == "" {
		return nil, nil
	}

	der, err := os.ReadFile(c.AuthKeyPath)
	if err != nil {
		return nil, fmt.Errorf("config: read auth key: %w", err)
	}

	return der, nil
}
