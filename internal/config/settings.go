package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by LoadSettings.
const (
	EnvConfig             = "SENSORHUB_CONFIG"
	EnvTrustStore         = "SENSORHUB_TRUSTSTORE"
	EnvTrustStorePassword = "SENSORHUB_TRUSTSTORE_PASSWORD"
	EnvTrustAlias         = "SENSORHUB_TRUST_ALIAS"
	EnvAllowLoose         = "SENSORHUB_ALLOW_LOOSE"
	EnvPluginDirs         = "SENSORHUB_PLUGIN_DIRS"
	EnvRunDuration        = "SENSORHUB_RUN_DURATION"
	EnvShutdownTimeout    = "SENSORHUB_SHUTDOWN_TIMEOUT"
	EnvHTTPPort           = "SENSORHUB_HTTP_PORT"
	EnvDebug              = "SENSORHUB_DEBUG"
)

// Defaults for unset settings.
const (
	DefaultRunDuration     = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultHTTPPort        = 8080
)

// DefaultConfigFiles are tried in order when SENSORHUB_CONFIG is unset.
var DefaultConfigFiles = []string{"config.yaml", "config.yml", "config.json"}

// Settings are the process settings of the hub.
type Settings struct {
	ConfigPath string

	TrustStorePath     string
	TrustStorePassword string
	TrustAlias         string

	AllowLoose bool
	PluginDirs []string

	// RunDuration is how long devices run before shutdown; zero runs until
	// the process is interrupted.
	RunDuration     time.Duration
	ShutdownTimeout time.Duration

	// HTTPPort of the status API; zero disables it.
	HTTPPort int
	Debug    bool
}

// LoadSettings loads envFiles (".env" when none are given; missing files
// are ignored) into the environment and reads the settings from it.
// Variables already set in the environment win over file values.
func LoadSettings(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return SettingsFromEnv(os.Getenv)
}

// SettingsFromEnv reads the settings through getenv, applying defaults.
func SettingsFromEnv(getenv func(string) string) (*Settings, error) {
	s := &Settings{
		ConfigPath:         getenv(EnvConfig),
		TrustStorePath:     getenv(EnvTrustStore),
		TrustStorePassword: getenv(EnvTrustStorePassword),
		TrustAlias:         getenv(EnvTrustAlias),
		PluginDirs:         splitList(getenv(EnvPluginDirs)),
		RunDuration:        DefaultRunDuration,
		ShutdownTimeout:    DefaultShutdownTimeout,
		HTTPPort:           DefaultHTTPPort,
	}

	var errs []error
	parse := func(key string, fn func(string) error) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		if err := fn(v); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err))
		}
	}
	parse(EnvAllowLoose, func(v string) (err error) {
		s.AllowLoose, err = strconv.ParseBool(v)
		return err
	})
	parse(EnvDebug, func(v string) (err error) {
		s.Debug, err = strconv.ParseBool(v)
		return err
	})
	parse(EnvRunDuration, func(v string) error {
		return parseDuration(v, &s.RunDuration)
	})
	parse(EnvShutdownTimeout, func(v string) error {
		return parseDuration(v, &s.ShutdownTimeout)
	})
	parse(EnvHTTPPort, func(v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("port out of range")
		}
		s.HTTPPort = port
		return nil
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// ResolveConfigPath returns ConfigPath, or the first of DefaultConfigFiles
// that exists in dir.
func (s *Settings) ResolveConfigPath(dir string) (string, error) {
	if s.ConfigPath != "" {
		return s.ConfigPath, nil
	}
	for _, name := range DefaultConfigFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found in %s (tried %s)", dir, strings.Join(DefaultConfigFiles, ", "))
}

func parseDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative duration")
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool {
		return r == os.PathListSeparator || r == ','
	}) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
