// Package config loads the component configuration file and the process
// settings of the hub.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sensorhub/pkg/component"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ComponentSpec declares one device or receiver. Name and Type are
// required; Options holds the whole declaration, name and type included,
// and is handed to the component constructor verbatim.
type ComponentSpec struct {
	Name    string
	Type    string
	Options component.Options
}

// UnmarshalYAML decodes a mapping into a ComponentSpec.
func (c *ComponentSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Options = component.Options(raw)
	c.Name = strings.TrimSpace(c.Options.String("name", ""))
	c.Type = strings.TrimSpace(c.Options.String("type", ""))
	return nil
}

// MarshalYAML encodes the declaration as its options.
func (c ComponentSpec) MarshalYAML() (any, error) {
	out := make(map[string]any, len(c.Options)+2)
	for k, v := range c.Options {
		out[k] = v
	}
	out["name"] = c.Name
	out["type"] = c.Type
	return out, nil
}

// Config is the component configuration: what to build and how to wire it.
type Config struct {
	Devices   []ComponentSpec `yaml:"devices"`
	Receivers []ComponentSpec `yaml:"receivers"`

	// Routes are [device, sensor, receiver] triples. Their shape is
	// checked when routes are created, not here.
	Routes [][]string `yaml:"routes"`
}

// Load reads and validates the configuration file at path. The YAML
// parser also accepts JSON documents.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Loading component config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logger.Info("Component config loaded",
		zap.String("path", path),
		zap.Int("devices", len(cfg.Devices)),
		zap.Int("receivers", len(cfg.Receivers)),
		zap.Int("routes", len(cfg.Routes)))
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for _, specs := range [][]ComponentSpec{c.Devices, c.Receivers} {
		for i := range specs {
			if specs[i].Options == nil {
				specs[i].Options = component.Options{}
			}
		}
	}
}

// Validate checks that every declaration names its component and type.
func (c *Config) Validate() error {
	var errs []error
	check := func(category string, specs []ComponentSpec) {
		for i, s := range specs {
			if s.Name == "" {
				errs = append(errs, fmt.Errorf("%w: %s[%d]: name is required", ErrInvalidConfig, category, i))
			}
			if s.Type == "" {
				errs = append(errs, fmt.Errorf("%w: %s[%d]: type is required", ErrInvalidConfig, category, i))
			}
		}
	}
	check("devices", c.Devices)
	check("receivers", c.Receivers)
	return errors.Join(errs...)
}
