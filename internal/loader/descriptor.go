package loader

import (
	"fmt"
	"path"
	"strings"

	"sensorhub/pkg/plugin"

	"gopkg.in/yaml.v3"
)

// Namespace prefixes every qualified component type name and names the
// descriptor directory inside an artifact.
const Namespace = "sensorhub"

// DefaultSymbol is the library symbol looked up when a descriptor names a
// library without a symbol.
const DefaultSymbol = "Factory"

// QualifiedName returns the fully qualified name of a simple type name.
func QualifiedName(typeName string) string {
	return Namespace + "." + typeName
}

// DescriptorPath returns the slash-separated artifact path of the
// descriptor for typeName.
func DescriptorPath(typeName string) string {
	return path.Join(Namespace, typeName+".yaml")
}

// Descriptor declares what a plugin artifact provides for one type.
type Descriptor struct {
	Kind        plugin.Kind `yaml:"kind"`
	Factory     string      `yaml:"factory"`
	Library     string      `yaml:"library"`
	Symbol      string      `yaml:"symbol"`
	Description string      `yaml:"description"`
}

// ParseDescriptor decodes and validates a descriptor for typeName,
// applying defaults. Every failure wraps ErrContractViolation.
func ParseDescriptor(data []byte, typeName string) (*Descriptor, error) {
	var raw struct {
		Kind        string `yaml:"kind"`
		Factory     string `yaml:"factory"`
		Library     string `yaml:"library"`
		Symbol      string `yaml:"symbol"`
		Description string `yaml:"description"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed descriptor for %s: %v", ErrContractViolation, QualifiedName(typeName), err)
	}

	kind, err := plugin.ParseKind(raw.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: descriptor for %s: %v", ErrContractViolation, QualifiedName(typeName), err)
	}

	d := &Descriptor{
		Kind:        kind,
		Factory:     strings.TrimSpace(raw.Factory),
		Library:     strings.TrimSpace(raw.Library),
		Symbol:      strings.TrimSpace(raw.Symbol),
		Description: raw.Description,
	}
	if d.Factory == "" {
		d.Factory = typeName
	}
	if d.Library != "" {
		clean := path.Clean(d.Library)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return nil, fmt.Errorf("%w: descriptor for %s: library %q escapes the artifact",
				ErrContractViolation, QualifiedName(typeName), d.Library)
		}
		d.Library = clean
		if d.Symbol == "" {
			d.Symbol = DefaultSymbol
		}
	}
	return d, nil
}
