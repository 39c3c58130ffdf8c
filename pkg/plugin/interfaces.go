// Package plugin provides the factory registry that backs component
// loading. Component implementations register themselves with the global
// registry from init() functions; a plugin descriptor inside a signed
// artifact then names the factory to construct. Higher priority
// registrations override lower ones, which lets private builds replace the
// reference implementations at compile time.
package plugin

import (
	"fmt"
	"strings"

	"sensorhub/pkg/component"
)

// Kind is the capability a component type provides.
type Kind string

const (
	KindDevice   Kind = "device"
	KindReceiver Kind = "receiver"
)

// ParseKind converts a descriptor kind string. Matching ignores case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDevice:
		return KindDevice, nil
	case KindReceiver:
		return KindReceiver, nil
	default:
		return "", fmt.Errorf("unknown component kind %q", s)
	}
}

func (k Kind) String() string { return string(k) }

// Satisfies reports whether c implements the interface required by k.
func (k Kind) Satisfies(c component.Component) bool {
	switch k {
	case KindDevice:
		_, ok := c.(component.Device)
		return ok
	case KindReceiver:
		_, ok := c.(component.Receiver)
		return ok
	default:
		return false
	}
}

// Factory constructs a named component instance. opts is the component's
// configuration entry, passed through unmodified.
type Factory func(ctx *Context, name string, opts component.Options) (component.Component, error)
