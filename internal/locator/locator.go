// Package locator computes the ordered list of directories searched for
// plugin artifacts.
package locator

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// PluginsSubdir is the conventional plugin directory below each base
// location.
const PluginsSubdir = "plugins"

// Locator produces the plugin search path. The working directory and
// executable lookups are injectable for tests.
type Locator struct {
	extra  []string
	logger *zap.Logger

	getwd      func() (string, error)
	executable func() (string, error)
}

// New creates a locator that appends extraDirs after the standard
// locations.
func New(extraDirs []string, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{
		extra:      append([]string(nil), extraDirs...),
		logger:     logger.Named("locator"),
		getwd:      os.Getwd,
		executable: os.Executable,
	}
}

// Locations returns, in order: the working directory, the executable's
// directory, the plugins subdirectory of each when it exists, then the
// extra directories. Duplicates are dropped by absolute path, keeping the
// first occurrence. A location that cannot be determined is omitted.
func (l *Locator) Locations() []string {
	var bases []string
	if wd, err := l.getwd(); err == nil {
		bases = append(bases, wd)
	} else {
		l.logger.Debug("Working directory unavailable", zap.Error(err))
	}
	if exe, err := l.executableDir(); err == nil {
		bases = append(bases, exe)
	} else {
		l.logger.Debug("Executable directory unavailable", zap.Error(err))
	}

	candidates := append([]string(nil), bases...)
	for _, base := range bases {
		sub := filepath.Join(base, PluginsSubdir)
		if info, err := os.Stat(sub); err == nil && info.IsDir() {
			candidates = append(candidates, sub)
		}
	}
	candidates = append(candidates, l.extra...)

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		abs = filepath.Clean(abs)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

func (l *Locator) executableDir() (string, error) {
	exe, err := l.executable()
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	return filepath.Dir(resolved), nil
}
