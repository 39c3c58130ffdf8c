package loader

import (
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"sync"

	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
)

// SymbolTable is the part of a loaded Go plugin the loader uses.
type SymbolTable interface {
	Lookup(symbol string) (goplugin.Symbol, error)
}

const stagingPattern = "sensorhub-lib-"

type libraryOpener func(path string) (SymbolTable, error)

func openLibrary(path string) (SymbolTable, error) {
	return goplugin.Open(path)
}

// libraryCache opens each shared object once. Go plugins cannot be
// unloaded, so entries live for the life of the process.
type libraryCache struct {
	open libraryOpener

	mu     sync.Mutex
	tables map[string]SymbolTable
}

func newLibraryCache(open libraryOpener) *libraryCache {
	return &libraryCache{open: open, tables: make(map[string]SymbolTable)}
}

func (c *libraryCache) factory(cand Candidate, desc *Descriptor) (plugin.Factory, error) {
	key := cand.Path + "!" + desc.Library

	c.mu.Lock()
	defer c.mu.Unlock()

	table, ok := c.tables[key]
	if !ok {
		path, cleanup, err := libraryPath(cand, desc.Library)
		if err != nil {
			return nil, err
		}
		// a loaded shared object stays mapped after its file is removed
		table, err = c.open(path)
		cleanup()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot open library %s from %s: %v",
				ErrContractViolation, desc.Library, cand.Path, err)
		}
		c.tables[key] = table
	}

	sym, err := table.Lookup(desc.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: library %s has no symbol %s: %v",
			ErrContractViolation, desc.Library, desc.Symbol, err)
	}
	f, ok := asFactory(sym)
	if !ok {
		return nil, fmt.Errorf("%w: symbol %s in %s has type %T, not a component factory",
			ErrContractViolation, desc.Symbol, desc.Library, sym)
	}
	return f, nil
}

// asFactory accepts an exported factory function or an exported Factory
// variable (which Lookup returns as a pointer).
func asFactory(sym goplugin.Symbol) (plugin.Factory, bool) {
	switch f := sym.(type) {
	case func(*plugin.Context, string, component.Options) (component.Component, error):
		return f, true
	case plugin.Factory:
		return f, true
	case *plugin.Factory:
		if f == nil || *f == nil {
			return nil, false
		}
		return *f, true
	default:
		return nil, false
	}
}

// libraryPath returns a filesystem path for the shared object and a
// function that removes whatever was staged for it. Libraries inside
// archives are written from the verified archive contents to a private
// temporary directory.
func libraryPath(cand Candidate, library string) (string, func(), error) {
	if cand.Kind == CandidateDirectory {
		return filepath.Join(cand.Path, filepath.FromSlash(library)), func() {}, nil
	}
	if cand.archive == nil {
		return "", nil, fmt.Errorf("%w: %s was not admitted", ErrContractViolation, cand.Path)
	}

	data, ok, err := readArchiveEntry(cand.archive, library)
	if err != nil {
		return "", nil, fmt.Errorf("%w: cannot read library %s from %s: %v", ErrContractViolation, library, cand.Path, err)
	}
	if !ok {
		return "", nil, fmt.Errorf("%w: %s does not contain library %s", ErrContractViolation, cand.Path, library)
	}

	dir, err := os.MkdirTemp("", stagingPattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stage library: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	path := filepath.Join(dir, filepath.Base(library))
	if err := os.WriteFile(path, data, 0o700); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage library: %w", err)
	}
	return path, cleanup, nil
}
