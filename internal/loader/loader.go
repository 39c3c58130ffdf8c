// Package loader finds, admits and instantiates plugin components by type
// name. Artifacts are zip archives (verified by an Admitter) or, when
// explicitly allowed, loose descriptor directories.
package loader

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"go.uber.org/zap"
)

var (
	// ErrPluginNotFound means no admitted artifact provides the type.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrCapabilityMismatch means the type exists but is not the
	// requested kind of component.
	ErrCapabilityMismatch = errors.New("capability mismatch")

	// ErrContractViolation means the artifact's descriptor or library
	// does not honor the plugin contract.
	ErrContractViolation = errors.New("plugin contract violation")

	// ErrConstructionFailed means the component constructor failed.
	ErrConstructionFailed = errors.New("component construction failed")
)

// DefaultExtensions is the archive extension allow-list.
var DefaultExtensions = []string{".zip"}

// Admitter decides whether an archive may be loaded. An admitted archive
// is returned as a reader over the verified bytes; the loader reads
// descriptors and libraries only from it.
type Admitter interface {
	Admit(path string) (*zip.Reader, error)
}

// AdmitFunc adapts a function to Admitter.
type AdmitFunc func(path string) (*zip.Reader, error)

// Admit calls f.
func (f AdmitFunc) Admit(path string) (*zip.Reader, error) { return f(path) }

// Locations supplies the ordered plugin search path.
type Locations interface {
	Locations() []string
}

// LocationList is a fixed search path.
type LocationList []string

// Locations returns the list.
func (l LocationList) Locations() []string { return l }

// CandidateKind distinguishes the two artifact forms.
type CandidateKind string

const (
	CandidateArchive   CandidateKind = "archive"
	CandidateDirectory CandidateKind = "directory"
)

// Candidate is an artifact that provides a requested type.
type Candidate struct {
	Path string
	Kind CandidateKind

	archive *zip.Reader
}

// Resolution is the outcome of a successful type lookup.
type Resolution struct {
	TypeName   string
	Candidate  Candidate
	Descriptor *Descriptor
	Factory    plugin.Factory
}

// Config controls which artifacts are searched.
type Config struct {
	// AllowLoose permits unverifiable descriptor directories. Archives
	// are always searched first.
	AllowLoose bool

	// Extensions is the archive extension allow-list, DefaultExtensions
	// when empty.
	Extensions []string
}

// LoadHook observes every Load outcome.
type LoadHook func(kind plugin.Kind, typeName string, res *Resolution, err error)

// Loader resolves type names to factories and constructs components.
type Loader struct {
	locations Locations
	admitter  Admitter
	registry  *plugin.Registry
	pctx      *plugin.Context
	cfg       Config
	logger    *zap.Logger
	libraries *libraryCache
	hook      LoadHook

	mu       sync.Mutex
	admitted map[string]admission
}

type admission struct {
	archive *zip.Reader
	err     error
}

// New creates a loader. A nil registry means the global registry and a nil
// plugin context means plugin.NewContext defaults.
func New(locations Locations, admitter Admitter, registry *plugin.Registry, pctx *plugin.Context, cfg Config, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = plugin.Global()
	}
	if pctx == nil {
		pctx = plugin.NewContext(logger, nil, nil)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	return &Loader{
		locations: locations,
		admitter:  admitter,
		registry:  registry,
		pctx:      pctx,
		cfg:       cfg,
		logger:    logger.Named("loader"),
		libraries: newLibraryCache(openLibrary),
		admitted:  make(map[string]admission),
	}
}

// Reset forgets every admitted archive, so the next lookup reads each one
// again and hands it to the Admitter. The factory calls it once per batch.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.admitted = make(map[string]admission)
	l.mu.Unlock()
}

// admit returns the verified contents of archive, asking the admitter at
// most once between resets.
func (l *Loader) admit(archive string) (*zip.Reader, error) {
	if l.admitter == nil {
		return nil, errors.New("no admitter configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.admitted[archive]; ok {
		return a.archive, a.err
	}
	zr, err := l.admitter.Admit(archive)
	if err == nil && zr == nil {
		err = errors.New("admitter returned no contents")
	}
	l.admitted[archive] = admission{archive: zr, err: err}
	return zr, err
}

// SetLoadHook installs h. It must be called before the loader is shared.
func (l *Loader) SetLoadHook(h LoadHook) {
	l.hook = h
}

// LoadDevice constructs a Device of typeName called name.
func (l *Loader) LoadDevice(typeName, name string, opts component.Options) (component.Device, error) {
	c, err := l.Load(plugin.KindDevice, typeName, name, opts)
	if err != nil {
		return nil, err
	}
	return c.(component.Device), nil
}

// LoadReceiver constructs a Receiver of typeName called name.
func (l *Loader) LoadReceiver(typeName, name string, opts component.Options) (component.Receiver, error) {
	c, err := l.Load(plugin.KindReceiver, typeName, name, opts)
	if err != nil {
		return nil, err
	}
	return c.(component.Receiver), nil
}

// Load resolves typeName, checks that it provides kind and constructs an
// instance. The returned component always satisfies kind.
func (l *Loader) Load(kind plugin.Kind, typeName, name string, opts component.Options) (component.Component, error) {
	res, err := l.Resolve(typeName)
	if err == nil {
		var c component.Component
		c, err = l.construct(kind, res, name, opts)
		if err == nil {
			l.logger.Info("Component loaded",
				zap.String("kind", kind.String()),
				zap.String("type", QualifiedName(typeName)),
				zap.String("name", name),
				zap.String("artifact", res.Candidate.Path))
			l.notify(kind, typeName, res, nil)
			return c, nil
		}
	}
	l.notify(kind, typeName, res, err)
	return nil, err
}

func (l *Loader) notify(kind plugin.Kind, typeName string, res *Resolution, err error) {
	if l.hook != nil {
		l.hook(kind, typeName, res, err)
	}
}

// Resolve searches the locations in order for the first admitted artifact
// providing typeName and resolves its factory.
func (l *Loader) Resolve(typeName string) (*Resolution, error) {
	if typeName == "" || strings.ContainsAny(typeName, `/\`) || strings.Contains(typeName, "..") {
		return nil, fmt.Errorf("%w: invalid type name %q", ErrPluginNotFound, typeName)
	}

	locations := l.locations.Locations()
	rejected := 0
	for _, loc := range locations {
		for _, archive := range l.archives(loc) {
			zr, err := l.admit(archive)
			if err != nil {
				rejected++
				l.logger.Debug("Skipping unadmitted artifact", zap.String("path", archive), zap.Error(err))
				continue
			}
			data, ok, err := readArchiveEntry(zr, DescriptorPath(typeName))
			if err != nil {
				l.logger.Debug("Skipping unreadable artifact", zap.String("path", archive), zap.Error(err))
				continue
			}
			if ok {
				return l.resolve(typeName, Candidate{Path: archive, Kind: CandidateArchive, archive: zr}, data)
			}
		}

		if !l.cfg.AllowLoose {
			continue
		}
		descPath := filepath.Join(loc, filepath.FromSlash(DescriptorPath(typeName)))
		data, err := os.ReadFile(descPath)
		if err == nil {
			return l.resolve(typeName, Candidate{Path: loc, Kind: CandidateDirectory}, data)
		}
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Debug("Skipping unreadable descriptor", zap.String("path", descPath), zap.Error(err))
		}
	}

	return nil, fmt.Errorf("%w: %s in %d locations (%d artifacts rejected)",
		ErrPluginNotFound, QualifiedName(typeName), len(locations), rejected)
}

func (l *Loader) resolve(typeName string, cand Candidate, data []byte) (*Resolution, error) {
	desc, err := ParseDescriptor(data, typeName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cand.Path, err)
	}

	res := &Resolution{TypeName: typeName, Candidate: cand, Descriptor: desc}
	if desc.Library != "" {
		res.Factory, err = l.libraries.factory(cand, desc)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	info := l.registry.Get(desc.Factory)
	if info == nil {
		return nil, fmt.Errorf("%w: %s names unregistered factory %q",
			ErrContractViolation, cand.Path, desc.Factory)
	}
	if info.Kind != desc.Kind {
		return nil, fmt.Errorf("%w: factory %q builds %s components, descriptor declares %s",
			ErrContractViolation, desc.Factory, info.Kind, desc.Kind)
	}
	res.Factory = info.Factory
	return res, nil
}

func (l *Loader) construct(kind plugin.Kind, res *Resolution, name string, opts component.Options) (component.Component, error) {
	qualified := QualifiedName(res.TypeName)
	if res.Descriptor.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s",
			ErrCapabilityMismatch, qualified, res.Descriptor.Kind, kind)
	}

	c, err := safeConstruct(res.Factory, l.pctx, name, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrConstructionFailed, qualified, name, err)
	}
	if c == nil || c.Name() == "" {
		closeComponent(c)
		return nil, fmt.Errorf("%w: %s %q: constructor returned an unnamed component",
			ErrConstructionFailed, qualified, name)
	}
	if !kind.Satisfies(c) {
		closeComponent(c)
		return nil, fmt.Errorf("%w: %s instance %T does not implement %s",
			ErrCapabilityMismatch, qualified, c, kind)
	}
	// receivers key subscriber sets
	if !reflect.TypeOf(c).Comparable() {
		closeComponent(c)
		return nil, fmt.Errorf("%w: %s instance %T is not comparable; return a pointer",
			ErrContractViolation, qualified, c)
	}
	return c, nil
}

func safeConstruct(f plugin.Factory, ctx *plugin.Context, name string, opts component.Options) (c component.Component, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	return f(ctx, name, opts)
}

func closeComponent(c component.Component) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}

// archives lists the allow-listed archive files directly inside dir, in
// name order.
func (l *Loader) archives(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Debug("Skipping unreadable location", zap.String("path", dir), zap.Error(err))
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !l.allowedExtension(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}

func (l *Loader) allowedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range l.cfg.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func readArchiveEntry(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
	return nil, false, nil
}
