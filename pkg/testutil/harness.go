// Package testutil provides testing utilities for sensorhub components and
// plugin authors: signed plugin artifacts, a trust store, recording
// receivers, scripted devices and a mock WebSocket sink.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sensorhub/internal/trust"
	"sensorhub/pkg/canvas"
	"sensorhub/pkg/clock"
	"sensorhub/pkg/plugin"

	"go.uber.org/zap"
)

// Trust store credentials used by every TestEnv.
const (
	TestStorePassword = "test-password"
	TestAlias         = "vendor"
)

// TestEnv provides a complete environment for plugin loading tests: a
// temporary plugin directory, a vendor CA registered in a trust store, a
// signing certificate issued by that CA and a plugin context with a mock
// clock and recording surfaces.
//
// Example usage:
//
//	env := testutil.NewTestEnv(t)
//	env.SignedPlugin(t, "dev4b.zip", map[string]string{
//	    "Dev4b": testutil.Descriptor("device", "Dev4b"),
//	}, nil)
//
//	// Point the loader at env.PluginDir with env.TrustConfig()
type TestEnv struct {
	Dir       string
	PluginDir string
	StorePath string

	CA     *KeyPair
	Vendor *KeyPair

	Logger   *zap.Logger
	Clock    *clock.MockClock
	Surfaces *canvas.RecorderFactory
	Context  *plugin.Context
}

// NewTestEnv creates a test environment rooted in t.TempDir().
func NewTestEnv(t testing.TB) *TestEnv {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}

	dir := t.TempDir()
	env := &TestEnv{
		Dir:       dir,
		PluginDir: filepath.Join(dir, "plugins"),
		StorePath: filepath.Join(dir, "truststore.yaml"),
		CA:        NewCA(t, "Vendor Root CA"),
		Logger:    logger,
		Clock:     clock.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Surfaces:  canvas.NewRecorderFactory(plugin.DefaultSurfaceWidth, plugin.DefaultSurfaceHeight),
	}
	env.Vendor = env.CA.Issue(t, "Vendor Plugin Signing")
	env.Context = plugin.NewContext(logger, env.Clock, env.Surfaces)

	if err := trust.Import(env.StorePath, TestStorePassword, TestAlias, env.CA.CertPEM); err != nil {
		t.Fatalf("create trust store: %v", err)
	}
	return env
}

// TrustConfig returns the verifier configuration for the environment's
// trust store.
func (e *TestEnv) TrustConfig() trust.Config {
	return trust.Config{StorePath: e.StorePath, Password: TestStorePassword, Alias: TestAlias}
}

// Descriptor returns the YAML of a plugin descriptor.
func Descriptor(kind, factory string) string {
	return fmt.Sprintf("kind: %s\nfactory: %s\n", kind, factory)
}

// DescriptorEntry returns the artifact path of the descriptor for typeName.
func DescriptorEntry(typeName string) string {
	return "sensorhub/" + typeName + ".yaml"
}

// SignedPlugin writes a plugin archive into PluginDir, signed by the
// vendor certificate. descriptors maps type names to descriptor YAML;
// extra holds any further entries.
func (e *TestEnv) SignedPlugin(t testing.TB, fileName string, descriptors, extra map[string]string) string {
	t.Helper()
	return e.SignedPluginBy(t, e.Vendor, fileName, descriptors, extra)
}

// SignedPluginBy is SignedPlugin with an arbitrary signing certificate.
func (e *TestEnv) SignedPluginBy(t testing.TB, signer *KeyPair, fileName string, descriptors, extra map[string]string) string {
	t.Helper()
	unsigned := filepath.Join(e.Dir, "unsigned", fileName)
	WriteZip(t, unsigned, pluginFiles(descriptors, extra))

	s, err := trust.NewSigner(signer.CertPEM, signer.KeyPEM)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	signed := filepath.Join(e.PluginDir, fileName)
	if err := os.MkdirAll(e.PluginDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", e.PluginDir, err)
	}
	if err := trust.Sign(unsigned, signed, s); err != nil {
		t.Fatalf("sign %s: %v", fileName, err)
	}
	return signed
}

// UnsignedPlugin writes an unsigned plugin archive into PluginDir.
func (e *TestEnv) UnsignedPlugin(t testing.TB, fileName string, descriptors map[string]string) string {
	t.Helper()
	path := filepath.Join(e.PluginDir, fileName)
	WriteZip(t, path, pluginFiles(descriptors, nil))
	return path
}

// LooseDescriptor writes a descriptor directly below PluginDir, outside
// any archive.
func (e *TestEnv) LooseDescriptor(t testing.TB, typeName, yaml string) string {
	t.Helper()
	path := filepath.Join(e.PluginDir, filepath.FromSlash(DescriptorEntry(typeName)))
	WriteFile(t, path, []byte(yaml))
	return path
}

func pluginFiles(descriptors, extra map[string]string) map[string]string {
	files := make(map[string]string, len(descriptors)+len(extra))
	for typeName, yaml := range descriptors {
		files[DescriptorEntry(typeName)] = yaml
	}
	for name, content := range extra {
		files[name] = content
	}
	return files
}
