// Package trust decides whether a plugin artifact may be loaded. It keeps a
// password-protected store of trusted certificates, signs plugin archives
// and verifies archive signatures against the trusted certificate.
package trust

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trust store defaults.
const (
	DefaultStorePath = "truststore.yaml"
	DefaultPassword  = "123456"
	DefaultAlias     = "myAlias"
)

var (
	// ErrKeystoreUnavailable means the trust store is missing, unreadable,
	// tampered with or does not hold the requested alias.
	ErrKeystoreUnavailable = errors.New("trust store unavailable")

	// ErrUntrustedArtifact means an artifact failed verification.
	ErrUntrustedArtifact = errors.New("untrusted artifact")
)

// Entry is one trusted certificate.
type Entry struct {
	Alias       string
	Certificate *x509.Certificate
}

// Store is a loaded, integrity-checked trust store. It is immutable.
type Store struct {
	entries map[string]Entry
}

type storeFile struct {
	Entries []storeFileEntry `yaml:"entries"`
	MAC     string           `yaml:"mac"`
}

type storeFileEntry struct {
	Alias       string `yaml:"alias"`
	Certificate string `yaml:"certificate"`
}

// LoadStore reads the store at path and checks its MAC with password.
func LoadStore(path, password string) (*Store, error) {
	file, err := readStoreFile(path, password)
	if err != nil {
		return nil, err
	}

	store := &Store{entries: make(map[string]Entry, len(file.Entries))}
	for _, e := range file.Entries {
		cert, err := ParseCertificatePEM([]byte(e.Certificate))
		if err != nil {
			return nil, fmt.Errorf("%w: alias %s: %v", ErrKeystoreUnavailable, e.Alias, err)
		}
		store.entries[e.Alias] = Entry{Alias: e.Alias, Certificate: cert}
	}
	return store, nil
}

// Certificate returns the trusted certificate stored under alias.
func (s *Store) Certificate(alias string) (*x509.Certificate, error) {
	e, ok := s.entries[alias]
	if !ok {
		return nil, fmt.Errorf("%w: no certificate for alias %q", ErrKeystoreUnavailable, alias)
	}
	return e.Certificate, nil
}

// Aliases returns the stored aliases in sorted order.
func (s *Store) Aliases() []string {
	out := make([]string, 0, len(s.entries))
	for alias := range s.entries {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Import adds certPEM under alias to the store at path, replacing any
// certificate already stored under that alias. A missing store is created.
// An existing store must open with password.
func Import(path, password, alias string, certPEM []byte) error {
	if alias == "" {
		return fmt.Errorf("alias cannot be empty")
	}
	if _, err := ParseCertificatePEM(certPEM); err != nil {
		return err
	}

	file := &storeFile{}
	if _, err := os.Stat(path); err == nil {
		file, err = readStoreFile(path, password)
		if err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat trust store: %w", err)
	}

	replaced := false
	for i := range file.Entries {
		if file.Entries[i].Alias == alias {
			file.Entries[i].Certificate = string(certPEM)
			replaced = true
		}
	}
	if !replaced {
		file.Entries = append(file.Entries, storeFileEntry{Alias: alias, Certificate: string(certPEM)})
	}
	file.MAC = hex.EncodeToString(storeMAC(password, file.Entries))

	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to encode trust store: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create trust store directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write trust store: %w", err)
	}
	return nil
}

func readStoreFile(path, password string) (*storeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeystoreUnavailable, err)
	}

	var file storeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: malformed store: %v", ErrKeystoreUnavailable, err)
	}

	got, err := hex.DecodeString(file.MAC)
	if err != nil || !hmac.Equal(got, storeMAC(password, file.Entries)) {
		return nil, fmt.Errorf("%w: integrity check failed (wrong password or tampered store)", ErrKeystoreUnavailable)
	}
	return &file, nil
}

// storeMAC authenticates the entry list independently of its order.
func storeMAC(password string, entries []storeFileEntry) []byte {
	sorted := make([]storeFileEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Alias < sorted[j].Alias })

	mac := hmac.New(sha256.New, []byte(password))
	for _, e := range sorted {
		mac.Write([]byte(e.Alias))
		mac.Write([]byte{0})
		mac.Write([]byte(strings.TrimSpace(e.Certificate)))
		mac.Write([]byte{0})
	}
	return mac.Sum(nil)
}

// ParseCertificatePEM decodes the first CERTIFICATE block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no PEM certificate found")
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			return cert, nil
		}
	}
}
