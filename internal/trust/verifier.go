package trust

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config locates the trust store and the trusted signer alias.
type Config struct {
	StorePath string
	Password  string
	Alias     string
}

func (c Config) withDefaults() Config {
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.Alias == "" {
		c.Alias = DefaultAlias
	}
	return c
}

// VerdictHook observes every fresh (non-cached) verification result.
type VerdictHook func(path string, err error)

// Verifier decides whether plugin archives are admissible. The trust store
// is loaded once, on first use. Verdicts are cached per path and content
// digest, so a changed file is always verified again.
type Verifier struct {
	cfg    Config
	logger *zap.Logger

	loadOnce sync.Once
	trusted  *x509.Certificate
	loadErr  error

	mu      sync.Mutex
	verdict map[string]cachedVerdict
	hook    VerdictHook
}

type cachedVerdict struct {
	digest [sha256.Size]byte
	err    error
}

// NewVerifier creates a verifier. Empty Config fields take the package
// defaults.
func NewVerifier(cfg Config, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("trust"),
		verdict: make(map[string]cachedVerdict),
	}
}

// SetVerdictHook installs h for subsequent verifications.
func (v *Verifier) SetVerdictHook(h VerdictHook) {
	v.mu.Lock()
	v.hook = h
	v.mu.Unlock()
}

// Admit reads the archive at path into memory and verifies it. On success
// it returns a reader over exactly the bytes that were verified; callers
// must take entries from it rather than reopening path.
func (v *Verifier) Admit(path string) (*zip.Reader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, untrusted("%v", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, untrusted("%v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, untrusted("malformed archive: %v", err)
	}
	digest := sha256.Sum256(data)

	v.mu.Lock()
	cached, ok := v.verdict[abs]
	hook := v.hook
	v.mu.Unlock()
	if ok && cached.digest == digest {
		if cached.err != nil {
			return nil, cached.err
		}
		return zr, nil
	}

	err = v.verify(zr)
	if err != nil {
		v.logger.Debug("Artifact rejected", zap.String("path", abs), zap.Error(err))
	} else {
		v.logger.Debug("Artifact admitted", zap.String("path", abs))
	}
	if hook != nil {
		hook(abs, err)
	}

	v.mu.Lock()
	v.verdict[abs] = cachedVerdict{digest: digest, err: err}
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return zr, nil
}

// IsAdmissible reports whether the archive at path is fully signed by a
// certificate issued under the trusted alias. Any failure rejects.
func (v *Verifier) IsAdmissible(path string) bool {
	return v.Verify(path) == nil
}

// Verify returns nil for an admissible archive, otherwise an error
// wrapping ErrUntrustedArtifact or ErrKeystoreUnavailable.
func (v *Verifier) Verify(path string) error {
	_, err := v.Admit(path)
	return err
}

// TrustedCertificate returns the certificate of the configured alias,
// loading the store on first use.
func (v *Verifier) TrustedCertificate() (*x509.Certificate, error) {
	v.loadOnce.Do(func() {
		store, err := LoadStore(v.cfg.StorePath, v.cfg.Password)
		if err != nil {
			v.loadErr = err
			v.logger.Warn("Trust store unavailable, rejecting all artifacts",
				zap.String("path", v.cfg.StorePath),
				zap.Error(err))
			return
		}
		v.trusted, v.loadErr = store.Certificate(v.cfg.Alias)
		if v.loadErr == nil {
			v.logger.Info("Trust store loaded",
				zap.String("path", v.cfg.StorePath),
				zap.String("alias", v.cfg.Alias),
				zap.String("subject", v.trusted.Subject.String()))
		}
	})
	return v.trusted, v.loadErr
}

func (v *Verifier) verify(zr *zip.Reader) error {
	trusted, err := v.TrustedCertificate()
	if err != nil {
		return err
	}

	block, err := readSignatureBlock(zr)
	if err != nil {
		return err
	}

	certs := make([]*x509.Certificate, len(block.Certificates))
	for i, p := range block.Certificates {
		cert, err := ParseCertificatePEM([]byte(p))
		if err != nil {
			return untrusted("certificate %d: %v", i, err)
		}
		certs[i] = cert
	}

	seen := make(map[string]bool)
	used := make(map[int]bool)
	signed := 0
	for _, f := range zr.File {
		if f.Name == SignatureBlockName || f.FileInfo().IsDir() {
			continue
		}
		if seen[f.Name] {
			return untrusted("duplicate entry %s", f.Name)
		}
		seen[f.Name] = true

		rec, ok := block.Entries[f.Name]
		if !ok {
			return untrusted("unsigned entry %s", f.Name)
		}
		if rec.Certificate < 0 || rec.Certificate >= len(certs) {
			return untrusted("entry %s: certificate index %d out of range", f.Name, rec.Certificate)
		}

		data, err := readEntry(f)
		if err != nil {
			return untrusted("%v", err)
		}
		digest := sha256.Sum256(data)
		if hex.EncodeToString(digest[:]) != rec.Digest {
			return untrusted("entry %s: digest mismatch", f.Name)
		}
		sig, err := base64.StdEncoding.DecodeString(rec.Signature)
		if err != nil {
			return untrusted("entry %s: malformed signature: %v", f.Name, err)
		}
		if err := verifyDigest(certs[rec.Certificate].PublicKey, digest[:], sig); err != nil {
			return untrusted("entry %s: %v", f.Name, err)
		}
		used[rec.Certificate] = true
		signed++
	}
	if signed == 0 {
		return untrusted("archive has no signed entries")
	}

	for i := range used {
		cert := certs[i]
		if err := trusted.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
			return untrusted("signer %q is not issued by the trusted certificate: %v", cert.Subject.CommonName, err)
		}
	}
	return nil
}

func readSignatureBlock(zr *zip.Reader) (*signatureBlock, error) {
	var found *zip.File
	for _, f := range zr.File {
		if f.Name == SignatureBlockName {
			if found != nil {
				return nil, untrusted("duplicate signature block")
			}
			found = f
		}
	}
	if found == nil {
		return nil, untrusted("archive is not signed")
	}

	data, err := readEntry(found)
	if err != nil {
		return nil, untrusted("%v", err)
	}
	var block signatureBlock
	if err := yaml.Unmarshal(data, &block); err != nil {
		return nil, untrusted("malformed signature block: %v", err)
	}
	return &block, nil
}

func untrusted(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUntrustedArtifact, fmt.Sprintf(format, args...))
}
