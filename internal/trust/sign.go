package trust

import (
	"archive/zip"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SignatureBlockName is the archive entry holding the signature metadata.
const SignatureBlockName = "META-INF/SIGNATURES.yaml"

type signatureBlock struct {
	Certificates []string                  `yaml:"certificates"`
	Entries      map[string]entrySignature `yaml:"entries"`
}

type entrySignature struct {
	Digest      string `yaml:"digest"`
	Signature   string `yaml:"signature"`
	Certificate int    `yaml:"certificate"`
}

// Signer signs archive entries with a private key whose certificate is
// embedded in the signed archive.
type Signer struct {
	Certificate *x509.Certificate
	CertPEM     []byte
	Key         crypto.Signer
}

// LoadSigner reads a PEM certificate and a PEM private key (PKCS#8, SEC 1
// EC or PKCS#1 RSA).
func LoadSigner(certPath, keyPath string) (*Signer, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return NewSigner(certPEM, keyPEM)
}

// NewSigner builds a Signer from PEM data.
func NewSigner(certPEM, keyPEM []byte) (*Signer, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{Certificate: cert, CertPEM: certPEM, Key: key}, nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM private key found")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

// Sign writes a signed copy of the zip archive src to dst. Every file
// entry is copied and recorded in the signature block; a signature block
// already present in src is replaced.
func Sign(src, dst string, signer *Signer) (err error) {
	if signer == nil || signer.Key == nil || signer.Certificate == nil {
		return errors.New("signer requires a certificate and a private key")
	}

	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create signed archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close signed archive: %w", cerr)
		}
	}()

	block := signatureBlock{
		Certificates: []string{string(certificatePEM(signer))},
		Entries:      make(map[string]entrySignature),
	}

	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		if f.Name == SignatureBlockName {
			continue
		}
		if f.FileInfo().IsDir() {
			if _, err := zw.Create(f.Name); err != nil {
				return fmt.Errorf("failed to copy %s: %w", f.Name, err)
			}
			continue
		}

		data, err := readEntry(f)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(data)
		sig, err := signDigest(signer.Key, digest[:])
		if err != nil {
			return fmt.Errorf("failed to sign %s: %w", f.Name, err)
		}
		block.Entries[f.Name] = entrySignature{
			Digest:    hex.EncodeToString(digest[:]),
			Signature: base64.StdEncoding.EncodeToString(sig),
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: f.Modified,
		})
		if err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.Name, err)
		}
	}

	meta, err := yaml.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to encode signature block: %w", err)
	}
	w, err := zw.Create(SignatureBlockName)
	if err != nil {
		return fmt.Errorf("failed to write signature block: %w", err)
	}
	if _, err := w.Write(meta); err != nil {
		return fmt.Errorf("failed to write signature block: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish signed archive: %w", err)
	}
	return nil
}

func certificatePEM(s *Signer) []byte {
	if len(s.CertPEM) > 0 && strings.Contains(string(s.CertPEM), "CERTIFICATE") {
		return s.CertPEM
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.Certificate.Raw})
}

func signDigest(key crypto.Signer, digest []byte) ([]byte, error) {
	if _, ok := key.Public().(ed25519.PublicKey); ok {
		return key.Sign(rand.Reader, digest, crypto.Hash(0))
	}
	return key.Sign(rand.Reader, digest, crypto.SHA256)
}

func verifyDigest(pub any, digest, sig []byte) error {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest, sig) {
			return errors.New("ecdsa signature mismatch")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(k, digest, sig) {
			return errors.New("ed25519 signature mismatch")
		}
		return nil
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest, sig)
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", f.Name, err)
	}
	return data, nil
}
