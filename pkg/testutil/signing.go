package testutil

import (
	"archive/zip"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// KeyPair is a certificate with its private key, both also PEM-encoded.
type KeyPair struct {
	Cert    *x509.Certificate
	Key     *ecdsa.PrivateKey
	CertPEM []byte
	KeyPEM  []byte
}

// NewCA creates a self-signed ECDSA certificate authority.
func NewCA(t testing.TB, commonName string) *KeyPair {
	t.Helper()
	return newKeyPair(t, commonName, nil)
}

// Issue creates a leaf certificate signed by kp.
func (kp *KeyPair) Issue(t testing.TB, commonName string) *KeyPair {
	t.Helper()
	return newKeyPair(t, commonName, kp)
}

// WriteFiles writes the certificate and key PEM files into dir and returns
// their paths.
func (kp *KeyPair) WriteFiles(t testing.TB, dir, base string) (certPath, keyPath string) {
	t.Helper()
	certPath = filepath.Join(dir, base+".crt")
	keyPath = filepath.Join(dir, base+".key")
	WriteFile(t, certPath, kp.CertPEM)
	WriteFile(t, keyPath, kp.KeyPEM)
	return certPath, keyPath
}

var serial atomic.Int64

func newKeyPair(t testing.TB, commonName string, issuer *KeyPair) *KeyPair {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"sensorhub tests"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  issuer == nil,
	}

	parent, signer := tmpl, key
	if issuer != nil {
		parent, signer = issuer.Cert, issuer.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	return &KeyPair{
		Cert:    cert,
		Key:     key,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteZip writes a zip archive at path holding files (entry name to
// content) in name order.
func WriteZip(t testing.TB, path string, files map[string]string) {
	t.Helper()
	data, err := buildZip(files, "")
	if err != nil {
		t.Fatalf("build zip %s: %v", path, err)
	}
	WriteFile(t, path, data)
}

// ReplaceZip overwrites the archive at path with an unsigned archive of
// files, padded through the archive comment to the same size and given the
// same modification time as the file it replaces.
func ReplaceZip(t testing.TB, path string, files map[string]string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	data, err := buildZip(files, "")
	if err != nil {
		t.Fatalf("build zip %s: %v", path, err)
	}
	pad := info.Size() - int64(len(data))
	if pad < 0 || pad > 0xffff {
		t.Fatalf("cannot pad %d byte archive to %d bytes", len(data), info.Size())
	}
	if data, err = buildZip(files, strings.Repeat(" ", int(pad))); err != nil {
		t.Fatalf("build zip %s: %v", path, err)
	}
	WriteFile(t, path, data)
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func buildZip(files map[string]string, comment string) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			return nil, err
		}
	}
	if comment != "" {
		if err := zw.SetComment(comment); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func SetZipEntry(t testing.TB, path, name, content string) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	files := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		buf := make([]byte, f.UncompressedSize64)
		if _, err := io.ReadFull(rc, buf); err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		rc.Close()
		files[f.Name] = string(buf)
	}
	zr.Close()

	files[name] = content
	WriteZip(t, path, files)
}
