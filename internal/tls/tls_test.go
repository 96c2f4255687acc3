package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shineum/smtp-transport/internal/options"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cert == nil {
		t.Fatal("certificate is nil")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}

	foundDNS := false
	for _, dns := range leaf.DNSNames {
		if dns == "localhost" {
			foundDNS = true
			break
		}
	}
	if !foundDNS {
		t.Errorf("DNS SANs: %v does not contain localhost", leaf.DNSNames)
	}

	foundIP := false
	for _, ip := range leaf.IPAddresses {
		if ip.String() == "127.0.0.1" {
			foundIP = true
			break
		}
	}
	if !foundIP {
		t.Errorf("IP SANs: %v does not contain 127.0.0.1", leaf.IPAddresses)
	}

	// Verify validity period (approximately 1 year)
	validDuration := leaf.NotAfter.Sub(leaf.NotBefore)
	expectedDuration := 365 * 24 * time.Hour
	if validDuration < expectedDuration-time.Hour || validDuration > expectedDuration+time.Hour {
		t.Errorf("validity duration: got %v, want approximately %v", validDuration, expectedDuration)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}

	if leaf.Issuer.CommonName != leaf.Subject.CommonName {
		t.Errorf("issuer CN %q does not match subject CN %q", leaf.Issuer.CommonName, leaf.Subject.CommonName)
	}
}

func TestClientConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig(options.TLSOptions{}, "smtp.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("ServerName: got %q, want %q", cfg.ServerName, "smtp.example.com")
	}
	if cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should default to false")
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", cfg.MinVersion, standardtls.VersionTLS12)
	}
}

func TestClientConfig_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig(options.TLSOptions{
		ServerName:         "mx.example.com",
		InsecureSkipVerify: true,
	}, "10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "mx.example.com" {
		t.Errorf("ServerName: got %q, want %q", cfg.ServerName, "mx.example.com")
	}
	if !cfg.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to be true")
	}
}

func TestClientConfig_CAFile(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	cfg, err := ClientConfig(options.TLSOptions{CAFile: path}, "localhost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("RootCAs is nil")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: cfg.RootCAs, DNSName: "localhost"}); err != nil {
		t.Errorf("certificate not trusted by RootCAs: %v", err)
	}
}

func TestClientConfig_CAFileErrors(t *testing.T) {
	t.Parallel()

	if _, err := ClientConfig(options.TLSOptions{CAFile: "/nonexistent/ca.pem"}, "localhost"); err == nil {
		t.Error("expected error for missing CA file, got nil")
	}

	path := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := ClientConfig(options.TLSOptions{CAFile: path}, "localhost"); err == nil {
		t.Error("expected error for CA file without certificates, got nil")
	}
}

func TestServerConfig(t *testing.T) {
	t.Parallel()

	cfg, pool, err := ServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("Certificates: got %d, want 1", len(cfg.Certificates))
	}

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool, DNSName: "localhost"}); err != nil {
		t.Errorf("certificate not trusted by returned pool: %v", err)
	}
}
