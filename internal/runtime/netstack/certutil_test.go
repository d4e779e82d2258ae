package netstack

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSelfSignedTLS(t *testing.T) {
	cfg, err := SelfSignedTLS(LoopbackHosts, time.Hour)
	if err != nil {
		t.Fatalf("SelfSignedTLS: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS13 || len(cfg.Certificates) != 1 {
		t.Fatalf("config = %#v", cfg)
	}
	leaf := cfg.Certificates[0].Leaf
	if len(leaf.IPAddresses) != 2 || len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "localhost" {
		t.Fatalf("SANs: %v %v", leaf.IPAddresses, leaf.DNSNames)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("VerifyHostname: %v", err)
	}
	if d := leaf.NotAfter.Sub(leaf.NotBefore); d < time.Hour || d > 2*time.Hour {
		t.Fatalf("validity %v", d)
	}
}

func TestLoadTLSConfig(t *testing.T) {
	cfg, err := SelfSignedTLS([]string{"localhost"}, 0)
	if err != nil {
		t.Fatalf("self-signed: %v", err)
	}
	cert := cfg.Certificates[0]
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0o644); err != nil {
		t.Fatal(err)
	}
	key, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: key}), 0o600); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadTLSConfig(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadTLSConfig: %v", err)
	}
	if len(loaded.Certificates) != 1 || loaded.MinVersion != tls.VersionTLS13 {
		t.Fatalf("loaded = %#v", loaded)
	}

	if _, err := LoadTLSConfig(filepath.Join(dir, "missing.pem"), keyPath); err == nil {
		t.Fatal("expected error for missing certificate")
	}
}
