package quicutil

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestLoadOrCreateCert(t *testing.T) {
	dir := t.TempDir()

	certPEM, keyPEM, err := LoadOrCreateCert(dir, "tuno.example", "10.1.2.3")
	if err != nil {
		t.Fatalf("LoadOrCreateCert failed: %v", err)
	}
	if _, err := MakeTLSConfig(certPEM, keyPEM); err != nil {
		t.Fatalf("MakeTLSConfig failed: %v", err)
	}

	block, _ := pem.Decode(certPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificate failed: %v", err)
	}
	if err := cert.VerifyHostname("tuno.example"); err != nil {
		t.Errorf("Expected tuno.example in SANs: %v", err)
	}
	if err := cert.VerifyHostname("10.1.2.3"); err != nil {
		t.Errorf("Expected 10.1.2.3 in SANs: %v", err)
	}

	// Second call reuses the files
	again, _, err := LoadOrCreateCert(dir)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !bytes.Equal(again, certPEM) {
		t.Error("Expected the stored certificate to be reused")
	}
}
