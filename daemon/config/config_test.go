package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TunoMedia/TunoMedia/internal/chunker"
	"github.com/TunoMedia/TunoMedia/internal/payment"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuno.yaml")
	data := `
server:
  grpc_address: "127.0.0.1:6000"
  encoding: raw
  stream_queue: 8
storage:
  root: ` + filepath.Join(dir, "media") + `
  block_size: 1024
  hash_algo: blake3
ledger:
  package_id: "0xabc"
  timeout: 5s
client:
  selection: cheapest
  block_size: 1024
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv(EnvLedgerURL, "http://127.0.0.1:9000")
	t.Setenv(EnvPassphrase, "hunter2")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("ValidateServer failed: %v", err)
	}

	if cfg.Server.GRPCAddress != "127.0.0.1:6000" {
		t.Errorf("Unexpected grpc address %s", cfg.Server.GRPCAddress)
	}
	if cfg.EnvelopeEncoding() != payment.EncodingRaw {
		t.Errorf("Expected raw encoding, got %s", cfg.EnvelopeEncoding())
	}
	if opts := cfg.ChunkOptions(); opts.BlockSize != 1024 || opts.Algo != chunker.AlgoBLAKE3 {
		t.Errorf("Unexpected chunk options %+v", opts)
	}
	if cfg.Ledger.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.Ledger.Timeout)
	}
	if cfg.Ledger.URL != "http://127.0.0.1:9000" {
		t.Errorf("Env override not applied: %s", cfg.Ledger.URL)
	}
	if cfg.Identity.Passphrase != "hunter2" {
		t.Error("Passphrase should come from the environment")
	}
	// Untouched sections keep defaults
	if cfg.Server.MaxBlockSize != DefaultConfig().Server.MaxBlockSize {
		t.Errorf("Expected default max block size, got %d", cfg.Server.MaxBlockSize)
	}

	pkg, err := cfg.Package()
	if err != nil || pkg.Hex() != "0x0000000000000000000000000000000000000000000000000000000000000abc" {
		t.Errorf("Unexpected package %s, %v", pkg, err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error without a package id")
	}

	cfg.Ledger.PackageID = "0x1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults with package id should validate: %v", err)
	}

	tests := map[string]func(*Config){
		"encoding":  func(c *Config) { c.Server.Encoding = "base64" },
		"backend":   func(c *Config) { c.Storage.Backend = "gcs" },
		"bucket":    func(c *Config) { c.Storage.Backend = "s3" },
		"hash":      func(c *Config) { c.Storage.HashAlgo = "md5" },
		"selection": func(c *Config) { c.Client.Selection = "fastest" },
		"url":       func(c *Config) { c.Ledger.URL = "node:9000" },
		"package":   func(c *Config) { c.Ledger.PackageID = "0xzz" },
	}
	for name, mutate := range tests {
		c := DefaultConfig()
		c.Ledger.PackageID = "0x1"
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
