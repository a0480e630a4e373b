package node

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TunoMedia/TunoMedia/daemon/config"
	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/internal/crypto"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/observability"
	"github.com/TunoMedia/TunoMedia/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Ledger.PackageID = "0x7a11"
	cfg.Storage.Root = filepath.Join(dir, "media")
	cfg.Database.AuditPath = filepath.Join(dir, "requests.db")
	cfg.Database.CatalogPath = filepath.Join(dir, "catalog.db")
	cfg.Server.GRPCAddress = "127.0.0.1:0"
	cfg.Server.HTTPAddress = "127.0.0.1:0"
	cfg.Server.QUICAddress = "127.0.0.1:0"
	cfg.Server.CertDirectory = filepath.Join(dir, "tls")
	cfg.Observability.MetricsAddress = ""
	return cfg
}

func newNode(t *testing.T, cfg *config.Config) (*Node, *ledger.Memory) {
	t.Helper()
	kp, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 failed: %v", err)
	}
	mem := ledger.NewMemory(ledger.MustObjectID(cfg.Ledger.PackageID))
	n, err := New(context.Background(), cfg, Deps{Identity: kp, Ledger: mem})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n, mem
}

func TestNew_RequiresIdentityAndPackage(t *testing.T) {
	cfg := testConfig(t)
	if _, err := New(context.Background(), cfg, Deps{}); err == nil {
		t.Error("Expected error without identity")
	}

	kp, _ := crypto.GenerateEd25519()
	cfg.Ledger.PackageID = ""
	if _, err := New(context.Background(), cfg, Deps{Identity: kp}); err == nil {
		t.Error("Expected error without package id")
	}
}

func TestHealth(t *testing.T) {
	n, _ := newNode(t, testConfig(t))

	resp := n.Health().Check(context.Background())
	if resp.Status != observability.HealthStatusOK {
		t.Errorf("Expected OK, got %s: %+v", resp.Status, resp.Checks)
	}
	for _, name := range []string{"identity", "ledger", "content_store", "audit", "catalog"} {
		if _, ok := resp.Checks[name]; !ok {
			t.Errorf("Missing health component %s", name)
		}
	}
}

func TestOffered_PrunesCatalog(t *testing.T) {
	cfg := testConfig(t)
	n, _ := newNode(t, cfg)
	ctx := context.Background()

	kept := ledger.MustObjectID("0xaa01")
	gone := ledger.MustObjectID("0xbb02")
	if _, err := n.store.Put(ctx, kept, bytes.NewReader([]byte("payload")), false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cat, err := manager.OpenCatalog(cfg.Database.CatalogPath)
	if err != nil {
		t.Fatalf("OpenCatalog failed: %v", err)
	}
	for _, id := range []ledger.ObjectID{kept, gone} {
		if err := cat.Put(manager.CatalogEntry{ContentID: id}); err != nil {
			t.Fatalf("Catalog Put failed: %v", err)
		}
	}
	cat.Close()

	ids, err := n.Offered(ctx)
	if err != nil {
		t.Fatalf("Offered failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != kept {
		t.Errorf("Expected [%s], got %v", kept, ids)
	}

	cat, err = manager.OpenCatalog(cfg.Database.CatalogPath)
	if err != nil {
		t.Fatalf("OpenCatalog failed: %v", err)
	}
	defer cat.Close()
	entries, err := cat.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentID != kept {
		t.Errorf("Expected only %s to remain, got %+v", kept, entries)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	n, _ := newNode(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// The QUIC certificate is created on start
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(cfg.Server.CertDirectory, "cert.pem")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Node did not start its QUIC listener")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoadIdentity(t *testing.T) {
	kp, _ := crypto.GenerateEd25519()
	dir := t.TempDir()

	encrypted := filepath.Join(dir, "enc", "identity.key")
	if _, err := crypto.SaveKey(kp.PrivateKey, encrypted, "secret"); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}
	prompted := 0
	got, err := LoadIdentity(config.IdentityConfig{Keystore: encrypted}, func() (string, error) {
		prompted++
		return "secret", nil
	})
	if err != nil {
		t.Fatalf("LoadIdentity failed: %v", err)
	}
	if prompted != 1 || got.Address() != kp.Address() {
		t.Errorf("Expected one prompt and address %s, got %d prompts and %s", kp.Address(), prompted, got.Address())
	}

	plain := filepath.Join(dir, "plain", "identity.key")
	if _, err := crypto.SaveKey(kp.PrivateKey, plain, ""); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}
	got, err = LoadIdentity(config.IdentityConfig{Keystore: plain}, nil)
	if err != nil {
		t.Fatalf("LoadIdentity insecure failed: %v", err)
	}
	if got.Address() != kp.Address() {
		t.Error("Insecure keystore loaded a different identity")
	}

	if _, err := LoadIdentity(config.IdentityConfig{Keystore: filepath.Join(dir, "missing.key")}, nil); err == nil {
		t.Error("Expected error for missing keystore")
	}
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore(context.Background(), config.StorageConfig{Backend: "fs", Root: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	if _, ok := s.(*storage.FileSystemStore); !ok {
		t.Errorf("Expected *FileSystemStore, got %T", s)
	}
	if _, err := OpenStore(context.Background(), config.StorageConfig{Backend: "tape"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
