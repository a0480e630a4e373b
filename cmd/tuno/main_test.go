package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TunoMedia/TunoMedia/daemon/client"
	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/internal/chunker"
	"github.com/TunoMedia/TunoMedia/internal/crypto"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/storage"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestAddContent(t *testing.T) {
	ctx := context.Background()
	opts := chunker.Options{BlockSize: 1024}

	payload := make([]byte, 5000)
	rand.Read(payload)
	sig, err := chunker.Build(bytes.NewReader(payload), opts)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	mem := ledger.NewMemory(ledger.MustObjectID("0x7a11"))
	id := mem.AddSong(ledger.Song{Title: "Song", Artist: "Artist", Signature: sig.Digests})
	unsigned := mem.AddSong(ledger.Song{Title: "Unsigned"})

	store, err := storage.NewFileSystemStore(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}
	cat, err := manager.OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog failed: %v", err)
	}
	defer cat.Close()

	tampered := append([]byte(nil), payload...)
	tampered[3000] ^= 0xff
	if _, _, err := addContent(ctx, mem, store, cat, opts, id, writeFile(t, tampered), false); !errors.Is(err, chunker.ErrIntegrity) {
		t.Fatalf("Expected ErrIntegrity for tampered file, got %v", err)
	}
	if has, _ := store.Has(ctx, id); has {
		t.Fatal("Tampered file was stored")
	}

	if _, _, err := addContent(ctx, mem, store, cat, opts, unsigned, writeFile(t, payload), false); !errors.Is(err, client.ErrNoSignature) {
		t.Errorf("Expected ErrNoSignature, got %v", err)
	}

	good := writeFile(t, payload)
	entry, _, err := addContent(ctx, mem, store, cat, opts, id, good, false)
	if err != nil {
		t.Fatalf("addContent failed: %v", err)
	}
	if entry.Size != int64(len(payload)) || entry.Signature.Len() != 5 || entry.Title != "Song" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	stored, err := os.ReadFile(store.Path(id))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Error("Stored payload differs")
	}
	if _, err := cat.Get(id); err != nil {
		t.Errorf("Catalog Get failed: %v", err)
	}

	if _, _, err := addContent(ctx, mem, store, cat, opts, id, good, false); !errors.Is(err, storage.ErrExists) {
		t.Errorf("Expected ErrExists, got %v", err)
	}
	if _, _, err := addContent(ctx, mem, store, cat, opts, id, good, true); err != nil {
		t.Errorf("Overwrite failed: %v", err)
	}
}

func TestGenerateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.key")

	kp, written, err := generateIdentity(path, "", false)
	if err != nil {
		t.Fatalf("generateIdentity failed: %v", err)
	}
	if written != path+".insecure" {
		t.Errorf("Expected %s.insecure, got %s", path, written)
	}
	if existingKeystore(path) != written {
		t.Errorf("existingKeystore returned %q", existingKeystore(path))
	}

	if _, _, err := generateIdentity(path, "secret", false); !errors.Is(err, errIdentityExists) {
		t.Fatalf("Expected errIdentityExists, got %v", err)
	}

	replaced, written, err := generateIdentity(path, "secret", true)
	if err != nil {
		t.Fatalf("generateIdentity --force failed: %v", err)
	}
	if written != path {
		t.Errorf("Expected %s, got %s", path, written)
	}
	if replaced.Address() == kp.Address() {
		t.Error("Forced generation kept the old key")
	}
	if existingKeystore(path) != path {
		t.Error("Insecure keystore should have been replaced")
	}
	addr, err := crypto.ReadAddress(path)
	if err != nil {
		t.Fatalf("ReadAddress failed: %v", err)
	}
	if addr != replaced.Address() {
		t.Errorf("Keystore address %s, want %s", addr.Hex(), replaced.Address().Hex())
	}
}

func TestBuildSignatureReport(t *testing.T) {
	data := make([]byte, 2*1024+1)
	rand.Read(data)
	path := writeFile(t, data)

	report, err := buildSignatureReport(path, chunker.Options{BlockSize: 1024, Algo: chunker.AlgoBLAKE3})
	if err != nil {
		t.Fatalf("buildSignatureReport failed: %v", err)
	}
	if report.Chunks != 3 || len(report.Digests) != 3 {
		t.Errorf("Expected 3 chunks, got %d", report.Chunks)
	}
	if report.Size != int64(len(data)) || report.Algo != "BLAKE3" || report.BlockSize != 1024 {
		t.Errorf("Unexpected report: %+v", report)
	}
	for _, d := range report.Digests {
		if len(d) != 2*chunker.DigestSize || strings.Trim(d, "0123456789abcdef") != "" {
			t.Errorf("Digest %q is not hex", d)
		}
	}

	if _, err := buildSignatureReport(filepath.Join(t.TempDir(), "missing"), chunker.DefaultOptions()); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSortedDistributors(t *testing.T) {
	a := ledger.Address{0x01}
	b := ledger.Address{0x02}
	song := &ledger.Song{Distributors: map[ledger.Address]ledger.Distributor{
		b: {URL: "http://b:50051"},
		a: {URL: "http://a:50051"},
	}}

	got := sortedDistributors(song)
	if len(got) != 2 || got[0].Address != a || got[1].Address != b {
		t.Errorf("Unexpected order: %+v", got)
	}
	first, err := client.SelectFirst(song)
	if err != nil || first.Address != got[0].Address {
		t.Errorf("SelectFirst chose %v (%v), listing starts with %v", first.Address, err, got[0].Address)
	}
}
