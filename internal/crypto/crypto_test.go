package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

// TestGenerateEd25519 tests Ed25519 keypair generation
func TestGenerateEd25519(t *testing.T) {
	kp, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519() failed: %v", err)
	}

	if len(kp.PublicKey) != 32 {
		t.Errorf("Public key length = %d, want 32", len(kp.PublicKey))
	}

	if len(kp.PrivateKey) != 64 {
		t.Errorf("Private key length = %d, want 64", len(kp.PrivateKey))
	}

	if kp.Address() != ledger.AddressFromPublicKey(kp.PublicKey) {
		t.Error("Address does not match the public key")
	}
}

func TestKeyPairFromPrivate(t *testing.T) {
	kp, _ := GenerateEd25519()

	rebuilt, err := KeyPairFromPrivate(kp.PrivateKey)
	if err != nil {
		t.Fatalf("KeyPairFromPrivate() failed: %v", err)
	}
	if !bytes.Equal(rebuilt.PublicKey, kp.PublicKey) {
		t.Error("Rebuilt public key differs")
	}

	if _, err := KeyPairFromPrivate(kp.PrivateKey[:32]); err == nil {
		t.Error("Expected error for short key")
	}
}

// TestSealAndOpen tests AES-GCM encryption roundtrip
func TestSealAndOpen(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	rand.Read(key)
	rand.Read(nonce)

	plaintext := []byte("Hello from Tuno!")
	aad := []byte("identity")

	ciphertext, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	// Plaintext + 16-byte tag
	if len(ciphertext) != len(plaintext)+16 {
		t.Errorf("Ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+16)
	}

	decrypted, err := Open(key, nonce, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("Decrypted plaintext does not match original")
	}

	// Flip a bit
	ciphertext[0] ^= 0x01
	if _, err := Open(key, nonce, aad, ciphertext); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}

	if _, err := Seal(key[:16], nonce, nil, plaintext); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize, got %v", err)
	}
}

// TestSaveLoadKeyWithPassphrase tests encrypted keystore roundtrip
func TestSaveLoadKeyWithPassphrase(t *testing.T) {
	kp, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519() failed: %v", err)
	}

	keystorePath := filepath.Join(t.TempDir(), "identity.key")
	passphrase := "test-passphrase-123"

	written, err := SaveKey(kp.PrivateKey, keystorePath, passphrase)
	if err != nil {
		t.Fatalf("SaveKey() failed: %v", err)
	}
	if written != keystorePath {
		t.Errorf("Expected %s, got %s", keystorePath, written)
	}

	loadedKey, err := LoadKey(keystorePath, passphrase)
	if err != nil {
		t.Fatalf("LoadKey() failed: %v", err)
	}
	if !bytes.Equal(loadedKey, kp.PrivateKey) {
		t.Error("Loaded key does not match original")
	}

	// Address is readable without the passphrase
	addr, err := ReadAddress(keystorePath)
	if err != nil {
		t.Fatalf("ReadAddress() failed: %v", err)
	}
	if addr != kp.Address() {
		t.Errorf("Expected address %s, got %s", kp.Address(), addr)
	}

	_, err = LoadKey(keystorePath, "wrong-passphrase")
	if !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Expected ErrInvalidPassphrase, got %v", err)
	}
}

// TestSaveLoadKeyWithoutPassphrase tests insecure keystore
func TestSaveLoadKeyWithoutPassphrase(t *testing.T) {
	kp, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519() failed: %v", err)
	}

	keystorePath := filepath.Join(t.TempDir(), "identity.key")

	written, err := SaveKey(kp.PrivateKey, keystorePath, "")
	if err != nil {
		t.Fatalf("SaveKey() failed: %v", err)
	}

	insecurePath := keystorePath + ".insecure"
	if written != insecurePath {
		t.Errorf("Expected %s, got %s", insecurePath, written)
	}
	if _, err := os.Stat(insecurePath); os.IsNotExist(err) {
		t.Error("Insecure keystore file was not created")
	}

	loadedKey, err := LoadKey(insecurePath, "")
	if err != nil {
		t.Fatalf("LoadKey() failed: %v", err)
	}
	if !bytes.Equal(loadedKey, kp.PrivateKey) {
		t.Error("Loaded key does not match original")
	}
}

func TestLoadOrCreate(t *testing.T) {
	keystorePath := filepath.Join(t.TempDir(), "keys", "identity.key")

	first, err := LoadOrCreate(keystorePath, "secret")
	if err != nil {
		t.Fatalf("LoadOrCreate() failed: %v", err)
	}
	second, err := LoadOrCreate(keystorePath, "secret")
	if err != nil {
		t.Fatalf("LoadOrCreate() reload failed: %v", err)
	}
	if first.Address() != second.Address() {
		t.Error("Reload produced a different identity")
	}

	msg := []byte("royalties")
	if !ed25519.Verify(second.PublicKey, msg, ed25519.Sign(first.PrivateKey, msg)) {
		t.Error("Reloaded key cannot verify signatures of the original")
	}

	if _, err := LoadOrCreate(keystorePath, "other"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Expected ErrInvalidPassphrase, got %v", err)
	}
}
