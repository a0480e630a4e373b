package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

const (
	// Argon2id parameters (recommended values for interactive use)
	argon2Time      = 3     // Number of iterations
	argon2Memory    = 65536 // Memory in KiB (64 MiB)
	argon2Threads   = 4     // Parallelism factor
	argon2KeyLen    = 32    // Output key length (AES-256)
	saltSize        = 32    // Salt size in bytes
	keystoreVersion = 1     // Keystore format version

	insecureExt = ".insecure"
)

var (
	// ErrInvalidPassphrase is returned when the passphrase fails to decrypt the keystore
	ErrInvalidPassphrase = errors.New("invalid passphrase or corrupted keystore")
)

// SaveKey encrypts and saves an Ed25519 private key to disk.
//
// If passphrase is empty, the key is stored unencrypted under keystorePath+".insecure"
// (only for testing). Otherwise the key is sealed with AES-256-GCM using a key
// derived from the passphrase with Argon2id. It returns the path written.
func SaveKey(privateKey []byte, keystorePath string, passphrase string) (string, error) {
	kp, err := KeyPairFromPrivate(privateKey)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(keystorePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create keystore directory: %w", err)
	}

	var data []byte
	if passphrase == "" {
		data = kp.PrivateKey
		keystorePath += insecureExt
	} else {
		entry, err := encryptKey(kp, passphrase)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt key: %w", err)
		}
		data, err = json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal keystore entry: %w", err)
		}
	}

	// Owner read/write only
	if err := os.WriteFile(keystorePath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write keystore file: %w", err)
	}
	return keystorePath, nil
}

// LoadKey loads and decrypts an Ed25519 private key from disk.
// Files ending in ".insecure" are read without decryption.
func LoadKey(keystorePath string, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	if filepath.Ext(keystorePath) == insecureExt {
		if len(data) != 64 {
			return nil, errors.New("invalid unencrypted keystore: expected 64 bytes")
		}
		return data, nil
	}

	var entry KeystoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore entry: %w", err)
	}

	privateKey, err := decryptKey(&entry, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	return privateKey, nil
}

// ReadAddress returns the address recorded in an encrypted keystore without decrypting it.
func ReadAddress(keystorePath string) (ledger.Address, error) {
	if filepath.Ext(keystorePath) == insecureExt {
		priv, err := LoadKey(keystorePath, "")
		if err != nil {
			return ledger.Address{}, err
		}
		kp, err := KeyPairFromPrivate(priv)
		if err != nil {
			return ledger.Address{}, err
		}
		return kp.Address(), nil
	}

	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("failed to read keystore file: %w", err)
	}
	var entry KeystoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return ledger.Address{}, fmt.Errorf("failed to unmarshal keystore entry: %w", err)
	}
	return entry.Address, nil
}

// LoadOrCreate loads the identity at keystorePath, generating and saving a new
// one when neither the encrypted nor the insecure file exists.
func LoadOrCreate(keystorePath, passphrase string) (*Ed25519KeyPair, error) {
	path := keystorePath
	if passphrase == "" {
		path += insecureExt
	}

	priv, err := LoadKey(path, passphrase)
	if err == nil {
		return KeyPairFromPrivate(priv)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	kp, err := GenerateEd25519()
	if err != nil {
		return nil, err
	}
	if _, err := SaveKey(kp.PrivateKey, keystorePath, passphrase); err != nil {
		return nil, err
	}
	return kp, nil
}

func encryptKey(kp *Ed25519KeyPair, passphrase string) (*KeystoreEntry, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	derivedKey := argon2.IDKey(
		[]byte(passphrase),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext, err := Seal(derivedKey, nonce, nil, kp.PrivateKey)
	if err != nil {
		return nil, err
	}

	return &KeystoreEntry{
		Version:       keystoreVersion,
		KDF:           "argon2id",
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Address:       kp.Address(),
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

func decryptKey(entry *KeystoreEntry, passphrase string) ([]byte, error) {
	if entry.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", entry.Version)
	}
	if entry.KDF != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF: %s", entry.KDF)
	}

	// Derive with the stored parameters
	derivedKey := argon2.IDKey(
		[]byte(passphrase),
		entry.Salt,
		uint32(entry.Argon2Time),
		uint32(entry.Argon2Memory),
		uint8(entry.Argon2Threads),
		argon2KeyLen,
	)

	plaintext, err := Open(derivedKey, entry.Nonce, nil, entry.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	if len(plaintext) != 64 {
		return nil, errors.New("decrypted key has invalid size")
	}

	return plaintext, nil
}

// DefaultKeystorePath returns the default identity file.
// On Windows: %APPDATA%\tuno\identity.key
// On Unix: $XDG_DATA_HOME/tuno/identity.key or ~/.local/share/tuno/identity.key
func DefaultKeystorePath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "tuno", "identity.key")
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "tuno", "identity.key")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "tuno", "identity.key")
}
