// Package crypto holds the node's signing identity and its on-disk keystore.
//
// The identity is an Ed25519 keypair; its ledger address is the account that
// receives royalties and that payment envelopes must name. Private keys are
// stored encrypted with AES-256-GCM under an Argon2id-derived key.
package crypto

import (
	"crypto/ed25519"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

// Ed25519KeyPair represents an Ed25519 identity keypair.
// The private key is 64 bytes (seed + public key concatenated).
type Ed25519KeyPair struct {
	PublicKey  ed25519.PublicKey  // 32 bytes
	PrivateKey ed25519.PrivateKey // 64 bytes
}

// Address returns the ledger address controlled by the keypair.
func (kp *Ed25519KeyPair) Address() ledger.Address {
	return ledger.AddressFromPublicKey(kp.PublicKey)
}

// KeystoreEntry represents an encrypted Ed25519 private key stored on disk.
type KeystoreEntry struct {
	Version       int            `json:"version"`        // Format version (currently 1)
	KDF           string         `json:"kdf"`            // Key derivation function ("argon2id")
	Argon2Time    int            `json:"argon2_time"`    // Argon2 time parameter
	Argon2Memory  int            `json:"argon2_memory"`  // Argon2 memory in KiB
	Argon2Threads int            `json:"argon2_threads"` // Argon2 parallelism
	Address       ledger.Address `json:"address"`        // Cleartext, for listing without the passphrase
	Salt          []byte         `json:"salt"`
	Nonce         []byte         `json:"nonce"`
	Ciphertext    []byte         `json:"ciphertext"` // Encrypted private key + auth tag
}
