package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// GenerateEd25519 generates a new Ed25519 identity keypair.
func GenerateEd25519() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 keypair: %w", err)
	}

	return &Ed25519KeyPair{
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// KeyPairFromPrivate rebuilds a keypair from a 64-byte private key.
func KeyPairFromPrivate(priv []byte) (*Ed25519KeyPair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("Ed25519 private key must be 64 bytes")
	}
	key := ed25519.PrivateKey(append([]byte(nil), priv...))
	return &Ed25519KeyPair{
		PublicKey:  key.Public().(ed25519.PublicKey),
		PrivateKey: key,
	}, nil
}
