package ledger

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SchemeEd25519 is the signature scheme flag for ed25519.
const SchemeEd25519 = 0x00

// SignatureLength is the serialized length of an ed25519 signature: flag, signature, public key.
const SignatureLength = 1 + ed25519.SignatureSize + ed25519.PublicKeySize

// ErrBadSignature is returned when a transaction signature does not verify.
var ErrBadSignature = errors.New("invalid transaction signature")

// AddressFromPublicKey derives the account address of an ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{SchemeEd25519})
	h.Write(pub)
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// SigningDigest returns the message signed by the sender: the hash of the intent and the data.
func (td *TransactionData) SigningDigest() [32]byte {
	msg := append(intent[:], td.Marshal()...)
	return blake2b.Sum256(msg)
}

// Digest returns the transaction digest the ledger reports for td.
func (td *TransactionData) Digest() Digest {
	msg := append([]byte("TransactionData::"), td.Marshal()...)
	return Digest(blake2b.Sum256(msg))
}

// Digest returns the digest of the transaction data.
func (tx *Transaction) Digest() Digest {
	return tx.Data.Digest()
}

// Sign signs td with priv and returns the signed transaction.
// The key must belong to td.Sender.
func Sign(td TransactionData, priv ed25519.PrivateKey) (*Transaction, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key")
	}
	if AddressFromPublicKey(pub) != td.Sender {
		return nil, fmt.Errorf("key does not belong to sender %s", td.Sender)
	}

	digest := td.SigningDigest()
	sig := make([]byte, 0, SignatureLength)
	sig = append(sig, SchemeEd25519)
	sig = append(sig, ed25519.Sign(priv, digest[:])...)
	sig = append(sig, pub...)

	return &Transaction{Data: td, Signatures: [][]byte{sig}}, nil
}

// VerifySignatures checks that every signature is valid over the transaction data
// and that one of them belongs to the sender.
func (tx *Transaction) VerifySignatures() error {
	if len(tx.Signatures) == 0 {
		return fmt.Errorf("%w: no signatures", ErrBadSignature)
	}

	digest := tx.Data.SigningDigest()
	senderSigned := false
	for i, sig := range tx.Signatures {
		if len(sig) != SignatureLength || sig[0] != SchemeEd25519 {
			return fmt.Errorf("%w: signature %d has unsupported encoding", ErrBadSignature, i)
		}
		raw := sig[1 : 1+ed25519.SignatureSize]
		pub := ed25519.PublicKey(sig[1+ed25519.SignatureSize:])
		if !ed25519.Verify(pub, digest[:], raw) {
			return fmt.Errorf("%w: signature %d does not verify", ErrBadSignature, i)
		}
		if AddressFromPublicKey(pub) == tx.Data.Sender {
			senderSigned = true
		}
	}
	if !senderSigned {
		return fmt.Errorf("%w: no signature from sender %s", ErrBadSignature, tx.Data.Sender)
	}
	return nil
}
