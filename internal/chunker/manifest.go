package chunker

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultBlockSize is the signature block size used when none is configured (512 KiB).
const DefaultBlockSize = 512 * 1024

// DigestSize is the size in bytes of every chunk digest.
const DigestSize = 32

// HashAlgo names the digest function of a signature.
type HashAlgo string

const (
	// AlgoSHA256 is the digest recorded on the ledger at publish time.
	AlgoSHA256 HashAlgo = "SHA256"
	// AlgoBLAKE3 is available for locally produced signatures.
	AlgoBLAKE3 HashAlgo = "BLAKE3"
)

// ParseHashAlgo parses a case-insensitive algorithm name.
func ParseHashAlgo(s string) (HashAlgo, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SHA256", "SHA-256":
		return AlgoSHA256, nil
	case "BLAKE3":
		return AlgoBLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", s)
	}
}

// New returns a fresh hasher for the algorithm.
func (a HashAlgo) New() hash.Hash {
	if a == AlgoBLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Options configures signature building and verification.
type Options struct {
	BlockSize int      // Signature block size in bytes (default: 512 KiB)
	Algo      HashAlgo // Digest algorithm (default: SHA256)
}

// DefaultOptions returns the default signature options.
func DefaultOptions() Options {
	return Options{
		BlockSize: DefaultBlockSize,
		Algo:      AlgoSHA256,
	}
}

func (o Options) normalized() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Algo == "" {
		o.Algo = AlgoSHA256
	}
	return o
}

// Signature is the ordered list of per-block digests of a file.
// Digests[i] covers bytes [i*BlockSize, (i+1)*BlockSize); the last block may be shorter.
type Signature struct {
	Algo      HashAlgo `json:"hash_algo"`
	BlockSize int      `json:"block_size"`
	Digests   [][]byte `json:"digests"`
}

// NewSignature wraps digests recorded elsewhere (e.g. on the ledger).
func NewSignature(digests [][]byte, opts Options) (*Signature, error) {
	opts = opts.normalized()
	for i, d := range digests {
		if len(d) != DigestSize {
			return nil, fmt.Errorf("digest %d has length %d, want %d", i, len(d), DigestSize)
		}
	}
	return &Signature{Algo: opts.Algo, BlockSize: opts.BlockSize, Digests: digests}, nil
}

// Len returns the number of chunks covered by the signature.
func (s *Signature) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Digests)
}

// Equal reports whether both signatures carry the same digests in the same order.
func (s *Signature) Equal(o *Signature) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.Digests) != len(o.Digests) {
		return false
	}
	for i := range s.Digests {
		if !bytes.Equal(s.Digests[i], o.Digests[i]) {
			return false
		}
	}
	return true
}

// MerkleRoot returns the Merkle root over the chunk digests.
func (s *Signature) MerkleRoot() []byte {
	return ComputeMerkleRoot(s.Digests)
}
