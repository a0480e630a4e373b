package chunker

import (
	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot computes the Merkle root from chunk digests.
// An odd node at any level is paired with itself.
func ComputeMerkleRoot(digests [][]byte) []byte {
	if len(digests) == 0 {
		return nil
	}

	level := make([][]byte, len(digests))
	copy(level, digests)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			combined := make([]byte, 0, len(level[i])+len(right))
			combined = append(combined, level[i]...)
			combined = append(combined, right...)

			parent := blake3.Sum256(combined)
			next = append(next, parent[:])
		}
		level = next
	}

	return level[0]
}
