package chunker

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrIntegrity is returned when received bytes do not match the recorded signature.
var ErrIntegrity = errors.New("chunk integrity check failed")

// IntegrityError describes the chunk that failed verification.
type IntegrityError struct {
	Index  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chunk %d: %s", e.Index, e.Reason)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Verifier checks a byte stream against a Signature in strict chunk order.
// Bytes handed to Consume may be framed arbitrarily; the verifier re-chunks them on
// signature block boundaries and only releases bytes belonging to verified chunks.
// A Verifier is not safe for concurrent use.
type Verifier struct {
	sig     *Signature
	cursor  int
	pending []byte
}

// NewVerifier returns a verifier positioned at chunk 0.
func NewVerifier(sig *Signature) *Verifier {
	if sig.BlockSize <= 0 || sig.Algo == "" {
		opts := Options{BlockSize: sig.BlockSize, Algo: sig.Algo}.normalized()
		sig = &Signature{Algo: opts.Algo, BlockSize: opts.BlockSize, Digests: sig.Digests}
	}
	return &Verifier{sig: sig}
}

// Cursor returns the index of the next chunk expected.
func (v *Verifier) Cursor() int {
	return v.cursor
}

// Done reports whether every chunk of the signature has been verified.
func (v *Verifier) Done() bool {
	return v.cursor == v.sig.Len() && len(v.pending) == 0
}

// Consume verifies every complete chunk available after appending data to the
// pending buffer and returns the bytes of the chunks that matched.
// On failure the cursor and pending buffer are left as they were before the call
// and no bytes are returned.
func (v *Verifier) Consume(data []byte) ([]byte, error) {
	startCursor := v.cursor
	startPending := len(v.pending)

	buf := append(v.pending, data...)
	bs := v.sig.BlockSize

	var accepted []byte
	off := 0
	for len(buf)-off >= bs {
		if err := v.check(buf[off : off+bs]); err != nil {
			v.cursor = startCursor
			v.pending = buf[:startPending]
			return nil, err
		}
		accepted = append(accepted, buf[off:off+bs]...)
		off += bs
	}

	if off < len(buf) && v.cursor >= v.sig.Len() {
		v.cursor = startCursor
		v.pending = buf[:startPending]
		return nil, &IntegrityError{Index: v.sig.Len(), Reason: "data beyond end of signature"}
	}

	v.pending = append([]byte(nil), buf[off:]...)
	return accepted, nil
}

// Finish verifies the trailing short chunk, if any, and checks that the whole
// signature was covered. It returns the bytes of the final chunk.
func (v *Verifier) Finish() ([]byte, error) {
	var accepted []byte
	if len(v.pending) > 0 {
		if err := v.check(v.pending); err != nil {
			return nil, err
		}
		if v.cursor != v.sig.Len() {
			v.cursor--
			return nil, &IntegrityError{Index: v.cursor, Reason: "short chunk before end of signature"}
		}
		accepted = v.pending
		v.pending = nil
	}

	if v.cursor != v.sig.Len() {
		return nil, &IntegrityError{Index: v.cursor, Reason: fmt.Sprintf("stream ended after %d of %d chunks", v.cursor, v.sig.Len())}
	}
	return accepted, nil
}

// check hashes block against the digest at the cursor and advances on match.
func (v *Verifier) check(block []byte) error {
	if v.cursor >= v.sig.Len() {
		return &IntegrityError{Index: v.cursor, Reason: "data beyond end of signature"}
	}

	h := v.sig.Algo.New()
	h.Write(block)
	if !bytes.Equal(h.Sum(nil), v.sig.Digests[v.cursor]) {
		return &IntegrityError{Index: v.cursor, Reason: "digest mismatch"}
	}
	v.cursor++
	return nil
}
