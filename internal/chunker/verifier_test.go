package chunker

import (
	"bytes"
	"errors"
	"testing"
)

func buildSig(t *testing.T, data []byte, bs int) *Signature {
	t.Helper()
	sig, err := Build(bytes.NewReader(data), Options{BlockSize: bs})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return sig
}

func TestVerifier_TrueChunksAdvance(t *testing.T) {
	const bs = 512
	data := testData(bs * 4)
	v := NewVerifier(buildSig(t, data, bs))

	for i := 0; i < 4; i++ {
		got, err := v.Consume(data[i*bs : (i+1)*bs])
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		if !bytes.Equal(got, data[i*bs:(i+1)*bs]) {
			t.Errorf("chunk %d: accepted bytes differ", i)
		}
		if v.Cursor() != i+1 {
			t.Errorf("chunk %d: expected cursor %d, got %d", i, i+1, v.Cursor())
		}
	}

	if _, err := v.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if !v.Done() {
		t.Error("Verifier should be done")
	}
}

func TestVerifier_MismatchLeavesCursor(t *testing.T) {
	const bs = 512
	data := testData(bs * 3)
	v := NewVerifier(buildSig(t, data, bs))

	if _, err := v.Consume(data[:bs]); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	// Feed chunk 2 where chunk 1 is expected
	got, err := v.Consume(data[2*bs:])
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("Expected integrity error, got %v", err)
	}
	if got != nil {
		t.Error("No bytes should be returned on mismatch")
	}
	if v.Cursor() != 1 {
		t.Errorf("Cursor should stay at 1, got %d", v.Cursor())
	}

	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.Index != 1 {
		t.Errorf("Expected failure at index 1, got %v", err)
	}

	// The true chunk is still accepted afterwards
	if _, err := v.Consume(data[bs : 2*bs]); err != nil {
		t.Fatalf("Consume of true chunk failed: %v", err)
	}
	if v.Cursor() != 2 {
		t.Errorf("Expected cursor 2, got %d", v.Cursor())
	}
}

func TestVerifier_FailedCallIsAtomic(t *testing.T) {
	const bs = 256
	data := testData(bs * 4)
	v := NewVerifier(buildSig(t, data, bs))

	// Chunks 0 and 1 are good, chunk 2 is corrupted, all in one call
	corrupt := append([]byte(nil), data[:3*bs]...)
	corrupt[2*bs+10] ^= 0x01

	if _, err := v.Consume(corrupt); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("Expected integrity error, got %v", err)
	}
	if v.Cursor() != 0 {
		t.Errorf("Cursor should be restored to 0, got %d", v.Cursor())
	}

	got, err := v.Consume(data)
	if err != nil {
		t.Fatalf("Consume after failure: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Expected all bytes after retry")
	}
}

func TestVerifier_ArbitraryFraming(t *testing.T) {
	const bs = 1000
	data := testData(bs*3 + 123)
	v := NewVerifier(buildSig(t, data, bs))

	var out []byte
	last := 0
	for off := 0; off < len(data); off += 333 {
		end := off + 333
		if end > len(data) {
			end = len(data)
		}
		got, err := v.Consume(data[off:end])
		if err != nil {
			t.Fatalf("Consume at %d failed: %v", off, err)
		}
		if v.Cursor() < last {
			t.Fatalf("Cursor decreased from %d to %d", last, v.Cursor())
		}
		last = v.Cursor()
		out = append(out, got...)
	}

	tail, err := v.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	out = append(out, tail...)

	if !bytes.Equal(out, data) {
		t.Error("Verified output differs from input")
	}
	if v.Cursor() != 4 {
		t.Errorf("Expected cursor 4, got %d", v.Cursor())
	}
}

func TestVerifier_ShortFinalChunk(t *testing.T) {
	const bs = 100
	data := testData(250)
	v := NewVerifier(buildSig(t, data, bs))

	got, err := v.Consume(data)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(got) != 200 {
		t.Errorf("Expected 200 bytes before Finish, got %d", len(got))
	}

	tail, err := v.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if !bytes.Equal(tail, data[200:]) {
		t.Error("Final short chunk differs")
	}
}

func TestVerifier_PaddedFinalChunkRejected(t *testing.T) {
	const bs = 100
	data := testData(250)
	v := NewVerifier(buildSig(t, data, bs))

	padded := append(append([]byte(nil), data...), make([]byte, 50)...)
	if _, err := v.Consume(padded); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected padded final chunk to fail, got %v", err)
	}
}

func TestVerifier_TruncatedStream(t *testing.T) {
	const bs = 100
	data := testData(400)
	v := NewVerifier(buildSig(t, data, bs))

	if _, err := v.Consume(data[:200]); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if _, err := v.Finish(); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected truncated stream to fail, got %v", err)
	}
}

func TestVerifier_ShortChunkMidStream(t *testing.T) {
	const bs = 100
	data := testData(400)
	v := NewVerifier(buildSig(t, data, bs))

	if _, err := v.Consume(data[:150]); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if _, err := v.Finish(); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected error, got %v", err)
	}
	if v.Cursor() != 1 {
		t.Errorf("Cursor should stay at 1, got %d", v.Cursor())
	}
}

func TestVerifier_ExtraData(t *testing.T) {
	const bs = 100
	data := testData(200)
	v := NewVerifier(buildSig(t, data, bs))

	if _, err := v.Consume(append(append([]byte(nil), data...), 'x')); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected error for data beyond signature, got %v", err)
	}
	if v.Cursor() != 0 {
		t.Errorf("Cursor should be restored, got %d", v.Cursor())
	}
}

func TestVerifier_EmptySignature(t *testing.T) {
	v := NewVerifier(buildSig(t, nil, 100))
	if _, err := v.Finish(); err != nil {
		t.Errorf("Empty stream should verify against empty signature: %v", err)
	}
	if _, err := v.Consume([]byte{1}); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected error, got %v", err)
	}
}
