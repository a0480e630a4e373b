package chunker

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// BuildFile computes the chunk signature of the file at filePath.
func BuildFile(filePath string, opts Options) (*Signature, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Build(file, opts)
}

// Build reads r sequentially in BlockSize pieces and digests every non-empty piece.
// Short reads from r never move a chunk boundary.
func Build(r io.Reader, opts Options) (*Signature, error) {
	opts = opts.normalized()

	c, err := NewChunker(r, opts.BlockSize)
	if err != nil {
		return nil, err
	}

	sig := &Signature{Algo: opts.Algo, BlockSize: opts.BlockSize}
	for i := 0; ; i++ {
		block, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}

		h := opts.Algo.New()
		h.Write(block)
		sig.Digests = append(sig.Digests, h.Sum(nil))
	}

	return sig, nil
}

// Chunker provides streaming chunking of data from an io.Reader
type Chunker struct {
	reader    io.Reader
	chunkSize int
	done      bool
}

// NewChunker creates a new streaming chunker
func NewChunker(r io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	return &Chunker{
		reader:    r,
		chunkSize: chunkSize,
	}, nil
}

// Next returns the next chunk of data. Every chunk but the last is exactly chunkSize
// bytes. The returned slice is owned by the caller. Returns io.EOF once exhausted.
func (c *Chunker) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	buf := make([]byte, c.chunkSize)
	n, err := io.ReadFull(c.reader, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	default:
		return nil, err
	}
}
