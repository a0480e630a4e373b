package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"

	"github.com/TunoMedia/TunoMedia/internal/payment"
)

var (
	ErrBadMagic               = errors.New("not a tuno stream")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrFrameTooLarge          = errors.New("frame exceeds size limit")
)

const (
	ProtocolVersion = 1

	// Upper bounds on what a peer may ask us to allocate.
	MaxEnvelopeSize = payment.MaxEnvelopeSize
	MaxChunkSize    = 64 << 20
	maxStatusText   = 1 << 10
)

var magic = [4]byte{'T', 'U', 'N', 'O'}

// Encoding flags of a request frame.
const (
	flagRaw uint8 = iota
	flagHex
)

// StreamRequest opens a StreamSong exchange. It is the only frame sent by the client.
//
//	magic[4] version[1] encoding[1] block_size[4] envelope_len[4] envelope
type StreamRequest struct {
	Encoding  payment.Encoding
	BlockSize uint32
	Envelope  []byte
}

// StreamStatus answers a request before any chunk is sent. A non-OK status ends the stream.
//
//	code[1] text_len[2] text
type StreamStatus struct {
	Code codes.Code
	Text string
}

func (s *StreamStatus) Error() string {
	return fmt.Sprintf("stream refused: %s: %s", s.Code, s.Text)
}

// WriteRequest writes req to w.
func WriteRequest(w io.Writer, req *StreamRequest) error {
	if len(req.Envelope) > MaxEnvelopeSize {
		return ErrFrameTooLarge
	}
	flag := flagHex
	if req.Encoding == payment.EncodingRaw {
		flag = flagRaw
	}

	hdr := make([]byte, 0, 14)
	hdr = append(hdr, magic[:]...)
	hdr = append(hdr, ProtocolVersion, flag)
	hdr = binary.BigEndian.AppendUint32(hdr, req.BlockSize)
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(len(req.Envelope)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(req.Envelope)
	return err
}

// ReadRequest reads a request frame from r.
func ReadRequest(r io.Reader) (*StreamRequest, error) {
	var hdr [14]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if [4]byte(hdr[:4]) != magic {
		return nil, ErrBadMagic
	}
	if hdr[4] != ProtocolVersion {
		return nil, ErrInvalidProtocolVersion
	}

	req := &StreamRequest{Encoding: payment.EncodingHex}
	switch hdr[5] {
	case flagHex:
	case flagRaw:
		req.Encoding = payment.EncodingRaw
	default:
		return nil, fmt.Errorf("unknown encoding flag %d", hdr[5])
	}
	req.BlockSize = binary.BigEndian.Uint32(hdr[6:10])

	n := binary.BigEndian.Uint32(hdr[10:14])
	if n > MaxEnvelopeSize {
		return nil, ErrFrameTooLarge
	}
	req.Envelope = make([]byte, n)
	if _, err := io.ReadFull(r, req.Envelope); err != nil {
		return nil, err
	}
	return req, nil
}

// WriteStatus writes a status frame to w.
func WriteStatus(w io.Writer, st *StreamStatus) error {
	text := st.Text
	if len(text) > maxStatusText {
		text = text[:maxStatusText]
	}
	if err := binary.Write(w, binary.BigEndian, uint8(st.Code)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(text))); err != nil {
		return err
	}
	_, err := io.WriteString(w, text)
	return err
}

// ReadStatus reads a status frame from r.
func ReadStatus(r io.Reader) (*StreamStatus, error) {
	var code uint8
	if err := binary.Read(r, binary.BigEndian, &code); err != nil {
		return nil, err
	}
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxStatusText {
		return nil, ErrFrameTooLarge
	}
	text := make([]byte, length)
	if _, err := io.ReadFull(r, text); err != nil {
		return nil, err
	}
	return &StreamStatus{Code: codes.Code(code), Text: string(text)}, nil
}

// WriteChunk writes one length-prefixed chunk to w.
func WriteChunk(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadChunk reads one chunk of at most limit bytes from r. It returns io.EOF
// when the peer finished the stream between chunks.
func ReadChunk(r io.Reader, limit int) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if int64(length) > int64(limit) {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
