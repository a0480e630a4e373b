package payment

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxEnvelopeSize bounds an encoded envelope as received from a peer.
const MaxEnvelopeSize = 1 << 20

// Encoding is the transport encoding of a raw transaction envelope.
type Encoding string

const (
	// EncodingRaw carries the canonical transaction bytes verbatim.
	EncodingRaw Encoding = "raw"
	// EncodingHex carries the canonical bytes as hex text, as browser players send them.
	EncodingHex Encoding = "hex"
)

// ParseEncoding parses an encoding name. Empty selects hex.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingHex:
		return EncodingHex, nil
	case EncodingRaw:
		return EncodingRaw, nil
	default:
		return "", fmt.Errorf("unknown envelope encoding %q", s)
	}
}

// Encode wraps canonical transaction bytes for transport.
func (e Encoding) Encode(raw []byte) []byte {
	if e == EncodingHex {
		out := make([]byte, hex.EncodedLen(len(raw)))
		hex.Encode(out, raw)
		return out
	}
	return append([]byte(nil), raw...)
}

// Decode unwraps an envelope. A leading 0x is the only tolerance for hex input.
func (e Encoding) Decode(envelope []byte) ([]byte, error) {
	switch e {
	case EncodingRaw:
		return envelope, nil
	case EncodingHex:
		text := bytes.TrimPrefix(envelope, []byte("0x"))
		raw := make([]byte, hex.DecodedLen(len(text)))
		if _, err := hex.Decode(raw, text); err != nil {
			return nil, fmt.Errorf("hex envelope: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown envelope encoding %q", string(e))
	}
}
