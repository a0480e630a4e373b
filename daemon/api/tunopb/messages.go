// Package tunopb defines the tuno.Tuno gRPC service: its messages, their
// proto3 wire encoding and the client and server bindings.
package tunopb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every request and response of the service.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

// EchoRequest carries a message to be echoed back.
type EchoRequest struct {
	Message string
}

// EchoResponse carries the echoed message.
type EchoResponse struct {
	Message string
}

// SongRequest carries an encoded, signed payment transaction.
type SongRequest struct {
	RawTransaction []byte
}

// SongStreamRequest is a SongRequest with the size of the streamed blocks.
type SongStreamRequest struct {
	Req       *SongRequest
	BlockSize uint32
}

// GetRawTransaction returns the envelope of the nested request, if any.
func (m *SongStreamRequest) GetRawTransaction() []byte {
	if m == nil || m.Req == nil {
		return nil
	}
	return m.Req.RawTransaction
}

// SongBytes carries a whole payload or one streamed block.
type SongBytes struct {
	Data []byte
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// skip tells unmarshal to step over a field the message does not handle.
const skip = math.MinInt

// fieldFunc consumes the value of field num of wire type typ and returns the
// bytes read, a negative protowire error code, or skip.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func unmarshal(b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == skip {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return skip, nil
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	var v []byte
	n, err := consumeBytes(typ, b, &v)
	if n >= 0 {
		*dst = string(v)
	}
	return n, err
}

func (m *EchoRequest) Marshal() []byte {
	return appendBytes(nil, 1, []byte(m.Message))
}

func (m *EchoRequest) Unmarshal(b []byte) error {
	*m = EchoRequest{}
	return unmarshal(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip, nil
		}
		return consumeString(typ, b, &m.Message)
	})
}

func (m *EchoResponse) Marshal() []byte {
	return appendBytes(nil, 1, []byte(m.Message))
}

func (m *EchoResponse) Unmarshal(b []byte) error {
	*m = EchoResponse{}
	return unmarshal(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip, nil
		}
		return consumeString(typ, b, &m.Message)
	})
}

func (m *SongRequest) Marshal() []byte {
	return appendBytes(nil, 1, m.RawTransaction)
}

func (m *SongRequest) Unmarshal(b []byte) error {
	*m = SongRequest{}
	return unmarshal(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip, nil
		}
		return consumeBytes(typ, b, &m.RawTransaction)
	})
}

func (m *SongStreamRequest) Marshal() []byte {
	var b []byte
	if m.Req != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Req.Marshal())
	}
	return appendVarint(b, 2, uint64(m.BlockSize))
}

func (m *SongStreamRequest) Unmarshal(b []byte) error {
	*m = SongStreamRequest{}
	return unmarshal(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			m.Req = new(SongRequest)
			return n, m.Req.Unmarshal(v)
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.BlockSize = uint32(v)
			return n, nil
		default:
			return skip, nil
		}
	})
}

func (m *SongBytes) Marshal() []byte {
	return appendBytes(nil, 1, m.Data)
}

func (m *SongBytes) Unmarshal(b []byte) error {
	*m = SongBytes{}
	return unmarshal(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip, nil
		}
		return consumeBytes(typ, b, &m.Data)
	})
}
