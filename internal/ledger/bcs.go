package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Canonical binary encoding used for transactions: little-endian integers,
// ULEB128 sequence lengths, one-byte enum tags. Decoding is strict: unknown tags,
// non-canonical lengths and trailing bytes are errors.

// ErrMalformed is returned when bytes cannot be decoded as a canonical value.
var ErrMalformed = errors.New("malformed canonical encoding")

// maxSeqLen bounds sequence lengths read from untrusted input.
const maxSeqLen = 1 << 24

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }

func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *encoder) uleb(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

func (e *encoder) fixed(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) bytes(b []byte) {
	e.uleb(uint64(len(b)))
	e.fixed(b)
}

func (e *encoder) str(s string) { e.bytes([]byte(s)) }

// decoder reads canonical values. The first error sticks; later reads return zero values.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: at offset %d: %s", ErrMalformed, d.off, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.data)-d.off < n {
		d.fail("need %d bytes, have %d", n, len(d.data)-d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) bool() bool {
	switch v := d.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("invalid bool %d", v)
		return false
	}
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) uleb() uint64 {
	var v uint64
	for shift := 0; shift < 64; shift += 7 {
		b := d.u8()
		if d.err != nil {
			return 0
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if b == 0 && shift > 0 {
				d.fail("non-canonical uleb128")
				return 0
			}
			return v
		}
	}
	d.fail("uleb128 overflow")
	return 0
}

func (d *decoder) seqLen() int {
	n := d.uleb()
	if n > maxSeqLen {
		d.fail("sequence length %d too large", n)
		return 0
	}
	return int(n)
}

func (d *decoder) fixed(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (d *decoder) bytes() []byte {
	return d.fixed(d.seqLen())
}

func (d *decoder) str() string {
	b := d.bytes()
	if !utf8.Valid(b) {
		d.fail("invalid utf-8 string")
		return ""
	}
	return string(b)
}

func (d *decoder) finish() error {
	if d.err == nil && d.off != len(d.data) {
		d.fail("%d trailing bytes", len(d.data)-d.off)
	}
	return d.err
}
