package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrSchema is returned when an object does not match the expected struct schema.
var ErrSchema = errors.New("object does not match schema")

// FieldError reports a missing or mistyped field of an on-ledger struct.
type FieldError struct {
	Struct string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Struct, e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrSchema
}

// Distributor is a peer registered to serve a song.
type Distributor struct {
	Address        Address `json:"address"`
	URL            string  `json:"url"`
	JoinedAt       uint64  `json:"joined_at"`
	StreamingPrice uint64  `json:"streaming_price"`
	Balance        uint64  `json:"balance"`
}

// Song is the on-ledger record of a published media item.
type Song struct {
	ID             ObjectID                `json:"id"`
	Title          string                  `json:"title"`
	Artist         string                  `json:"artist"`
	Album          string                  `json:"album"`
	ReleaseYear    uint64                  `json:"release_year"`
	Genre          string                  `json:"genre"`
	CoverArtURL    string                  `json:"cover_art_url"`
	StreamingPrice uint64                  `json:"streaming_price"`
	Owner          Address                 `json:"owner"`
	CreatorBalance uint64                  `json:"creator_balance"`
	Distributors   map[Address]Distributor `json:"distributors"`
	DisplayID      *ObjectID               `json:"display_id,omitempty"`
	Length         uint64                  `json:"length"`
	Duration       uint64                  `json:"duration"`
	Signature      [][]byte                `json:"signature"`
}

// DistributorAddresses returns the registered distributor addresses in address order.
func (s *Song) DistributorAddresses() []Address {
	addrs := make([]Address, 0, len(s.Distributors))
	for a := range s.Distributors {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i][:]) < string(addrs[j][:])
	})
	return addrs
}

// Coin is a fungible coin object.
type Coin struct {
	Ref     ObjectRef
	Balance uint64
}

// fieldReader reads typed values from a struct's JSON field map, recording the first failure.
type fieldReader struct {
	name   string
	fields map[string]any
	err    error
}

func newFieldReader(name string, fields map[string]any) *fieldReader {
	r := &fieldReader{name: name, fields: fields}
	if fields == nil {
		r.err = &FieldError{Struct: name, Field: "*", Reason: "no fields"}
	}
	return r
}

func (r *fieldReader) fail(field, format string, args ...any) {
	if r.err == nil {
		r.err = &FieldError{Struct: r.name, Field: field, Reason: fmt.Sprintf(format, args...)}
	}
}

func (r *fieldReader) get(field string) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	v, ok := r.fields[field]
	if !ok {
		r.fail(field, "missing")
		return nil, false
	}
	return v, true
}

func (r *fieldReader) str(field string) string {
	v, ok := r.get(field)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "expected string, got %T", v)
	}
	return s
}

func (r *fieldReader) u64(field string) uint64 {
	v, ok := r.get(field)
	if !ok {
		return 0
	}
	n, err := toU64(v)
	if err != nil {
		r.fail(field, "%v", err)
	}
	return n
}

func toU64(v any) (uint64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseUint(n, 10, 64)
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxUint64 {
			return 0, fmt.Errorf("not a u64: %v", n)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative: %d", n)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected u64, got %T", v)
	}
}

func (r *fieldReader) address(field string) Address {
	s := r.str(field)
	if r.err != nil {
		return Address{}
	}
	a, err := ParseAddress(s)
	if err != nil {
		r.fail(field, "%v", err)
	}
	return a
}

// uid reads a UID field, which nodes render either as {"id": "0x.."} or as a bare string.
func (r *fieldReader) uid(field string) ObjectID {
	v, ok := r.get(field)
	if !ok {
		return ObjectID{}
	}
	if m, ok := v.(map[string]any); ok {
		v = m["id"]
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "expected UID, got %T", v)
		return ObjectID{}
	}
	id, err := ParseObjectID(s)
	if err != nil {
		r.fail(field, "%v", err)
	}
	return id
}

// optionalID reads an Option<ID> field; null or an empty vector mean None.
func (r *fieldReader) optionalID(field string) *ObjectID {
	v, ok := r.get(field)
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case string:
		id, err := ParseObjectID(x)
		if err != nil {
			r.fail(field, "%v", err)
			return nil
		}
		return &id
	case []any:
		if len(x) == 0 {
			return nil
		}
	}
	r.fail(field, "expected optional id, got %T", v)
	return nil
}

// structFields unwraps a nested struct, which nodes render as {"type": .., "fields": {..}}.
func structFields(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if inner, ok := m["fields"].(map[string]any); ok {
		return inner, true
	}
	return m, true
}

func (r *fieldReader) nested(field string) map[string]any {
	v, ok := r.get(field)
	if !ok {
		return nil
	}
	m, ok := structFields(v)
	if !ok {
		r.fail(field, "expected struct, got %T", v)
	}
	return m
}

func (r *fieldReader) vec(field string) []any {
	v, ok := r.get(field)
	if !ok {
		return nil
	}
	s, ok := v.([]any)
	if !ok && v != nil {
		r.fail(field, "expected vector, got %T", v)
	}
	return s
}

func (r *fieldReader) byteVecs(field string) [][]byte {
	elems := r.vec(field)
	out := make([][]byte, 0, len(elems))
	for i, e := range elems {
		raw, ok := e.([]any)
		if !ok {
			r.fail(field, "element %d: expected vector<u8>, got %T", i, e)
			return nil
		}
		b := make([]byte, len(raw))
		for j, x := range raw {
			n, err := toU64(x)
			if err != nil || n > math.MaxUint8 {
				r.fail(field, "element %d: byte %d out of range", i, j)
				return nil
			}
			b[j] = byte(n)
		}
		out = append(out, b)
	}
	return out
}

// DecodeDistributor decodes a Distributor struct registered under addr.
func DecodeDistributor(addr Address, fields map[string]any) (Distributor, error) {
	r := newFieldReader("Distributor", fields)
	d := Distributor{
		Address:        addr,
		URL:            r.str("url"),
		JoinedAt:       r.u64("joined_at"),
		StreamingPrice: r.u64("streaming_price"),
		Balance:        r.u64("balance"),
	}
	return d, r.err
}

// DecodeSong decodes a Song object.
func DecodeSong(obj *Object) (*Song, error) {
	if obj == nil {
		return nil, &FieldError{Struct: "Song", Field: "*", Reason: "nil object"}
	}
	r := newFieldReader("Song", obj.Fields)
	s := &Song{
		ID:             r.uid("id"),
		Title:          r.str("title"),
		Artist:         r.str("artist"),
		Album:          r.str("album"),
		ReleaseYear:    r.u64("release_year"),
		Genre:          r.str("genre"),
		CoverArtURL:    r.str("cover_art_url"),
		StreamingPrice: r.u64("streaming_price"),
		Owner:          r.address("owner"),
		CreatorBalance: r.u64("creator_balance"),
		DisplayID:      r.optionalID("display_id"),
		Length:         r.u64("length"),
		Duration:       r.u64("duration"),
		Signature:      r.byteVecs("signature"),
	}

	// VecMap<address, Distributor> renders as {contents: [{key, value}]}
	distributors := r.nested("distributors")
	if r.err != nil {
		return nil, r.err
	}
	dm := newFieldReader("VecMap", distributors)
	s.Distributors = make(map[Address]Distributor)
	for i, entry := range dm.vec("contents") {
		ef, ok := structFields(entry)
		if !ok {
			return nil, &FieldError{Struct: "VecMap", Field: fmt.Sprintf("contents[%d]", i), Reason: "expected entry struct"}
		}
		er := newFieldReader("Entry", ef)
		addr := er.address("key")
		value := er.nested("value")
		if er.err != nil {
			return nil, er.err
		}
		d, err := DecodeDistributor(addr, value)
		if err != nil {
			return nil, err
		}
		s.Distributors[addr] = d
	}
	if dm.err != nil {
		return nil, dm.err
	}
	return s, nil
}

// DecodeCoin decodes a Coin object.
func DecodeCoin(obj *Object) (*Coin, error) {
	if obj == nil {
		return nil, &FieldError{Struct: "Coin", Field: "*", Reason: "nil object"}
	}
	r := newFieldReader("Coin", obj.Fields)
	c := &Coin{Ref: obj.Ref, Balance: r.u64("balance")}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// SongFields renders s in the node's JSON field shape.
func SongFields(s *Song) map[string]any {
	contents := make([]any, 0, len(s.Distributors))
	for _, addr := range s.DistributorAddresses() {
		d := s.Distributors[addr]
		contents = append(contents, map[string]any{
			"type": "0x2::vec_map::Entry",
			"fields": map[string]any{
				"key": addr.Hex(),
				"value": map[string]any{
					"type": "Distributor",
					"fields": map[string]any{
						"url":             d.URL,
						"joined_at":       strconv.FormatUint(d.JoinedAt, 10),
						"streaming_price": strconv.FormatUint(d.StreamingPrice, 10),
						"balance":         strconv.FormatUint(d.Balance, 10),
					},
				},
			},
		})
	}

	sig := make([]any, len(s.Signature))
	for i, digest := range s.Signature {
		b := make([]any, len(digest))
		for j, x := range digest {
			b[j] = float64(x)
		}
		sig[i] = b
	}

	var display any
	if s.DisplayID != nil {
		display = s.DisplayID.Hex()
	}

	return map[string]any{
		"id":              map[string]any{"id": s.ID.Hex()},
		"title":           s.Title,
		"artist":          s.Artist,
		"album":           s.Album,
		"release_year":    strconv.FormatUint(s.ReleaseYear, 10),
		"genre":           s.Genre,
		"cover_art_url":   s.CoverArtURL,
		"streaming_price": strconv.FormatUint(s.StreamingPrice, 10),
		"owner":           s.Owner.Hex(),
		"creator_balance": strconv.FormatUint(s.CreatorBalance, 10),
		"distributors":    map[string]any{"type": "0x2::vec_map::VecMap", "fields": map[string]any{"contents": contents}},
		"display_id":      display,
		"length":          strconv.FormatUint(s.Length, 10),
		"duration":        strconv.FormatUint(s.Duration, 10),
		"signature":       sig,
	}
}
