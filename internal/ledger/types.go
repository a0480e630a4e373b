package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// AddressLength is the byte length of addresses and object ids.
const AddressLength = 32

// Address identifies an account on the ledger.
type Address [AddressLength]byte

// ObjectID identifies an object on the ledger. Content ids are object ids.
type ObjectID [AddressLength]byte

// Digest is a 32-byte transaction or object digest.
type Digest [32]byte

// ErrInvalidHex is returned when an address or object id literal cannot be parsed.
var ErrInvalidHex = errors.New("invalid hex identifier")

func parseHex32(s string) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) == 0 || len(s) > 2*AddressLength {
		return out, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	// Short literals are left-padded, as in 0x2
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	copy(out[AddressLength-len(b):], b)
	return out, nil
}

// ParseAddress parses a hex address with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	b, err := parseHex32(s)
	return Address(b), err
}

// ParseObjectID parses a hex object id with or without the 0x prefix.
func ParseObjectID(s string) (ObjectID, error) {
	b, err := parseHex32(s)
	return ObjectID(b), err
}

// MustObjectID parses s and panics on error. Intended for constants and tests.
func MustObjectID(s string) ObjectID {
	id, err := ParseObjectID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Hex returns the 0x-prefixed, full-width hex form.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// Hex returns the 0x-prefixed, full-width hex form.
func (id ObjectID) Hex() string { return "0x" + hex.EncodeToString(id[:]) }

func (id ObjectID) String() string { return id.Hex() }

// Bare returns the hex form without prefix, used as the storage key.
func (id ObjectID) Bare() string { return hex.EncodeToString(id[:]) }

// String returns the base58 form used by ledger nodes.
func (d Digest) String() string { return base58.Encode(d[:]) }

// ParseDigest parses a base58 digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := base58.Decode(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("invalid digest %q: length %d", s, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (id ObjectID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *ObjectID) UnmarshalText(text []byte) error {
	v, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Digest) UnmarshalText(text []byte) error {
	v, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ObjectRef pins an object at a specific version.
type ObjectRef struct {
	ID      ObjectID
	Version uint64
	Digest  Digest
}

// OwnerKind distinguishes the ownership modes of an object.
type OwnerKind int

const (
	OwnerAddress OwnerKind = iota
	OwnerObject
	OwnerShared
	OwnerImmutable
)

// Owner describes who owns an object.
type Owner struct {
	Kind                 OwnerKind
	Address              Address
	InitialSharedVersion uint64
}

// Object is the state of a ledger object as returned by a node.
// Fields holds the decoded Move struct in its JSON shape; use the typed decoders to read it.
type Object struct {
	Ref    ObjectRef
	Type   string
	Owner  Owner
	Fields map[string]any
}

// SharedArg returns the call argument referencing o as a shared object.
func (o *Object) SharedArg(mutable bool) (ObjectArg, error) {
	if o.Owner.Kind != OwnerShared {
		return ObjectArg{}, fmt.Errorf("object %s is not shared", o.Ref.ID)
	}
	return SharedObject(o.Ref.ID, o.Owner.InitialSharedVersion, mutable), nil
}

// Arg returns the call argument referencing o according to its ownership.
func (o *Object) Arg(mutable bool) ObjectArg {
	if o.Owner.Kind == OwnerShared {
		return SharedObject(o.Ref.ID, o.Owner.InitialSharedVersion, mutable)
	}
	return ImmOrOwnedObject(o.Ref)
}

// CreatedObject records an object created by a committed transaction.
type CreatedObject struct {
	ID   ObjectID
	Type string
}

// Effects is the committed outcome of a transaction.
type Effects struct {
	Digest  Digest
	Success bool
	Error   string
	Created []CreatedObject
}

// ErrExecutionFailed is returned when the ledger rejected a submitted transaction.
var ErrExecutionFailed = errors.New("transaction execution failed")

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ExecutionError carries the ledger's failure status for a transaction.
type ExecutionError struct {
	Digest Digest
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %s: %s", e.Digest, e.Reason)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}
