// Package payment decides whether a transaction envelope is an acceptable proof of
// payment for this distributor.
package payment

import (
	"errors"
	"fmt"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

// AuthKind classifies why an envelope was rejected.
type AuthKind int

const (
	Malformed AuthKind = iota
	BadSignature
	WrongShape
	WrongTarget
	WrongArguments
	WrongRecipient
)

var kindNames = [...]string{"malformed", "bad_signature", "wrong_shape", "wrong_target", "wrong_arguments", "wrong_recipient"}

func (k AuthKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("AuthKind(%d)", int(k))
}

var (
	// ErrRejected matches every AuthError.
	ErrRejected = errors.New("payment rejected")

	ErrMalformed      = errors.New("malformed envelope")
	ErrBadSignature   = errors.New("bad signature")
	ErrWrongShape     = errors.New("wrong programme shape")
	ErrWrongTarget    = errors.New("wrong call target")
	ErrWrongArguments = errors.New("wrong call arguments")
	ErrWrongRecipient = errors.New("wrong recipient")
)

var kindErrors = [...]error{ErrMalformed, ErrBadSignature, ErrWrongShape, ErrWrongTarget, ErrWrongArguments, ErrWrongRecipient}

// AuthError is a rejected envelope. Detail is for local logs only.
type AuthError struct {
	Kind   AuthKind
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *AuthError) Is(target error) bool {
	if target == ErrRejected {
		return true
	}
	return int(e.Kind) < len(kindErrors) && kindErrors[e.Kind] == target
}

func reject(kind AuthKind, format string, args ...any) *AuthError {
	return &AuthError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Proof is a validated, not yet executed, payment.
type Proof struct {
	ContentID    ledger.ObjectID
	Counterparty ledger.Address
	Transaction  *ledger.Transaction
	Digest       ledger.Digest
}

// Verifier checks envelopes against this distributor's identity and the tuno package.
// It performs no I/O and is safe for concurrent use.
type Verifier struct {
	identity ledger.Address
	pkg      ledger.ObjectID
	encoding Encoding
}

// NewVerifier creates a verifier for payments to identity through package pkg.
func NewVerifier(identity ledger.Address, pkg ledger.ObjectID, encoding Encoding) *Verifier {
	if encoding == "" {
		encoding = EncodingHex
	}
	return &Verifier{identity: identity, pkg: pkg, encoding: encoding}
}

// Identity returns the address payments must be addressed to.
func (v *Verifier) Identity() ledger.Address { return v.identity }

// Encoding returns the envelope encoding accepted by the verifier.
func (v *Verifier) Encoding() Encoding { return v.encoding }

// Verify decodes envelope and checks that it is a signed, single-call payment of
// pay_royalties(song, distributor, coin) addressed to this distributor.
func (v *Verifier) Verify(envelope []byte) (*Proof, error) {
	raw, err := v.encoding.Decode(envelope)
	if err != nil {
		return nil, reject(Malformed, "%v", err)
	}
	tx, err := ledger.UnmarshalTransaction(raw)
	if err != nil {
		return nil, reject(Malformed, "%v", err)
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, reject(BadSignature, "%v", err)
	}

	pt := &tx.Data.Kind
	if n := len(pt.Commands); n != 1 {
		return nil, reject(WrongShape, "expected one command, got %d", n)
	}
	cmd := pt.Commands[0]
	if cmd.Kind != ledger.CmdMoveCall {
		return nil, reject(WrongShape, "command is %s, not a call", cmd.Kind)
	}

	call := cmd.Call
	if call.Package != v.pkg {
		return nil, reject(WrongTarget, "package %s", call.Package)
	}
	if call.Module != ledger.ModuleName {
		return nil, reject(WrongTarget, "module %q", call.Module)
	}
	if call.Function != ledger.FnPayRoyalties {
		return nil, reject(WrongTarget, "function %q", call.Function)
	}

	song, recipient, err := paymentArguments(pt, call)
	if err != nil {
		return nil, err
	}
	if recipient != v.identity {
		return nil, reject(WrongRecipient, "payment addressed to %s", recipient)
	}

	return &Proof{
		ContentID:    song,
		Counterparty: tx.Data.Sender,
		Transaction:  tx,
		Digest:       tx.Digest(),
	}, nil
}

func resolveInput(pt *ledger.ProgrammableTransaction, arg ledger.Argument) (ledger.CallArg, bool) {
	if arg.Kind != ledger.ArgInput || int(arg.Index) >= len(pt.Inputs) {
		return ledger.CallArg{}, false
	}
	return pt.Inputs[arg.Index], true
}

// paymentArguments extracts the song (argument 0) and the distributor (argument 1).
// Argument 2 is the coin paid with.
func paymentArguments(pt *ledger.ProgrammableTransaction, call *ledger.MoveCall) (ledger.ObjectID, ledger.Address, error) {
	var song ledger.ObjectID
	var recipient ledger.Address

	if n := len(call.Arguments); n != 3 {
		return song, recipient, reject(WrongArguments, "expected 3 arguments, got %d", n)
	}

	in, ok := resolveInput(pt, call.Arguments[0])
	if !ok || in.IsPure() || in.Object.Kind == ledger.ObjReceiving {
		return song, recipient, reject(WrongArguments, "argument 0 is not the song object")
	}
	song = in.Object.ID()

	in, ok = resolveInput(pt, call.Arguments[1])
	if !ok || !in.IsPure() || len(in.Pure) != ledger.AddressLength {
		return song, recipient, reject(WrongArguments, "argument 1 is not an address")
	}
	copy(recipient[:], in.Pure)

	coin := call.Arguments[2]
	if coin.Kind != ledger.ArgGasCoin {
		in, ok = resolveInput(pt, coin)
		if !ok || in.IsPure() {
			return song, recipient, reject(WrongArguments, "argument 2 is not a coin")
		}
	}

	return song, recipient, nil
}
