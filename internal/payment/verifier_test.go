package payment

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

var (
	testPkg  = ledger.MustObjectID("0xabc")
	testSong = ledger.MustObjectID("0x51")
)

type fixture struct {
	priv     ed25519.PrivateKey
	sender   ledger.Address
	server   ledger.Address
	verifier *Verifier
	songArg  ledger.ObjectArg
	coin     ledger.ObjectRef
}

func newFixture(t *testing.T, enc Encoding) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	server, _ := ledger.ParseAddress("0x5e7")
	return &fixture{
		priv:     priv,
		sender:   ledger.AddressFromPublicKey(pub),
		server:   server,
		verifier: NewVerifier(server, testPkg, enc),
		songArg:  ledger.SharedObject(testSong, 1, true),
		coin:     ledger.ObjectRef{ID: ledger.MustObjectID("0xc0"), Version: 2},
	}
}

func (f *fixture) envelope(t *testing.T, pt ledger.ProgrammableTransaction) []byte {
	t.Helper()
	tx, err := ledger.Sign(ledger.NewTransactionData(f.sender, pt, nil, 1000, ledger.DefaultGasBudget), f.priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return f.verifier.Encoding().Encode(tx.Marshal())
}

func (f *fixture) payment() ledger.ProgrammableTransaction {
	return ledger.BuildPayRoyalties(testPkg, f.songArg, f.server, f.coin)
}

func expectKind(t *testing.T, err error, kind AuthKind) {
	t.Helper()
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Expected *AuthError, got %v", err)
	}
	if ae.Kind != kind {
		t.Errorf("Expected %s, got %s (%s)", kind, ae.Kind, ae.Detail)
	}
	if !errors.Is(err, ErrRejected) {
		t.Error("AuthError should match ErrRejected")
	}
}

func TestVerify_Accepts(t *testing.T) {
	for _, enc := range []Encoding{EncodingHex, EncodingRaw} {
		f := newFixture(t, enc)
		proof, err := f.verifier.Verify(f.envelope(t, f.payment()))
		if err != nil {
			t.Fatalf("%s: Verify failed: %v", enc, err)
		}
		if proof.ContentID != testSong {
			t.Errorf("%s: expected content %s, got %s", enc, testSong, proof.ContentID)
		}
		if proof.Counterparty != f.sender {
			t.Errorf("%s: expected counterparty %s, got %s", enc, f.sender, proof.Counterparty)
		}
		if proof.Digest != proof.Transaction.Digest() {
			t.Errorf("%s: digest mismatch", enc)
		}
	}
}

func TestVerify_Deterministic(t *testing.T) {
	f := newFixture(t, EncodingHex)
	env := f.envelope(t, f.payment())

	p1, err1 := f.verifier.Verify(env)
	p2, err2 := f.verifier.Verify(env)
	if err1 != nil || err2 != nil {
		t.Fatalf("Verify failed: %v, %v", err1, err2)
	}
	if p1.Digest != p2.Digest || p1.ContentID != p2.ContentID {
		t.Error("Same envelope should yield the same proof")
	}
}

func TestVerify_HexPrefix(t *testing.T) {
	f := newFixture(t, EncodingHex)
	env := append([]byte("0x"), f.envelope(t, f.payment())...)
	if _, err := f.verifier.Verify(env); err != nil {
		t.Errorf("0x-prefixed envelope should verify: %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	f := newFixture(t, EncodingHex)
	good := f.envelope(t, f.payment())

	tests := map[string][]byte{
		"empty":         nil,
		"odd hex":       good[:len(good)-1],
		"non-hex":       []byte("zz" + string(good[2:])),
		"truncated":     good[:len(good)/2],
		"raw not hex":   EncodingRaw.Encode([]byte{1, 0, 0, 0}),
		"inner garbage": []byte("deadbeef"),
	}
	for name, env := range tests {
		_, err := f.verifier.Verify(env)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestVerify_BadSignature(t *testing.T) {
	f := newFixture(t, EncodingRaw)
	tx, err := ledger.Sign(ledger.NewTransactionData(f.sender, f.payment(), nil, 1000, ledger.DefaultGasBudget), f.priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	tx.Data.Gas.Price = 1 // invalidates the signature

	_, err = f.verifier.Verify(tx.Marshal())
	expectKind(t, err, BadSignature)
}

func TestVerify_WrongFunction(t *testing.T) {
	f := newFixture(t, EncodingHex)
	pt := f.payment()
	pt.Commands[0].Call.Function = "steal_royalties"
	_, err := f.verifier.Verify(f.envelope(t, pt))
	expectKind(t, err, WrongTarget)
}

func TestVerify_WrongModule(t *testing.T) {
	f := newFixture(t, EncodingHex)
	pt := f.payment()
	pt.Commands[0].Call.Module = "kiosk"
	_, err := f.verifier.Verify(f.envelope(t, pt))
	expectKind(t, err, WrongTarget)
}

func TestVerify_WrongPackage(t *testing.T) {
	f := newFixture(t, EncodingHex)
	pt := ledger.BuildPayRoyalties(ledger.MustObjectID("0xdef"), f.songArg, f.server, f.coin)
	_, err := f.verifier.Verify(f.envelope(t, pt))
	expectKind(t, err, WrongTarget)
}

func TestVerify_WrongRecipient(t *testing.T) {
	f := newFixture(t, EncodingHex)
	other, _ := ledger.ParseAddress("0x07")
	pt := ledger.BuildPayRoyalties(testPkg, f.songArg, other, f.coin)
	_, err := f.verifier.Verify(f.envelope(t, pt))
	expectKind(t, err, WrongRecipient)
}

func TestVerify_TwoCommands(t *testing.T) {
	f := newFixture(t, EncodingHex)
	pt := f.payment()
	pt.Commands = append(pt.Commands, pt.Commands[0])
	_, err := f.verifier.Verify(f.envelope(t, pt))
	expectKind(t, err, WrongShape)
}

func TestVerify_NoCommands(t *testing.T) {
	f := newFixture(t, EncodingHex)
	pt := f.payment()
	pt.Commands = nil
	_, err := f.verifier.Verify(f.envelope(t, pt))
	expectKind(t, err, WrongShape)
}

func TestVerify_NotACall(t *testing.T) {
	f := newFixture(t, EncodingHex)
	pt := f.payment()
	pt.Commands = []ledger.Command{{Kind: ledger.CmdSplitCoins, Arg: ledger.Argument{Kind: ledger.ArgGasCoin}, Args: []ledger.Argument{ledger.Input(1)}}}
	_, err := f.verifier.Verify(f.envelope(t, pt))
	expectKind(t, err, WrongShape)
}

func TestVerify_WrongArguments(t *testing.T) {
	f := newFixture(t, EncodingHex)

	tests := map[string]func(*ledger.ProgrammableTransaction){
		"missing argument": func(pt *ledger.ProgrammableTransaction) {
			pt.Commands[0].Call.Arguments = pt.Commands[0].Call.Arguments[:2]
		},
		"song is pure": func(pt *ledger.ProgrammableTransaction) {
			pt.Commands[0].Call.Arguments[0] = ledger.Input(1)
		},
		"recipient is object": func(pt *ledger.ProgrammableTransaction) {
			pt.Commands[0].Call.Arguments[1] = ledger.Input(0)
		},
		"recipient wrong size": func(pt *ledger.ProgrammableTransaction) {
			pt.Inputs[1] = ledger.PureU64(7)
		},
		"input out of range": func(pt *ledger.ProgrammableTransaction) {
			pt.Commands[0].Call.Arguments[0] = ledger.Input(9)
		},
		"result instead of input": func(pt *ledger.ProgrammableTransaction) {
			pt.Commands[0].Call.Arguments[1] = ledger.Argument{Kind: ledger.ArgResult}
		},
		"coin is pure": func(pt *ledger.ProgrammableTransaction) {
			pt.Commands[0].Call.Arguments[2] = ledger.Input(1)
		},
	}

	for name, mutate := range tests {
		pt := f.payment()
		mutate(&pt)
		_, err := f.verifier.Verify(f.envelope(t, pt))
		if !errors.Is(err, ErrWrongArguments) {
			t.Errorf("%s: expected ErrWrongArguments, got %v", name, err)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	if enc, err := ParseEncoding(""); err != nil || enc != EncodingHex {
		t.Errorf("Expected hex default, got %s, %v", enc, err)
	}
	if enc, err := ParseEncoding("RAW"); err != nil || enc != EncodingRaw {
		t.Errorf("Expected raw, got %s, %v", enc, err)
	}
	if _, err := ParseEncoding("base64"); err == nil {
		t.Error("Expected error for unknown encoding")
	}
}
