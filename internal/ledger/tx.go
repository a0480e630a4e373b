package ledger

import (
	"fmt"
	"strings"
)

// ArgumentKind tags the variants of Argument.
type ArgumentKind uint8

const (
	ArgGasCoin ArgumentKind = iota
	ArgInput
	ArgResult
	ArgNestedResult
)

// Argument refers to a value available to a command.
type Argument struct {
	Kind      ArgumentKind
	Index     uint16
	Subresult uint16
}

// Input returns an argument referring to the i-th programme input.
func Input(i uint16) Argument { return Argument{Kind: ArgInput, Index: i} }

// ObjectArgKind tags the variants of ObjectArg.
type ObjectArgKind uint8

const (
	ObjImmOrOwned ObjectArgKind = iota
	ObjShared
	ObjReceiving
)

// ObjectArg references an object passed into a programme.
type ObjectArg struct {
	Kind                 ObjectArgKind
	Ref                  ObjectRef // ImmOrOwned and Receiving
	InitialSharedVersion uint64    // Shared
	Mutable              bool      // Shared
}

// ID returns the object id the argument refers to.
func (a ObjectArg) ID() ObjectID { return a.Ref.ID }

// ImmOrOwnedObject references an owned or immutable object by version.
func ImmOrOwnedObject(ref ObjectRef) ObjectArg {
	return ObjectArg{Kind: ObjImmOrOwned, Ref: ref}
}

// SharedObject references a shared object.
func SharedObject(id ObjectID, initialSharedVersion uint64, mutable bool) ObjectArg {
	return ObjectArg{Kind: ObjShared, Ref: ObjectRef{ID: id}, InitialSharedVersion: initialSharedVersion, Mutable: mutable}
}

// CallArg is a programme input: either pure bytes or an object.
type CallArg struct {
	Pure   []byte
	Object *ObjectArg
}

// IsPure reports whether the input carries plain data.
func (c CallArg) IsPure() bool { return c.Object == nil }

// PureAddress returns a pure input holding addr.
func PureAddress(addr Address) CallArg {
	return CallArg{Pure: append([]byte(nil), addr[:]...)}
}

// PureU64 returns a pure input holding v.
func PureU64(v uint64) CallArg {
	var e encoder
	e.u64(v)
	return CallArg{Pure: e.buf}
}

// TypeTagKind tags the variants of TypeTag.
type TypeTagKind uint8

const (
	TypeBool TypeTagKind = iota
	TypeU8
	TypeU64
	TypeU128
	TypeAddress
	TypeSigner
	TypeVector
	TypeStruct
	TypeU16
	TypeU32
	TypeU256
)

var primitiveNames = map[TypeTagKind]string{
	TypeBool: "bool", TypeU8: "u8", TypeU16: "u16", TypeU32: "u32", TypeU64: "u64",
	TypeU128: "u128", TypeU256: "u256", TypeAddress: "address", TypeSigner: "signer",
}

// StructTag names a Move struct type.
type StructTag struct {
	Address    Address
	Module     string
	Name       string
	TypeParams []TypeTag
}

// TypeTag is a Move type used as a generic argument.
type TypeTag struct {
	Kind   TypeTagKind
	Elem   *TypeTag   // Vector
	Struct *StructTag // Struct
}

// StructType returns the tag for addr::module::name.
func StructType(addr Address, module, name string, params ...TypeTag) TypeTag {
	return TypeTag{Kind: TypeStruct, Struct: &StructTag{Address: addr, Module: module, Name: name, TypeParams: params}}
}

func (t TypeTag) String() string {
	switch t.Kind {
	case TypeVector:
		if t.Elem == nil {
			return "vector<?>"
		}
		return "vector<" + t.Elem.String() + ">"
	case TypeStruct:
		if t.Struct == nil {
			return "?"
		}
		s := fmt.Sprintf("%s::%s::%s", t.Struct.Address.Hex(), t.Struct.Module, t.Struct.Name)
		if len(t.Struct.TypeParams) > 0 {
			params := make([]string, len(t.Struct.TypeParams))
			for i, p := range t.Struct.TypeParams {
				params[i] = p.String()
			}
			s += "<" + strings.Join(params, ", ") + ">"
		}
		return s
	default:
		return primitiveNames[t.Kind]
	}
}

// ParseTypeTag parses the textual form produced by TypeTag.String, such as
// 0x2::iota::IOTA or vector<u8>.
func ParseTypeTag(s string) (TypeTag, error) {
	p := &typeParser{s: s}
	t := p.tag()
	p.space()
	if p.err == nil && p.pos != len(p.s) {
		p.fail("unexpected %q", p.s[p.pos:])
	}
	if p.err != nil {
		return TypeTag{}, fmt.Errorf("invalid type %q: %w", s, p.err)
	}
	return t, nil
}

type typeParser struct {
	s   string
	pos int
	err error
}

func (p *typeParser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *typeParser) space() {
	for p.pos < len(p.s) && p.s[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) eat(tok string) bool {
	p.space()
	if strings.HasPrefix(p.s[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *typeParser) ident() string {
	p.space()
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		p.fail("expected identifier at offset %d", start)
	}
	return p.s[start:p.pos]
}

func (p *typeParser) tag() TypeTag {
	if p.err != nil {
		return TypeTag{}
	}
	if p.eat("vector<") {
		elem := p.tag()
		if !p.eat(">") {
			p.fail("unterminated vector")
		}
		return TypeTag{Kind: TypeVector, Elem: &elem}
	}

	first := p.ident()
	if !p.eat("::") {
		for kind, name := range primitiveNames {
			if name == first {
				return TypeTag{Kind: kind}
			}
		}
		p.fail("unknown type %q", first)
		return TypeTag{}
	}

	addr, err := ParseAddress(first)
	if err != nil {
		p.fail("%v", err)
		return TypeTag{}
	}
	module := p.ident()
	if !p.eat("::") {
		p.fail("expected struct name after %s", module)
	}
	name := p.ident()
	var params []TypeTag
	if p.eat("<") {
		for {
			params = append(params, p.tag())
			if p.err != nil || p.eat(">") {
				break
			}
			if !p.eat(",") {
				p.fail("expected , or > in type parameters")
				break
			}
		}
	}
	return StructType(addr, module, name, params...)
}

// MoveCall invokes package::module::function.
type MoveCall struct {
	Package       ObjectID
	Module        string
	Function      string
	TypeArguments []TypeTag
	Arguments     []Argument
}

// Target returns the call target in package::module::function form.
func (c *MoveCall) Target() string {
	return fmt.Sprintf("%s::%s::%s", c.Package.Hex(), c.Module, c.Function)
}

// CommandKind tags the variants of Command.
type CommandKind uint8

const (
	CmdMoveCall CommandKind = iota
	CmdTransferObjects
	CmdSplitCoins
	CmdMergeCoins
	CmdPublish
	CmdMakeMoveVec
	CmdUpgrade
)

var commandNames = [...]string{"MoveCall", "TransferObjects", "SplitCoins", "MergeCoins", "Publish", "MakeMoveVec", "Upgrade"}

func (k CommandKind) String() string {
	if int(k) < len(commandNames) {
		return commandNames[k]
	}
	return fmt.Sprintf("Command(%d)", uint8(k))
}

// Command is one step of a programmable transaction. Only the fields of Kind are set.
type Command struct {
	Kind CommandKind

	Call *MoveCall // MoveCall

	// TransferObjects: Args are the objects, Arg the recipient.
	// SplitCoins: Arg is the coin, Args the amounts.
	// MergeCoins: Arg is the target, Args the sources.
	// MakeMoveVec: Args are the elements.
	// Upgrade: Arg is the ticket.
	Arg  Argument
	Args []Argument

	ElemType *TypeTag // MakeMoveVec

	Modules      [][]byte   // Publish, Upgrade
	Dependencies []ObjectID // Publish, Upgrade
	Package      ObjectID   // Upgrade
}

// MoveCallCommand wraps a call as a command.
func MoveCallCommand(c MoveCall) Command {
	return Command{Kind: CmdMoveCall, Call: &c}
}

// ProgrammableTransaction is the transaction programme: inputs and the commands using them.
type ProgrammableTransaction struct {
	Inputs   []CallArg
	Commands []Command
}

// GasData selects and prices the gas payment.
type GasData struct {
	Payment []ObjectRef
	Owner   Address
	Price   uint64
	Budget  uint64
}

// TransactionData is the unsigned transaction. Only programmable transactions are supported.
type TransactionData struct {
	Kind            ProgrammableTransaction
	Sender          Address
	Gas             GasData
	ExpirationEpoch *uint64
}

// Transaction is signed transaction data.
type Transaction struct {
	Data       TransactionData
	Signatures [][]byte
}

// intent is the scope prefix signed with transaction data.
var intent = [3]byte{0, 0, 0}

func (e *encoder) objectRef(r ObjectRef) {
	e.fixed(r.ID[:])
	e.u64(r.Version)
	e.bytes(r.Digest[:])
}

func (e *encoder) argument(a Argument) {
	e.u8(uint8(a.Kind))
	switch a.Kind {
	case ArgInput, ArgResult:
		e.u16(a.Index)
	case ArgNestedResult:
		e.u16(a.Index)
		e.u16(a.Subresult)
	}
}

func (e *encoder) arguments(args []Argument) {
	e.uleb(uint64(len(args)))
	for _, a := range args {
		e.argument(a)
	}
}

func (e *encoder) typeTag(t TypeTag) {
	e.u8(uint8(t.Kind))
	switch t.Kind {
	case TypeVector:
		e.typeTag(*t.Elem)
	case TypeStruct:
		e.fixed(t.Struct.Address[:])
		e.str(t.Struct.Module)
		e.str(t.Struct.Name)
		e.uleb(uint64(len(t.Struct.TypeParams)))
		for _, p := range t.Struct.TypeParams {
			e.typeTag(p)
		}
	}
}

func (e *encoder) objectIDs(ids []ObjectID) {
	e.uleb(uint64(len(ids)))
	for _, id := range ids {
		e.fixed(id[:])
	}
}

func (e *encoder) modules(mods [][]byte) {
	e.uleb(uint64(len(mods)))
	for _, m := range mods {
		e.bytes(m)
	}
}

func (e *encoder) command(c Command) {
	e.u8(uint8(c.Kind))
	switch c.Kind {
	case CmdMoveCall:
		e.fixed(c.Call.Package[:])
		e.str(c.Call.Module)
		e.str(c.Call.Function)
		e.uleb(uint64(len(c.Call.TypeArguments)))
		for _, t := range c.Call.TypeArguments {
			e.typeTag(t)
		}
		e.arguments(c.Call.Arguments)
	case CmdTransferObjects:
		e.arguments(c.Args)
		e.argument(c.Arg)
	case CmdSplitCoins, CmdMergeCoins:
		e.argument(c.Arg)
		e.arguments(c.Args)
	case CmdPublish:
		e.modules(c.Modules)
		e.objectIDs(c.Dependencies)
	case CmdMakeMoveVec:
		if c.ElemType == nil {
			e.u8(0)
		} else {
			e.u8(1)
			e.typeTag(*c.ElemType)
		}
		e.arguments(c.Args)
	case CmdUpgrade:
		e.modules(c.Modules)
		e.objectIDs(c.Dependencies)
		e.fixed(c.Package[:])
		e.argument(c.Arg)
	}
}

func (e *encoder) programmable(pt *ProgrammableTransaction) {
	e.uleb(uint64(len(pt.Inputs)))
	for _, in := range pt.Inputs {
		if in.Object == nil {
			e.u8(0)
			e.bytes(in.Pure)
			continue
		}
		e.u8(1)
		o := in.Object
		e.u8(uint8(o.Kind))
		switch o.Kind {
		case ObjShared:
			e.fixed(o.Ref.ID[:])
			e.u64(o.InitialSharedVersion)
			e.bool(o.Mutable)
		default:
			e.objectRef(o.Ref)
		}
	}
	e.uleb(uint64(len(pt.Commands)))
	for _, c := range pt.Commands {
		e.command(c)
	}
}

// programmable kind tag within TransactionKind
const kindProgrammable = 0

func (e *encoder) transactionData(td *TransactionData) {
	e.u8(0) // V1
	e.u8(kindProgrammable)
	e.programmable(&td.Kind)
	e.fixed(td.Sender[:])
	e.uleb(uint64(len(td.Gas.Payment)))
	for _, r := range td.Gas.Payment {
		e.objectRef(r)
	}
	e.fixed(td.Gas.Owner[:])
	e.u64(td.Gas.Price)
	e.u64(td.Gas.Budget)
	if td.ExpirationEpoch == nil {
		e.u8(0)
	} else {
		e.u8(1)
		e.u64(*td.ExpirationEpoch)
	}
}

// Marshal returns the canonical encoding of the transaction data.
func (td *TransactionData) Marshal() []byte {
	var e encoder
	e.transactionData(td)
	return e.buf
}

// MarshalKind returns the canonical encoding of a programme as a transaction kind.
func (pt *ProgrammableTransaction) MarshalKind() []byte {
	var e encoder
	e.u8(kindProgrammable)
	e.programmable(pt)
	return e.buf
}

// Marshal returns the canonical encoding of the signed transaction envelope.
func (tx *Transaction) Marshal() []byte {
	var e encoder
	e.uleb(1)
	e.fixed(intent[:])
	e.transactionData(&tx.Data)
	e.uleb(uint64(len(tx.Signatures)))
	for _, s := range tx.Signatures {
		e.bytes(s)
	}
	return e.buf
}

func (d *decoder) address() (a Address) {
	copy(a[:], d.take(AddressLength))
	return a
}

func (d *decoder) objectID() (id ObjectID) {
	copy(id[:], d.take(AddressLength))
	return id
}

func (d *decoder) objectRef() ObjectRef {
	r := ObjectRef{ID: d.objectID(), Version: d.u64()}
	digest := d.bytes()
	if d.err == nil && len(digest) != len(r.Digest) {
		d.fail("object digest length %d", len(digest))
	}
	copy(r.Digest[:], digest)
	return r
}

func (d *decoder) argument() Argument {
	a := Argument{Kind: ArgumentKind(d.u8())}
	switch a.Kind {
	case ArgGasCoin:
	case ArgInput, ArgResult:
		a.Index = d.u16()
	case ArgNestedResult:
		a.Index = d.u16()
		a.Subresult = d.u16()
	default:
		d.fail("unknown argument tag %d", a.Kind)
	}
	return a
}

func (d *decoder) arguments() []Argument {
	n := d.seqLen()
	var args []Argument
	for i := 0; i < n && d.err == nil; i++ {
		args = append(args, d.argument())
	}
	return args
}

// maxTypeDepth bounds nesting of vector and struct type tags.
const maxTypeDepth = 16

func (d *decoder) typeTag(depth int) TypeTag {
	if depth > maxTypeDepth {
		d.fail("type tag nested too deeply")
		return TypeTag{}
	}
	t := TypeTag{Kind: TypeTagKind(d.u8())}
	switch t.Kind {
	case TypeVector:
		elem := d.typeTag(depth + 1)
		t.Elem = &elem
	case TypeStruct:
		st := &StructTag{Address: d.address(), Module: d.str(), Name: d.str()}
		n := d.seqLen()
		for i := 0; i < n && d.err == nil; i++ {
			st.TypeParams = append(st.TypeParams, d.typeTag(depth+1))
		}
		t.Struct = st
	default:
		if _, ok := primitiveNames[t.Kind]; !ok {
			d.fail("unknown type tag %d", t.Kind)
		}
	}
	return t
}

func (d *decoder) objectIDs() []ObjectID {
	n := d.seqLen()
	var ids []ObjectID
	for i := 0; i < n && d.err == nil; i++ {
		ids = append(ids, d.objectID())
	}
	return ids
}

func (d *decoder) modules() [][]byte {
	n := d.seqLen()
	var mods [][]byte
	for i := 0; i < n && d.err == nil; i++ {
		mods = append(mods, d.bytes())
	}
	return mods
}

func (d *decoder) command() Command {
	c := Command{Kind: CommandKind(d.u8())}
	switch c.Kind {
	case CmdMoveCall:
		call := &MoveCall{Package: d.objectID(), Module: d.str(), Function: d.str()}
		n := d.seqLen()
		for i := 0; i < n && d.err == nil; i++ {
			call.TypeArguments = append(call.TypeArguments, d.typeTag(0))
		}
		call.Arguments = d.arguments()
		c.Call = call
	case CmdTransferObjects:
		c.Args = d.arguments()
		c.Arg = d.argument()
	case CmdSplitCoins, CmdMergeCoins:
		c.Arg = d.argument()
		c.Args = d.arguments()
	case CmdPublish:
		c.Modules = d.modules()
		c.Dependencies = d.objectIDs()
	case CmdMakeMoveVec:
		switch d.u8() {
		case 0:
		case 1:
			t := d.typeTag(0)
			c.ElemType = &t
		default:
			d.fail("invalid option tag")
		}
		c.Args = d.arguments()
	case CmdUpgrade:
		c.Modules = d.modules()
		c.Dependencies = d.objectIDs()
		c.Package = d.objectID()
		c.Arg = d.argument()
	default:
		d.fail("unknown command tag %d", c.Kind)
	}
	return c
}

func (d *decoder) callArg() CallArg {
	switch tag := d.u8(); tag {
	case 0:
		return CallArg{Pure: d.bytes()}
	case 1:
		o := &ObjectArg{Kind: ObjectArgKind(d.u8())}
		switch o.Kind {
		case ObjImmOrOwned, ObjReceiving:
			o.Ref = d.objectRef()
		case ObjShared:
			o.Ref.ID = d.objectID()
			o.InitialSharedVersion = d.u64()
			o.Mutable = d.bool()
		default:
			d.fail("unknown object argument tag %d", o.Kind)
		}
		return CallArg{Object: o}
	default:
		d.fail("unknown call argument tag %d", tag)
		return CallArg{}
	}
}

func (d *decoder) programmable() ProgrammableTransaction {
	var pt ProgrammableTransaction
	n := d.seqLen()
	for i := 0; i < n && d.err == nil; i++ {
		pt.Inputs = append(pt.Inputs, d.callArg())
	}
	n = d.seqLen()
	for i := 0; i < n && d.err == nil; i++ {
		pt.Commands = append(pt.Commands, d.command())
	}
	return pt
}

func (d *decoder) transactionData() TransactionData {
	var td TransactionData
	if v := d.u8(); v != 0 {
		d.fail("unsupported transaction data version %d", v)
		return td
	}
	if k := d.u8(); k != kindProgrammable {
		d.fail("unsupported transaction kind %d", k)
		return td
	}
	td.Kind = d.programmable()
	td.Sender = d.address()
	n := d.seqLen()
	for i := 0; i < n && d.err == nil; i++ {
		td.Gas.Payment = append(td.Gas.Payment, d.objectRef())
	}
	td.Gas.Owner = d.address()
	td.Gas.Price = d.u64()
	td.Gas.Budget = d.u64()
	switch d.u8() {
	case 0:
	case 1:
		epoch := d.u64()
		td.ExpirationEpoch = &epoch
	default:
		d.fail("invalid expiration tag")
	}
	return td
}

// UnmarshalTransactionData decodes canonical transaction data.
func UnmarshalTransactionData(b []byte) (*TransactionData, error) {
	d := &decoder{data: b}
	td := d.transactionData()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return &td, nil
}

// UnmarshalTransaction decodes a signed transaction envelope.
func UnmarshalTransaction(b []byte) (*Transaction, error) {
	d := &decoder{data: b}
	if n := d.uleb(); d.err == nil && n != 1 {
		d.fail("expected one signed transaction, got %d", n)
	}
	if in := d.take(3); d.err == nil && (in[0] != intent[0] || in[1] != intent[1] || in[2] != intent[2]) {
		d.fail("unexpected intent %x", in)
	}
	tx := &Transaction{Data: d.transactionData()}
	n := d.seqLen()
	for i := 0; i < n && d.err == nil; i++ {
		tx.Signatures = append(tx.Signatures, d.bytes())
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return tx, nil
}
