package ledger

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var (
	_ Ledger = (*RPCClient)(nil)
	_ Ledger = (*Memory)(nil)
)

type memCoin struct {
	ref     ObjectRef
	owner   Address
	typ     string
	balance uint64
}

type memSong struct {
	song    Song
	version uint64
	digest  Digest
	initial uint64
}

// Memory is an in-process ledger holding songs and coins. It executes the tuno
// contract's pay_royalties and get_total_price calls and nothing else.
type Memory struct {
	mu          sync.Mutex
	pkg         ObjectID
	gasPrice    uint64
	songs       map[ObjectID]*memSong
	coins       map[ObjectID]*memCoin
	executed    map[Digest]bool
	submissions int
	failReason  string
}

// NewMemory creates an empty in-memory ledger for the tuno package pkg.
func NewMemory(pkg ObjectID) *Memory {
	return &Memory{
		pkg:      pkg,
		gasPrice: 1000,
		songs:    make(map[ObjectID]*memSong),
		coins:    make(map[ObjectID]*memCoin),
		executed: make(map[Digest]bool),
	}
}

func objectDigest(id ObjectID, version uint64) Digest {
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], version)
	return Digest(blake2b.Sum256(append(id[:], v[:]...)))
}

func randomID() ObjectID {
	var id ObjectID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}

// AddSong publishes song as a shared object. A zero song.ID is assigned randomly.
func (m *Memory) AddSong(song Song) ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if song.ID == (ObjectID{}) {
		song.ID = randomID()
	}
	song.Distributors = copyDistributors(song.Distributors)
	m.songs[song.ID] = &memSong{song: song, version: 1, initial: 1, digest: objectDigest(song.ID, 1)}
	return song.ID
}

// AddCoin mints a coin of coinType holding balance for owner.
func (m *Memory) AddCoin(owner Address, coinType string, balance uint64) ObjectRef {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := randomID()
	ref := ObjectRef{ID: id, Version: 1, Digest: objectDigest(id, 1)}
	m.coins[id] = &memCoin{ref: ref, owner: owner, typ: coinType, balance: balance}
	return ref
}

// Song returns a copy of the current state of a song.
func (m *Memory) Song(id ObjectID) (Song, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return Song{}, false
	}
	song := s.song
	song.Distributors = copyDistributors(song.Distributors)
	return song, true
}

func copyDistributors(in map[Address]Distributor) map[Address]Distributor {
	out := make(map[Address]Distributor, len(in))
	for addr, d := range in {
		d.Address = addr
		out[addr] = d
	}
	return out
}

// Submissions returns how many transactions were submitted for execution.
func (m *Memory) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions
}

// FailExecutions makes every later execution fail with reason; empty restores normal behaviour.
func (m *Memory) FailExecutions(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReason = reason
}

func (m *Memory) songObject(s *memSong) *Object {
	return &Object{
		Ref:    ObjectRef{ID: s.song.ID, Version: s.version, Digest: s.digest},
		Type:   SongType(m.pkg),
		Owner:  Owner{Kind: OwnerShared, InitialSharedVersion: s.initial},
		Fields: SongFields(&s.song),
	}
}

func coinObject(c *memCoin) *Object {
	return &Object{
		Ref:   c.ref,
		Type:  c.typ,
		Owner: Owner{Kind: OwnerAddress, Address: c.owner},
		Fields: map[string]any{
			"id":      map[string]any{"id": c.ref.ID.Hex()},
			"balance": strconv.FormatUint(c.balance, 10),
		},
	}
}

// GetObject implements Ledger.
func (m *Memory) GetObject(ctx context.Context, id ObjectID) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.songs[id]; ok {
		return m.songObject(s), nil
	}
	if c, ok := m.coins[id]; ok {
		return coinObject(c), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
}

// GetOwnedObjects implements Ledger. Only coins are owned by addresses here.
func (m *Memory) GetOwnedObjects(ctx context.Context, owner Address, structType string) ([]*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Object
	for _, c := range m.coins {
		if c.owner == owner && strings.EqualFold(c.typ, structType) {
			out = append(out, coinObject(c))
		}
	}
	return out, nil
}

// ReferenceGasPrice implements Ledger.
func (m *Memory) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	return m.gasPrice, nil
}

// ExecuteTransaction implements Ledger.
func (m *Memory) ExecuteTransaction(ctx context.Context, tx *Transaction) (*Effects, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions++

	digest := tx.Digest()
	fail := func(format string, args ...any) (*Effects, error) {
		reason := fmt.Sprintf(format, args...)
		return &Effects{Digest: digest, Error: reason}, &ExecutionError{Digest: digest, Reason: reason}
	}

	if m.failReason != "" {
		return fail("%s", m.failReason)
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}
	if m.executed[digest] {
		return fail("transaction already executed")
	}

	pt := &tx.Data.Kind
	for i, cmd := range pt.Commands {
		if cmd.Kind != CmdMoveCall || cmd.Call.Package != m.pkg || cmd.Call.Module != ModuleName {
			return fail("command %d: unsupported %s", i, cmd.Kind)
		}
		var err error
		switch cmd.Call.Function {
		case FnPayRoyalties:
			err = m.payRoyalties(tx.Data.Sender, pt, cmd.Call)
		default:
			err = fmt.Errorf("function %s is not executable", cmd.Call.Function)
		}
		if err != nil {
			return fail("command %d: %v", i, err)
		}
	}

	m.executed[digest] = true
	return &Effects{Digest: digest, Success: true}, nil
}

// DevInspect implements Ledger.
func (m *Memory) DevInspect(ctx context.Context, sender Address, pt *ProgrammableTransaction) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(pt.Commands) == 0 {
		return nil, fmt.Errorf("empty programme")
	}
	cmd := pt.Commands[0]
	if cmd.Kind != CmdMoveCall || cmd.Call.Package != m.pkg || cmd.Call.Module != ModuleName || cmd.Call.Function != FnGetTotalPrice {
		return nil, &ExecutionError{Reason: "unsupported dev-inspect call"}
	}
	s, d, err := m.songAndDistributor(pt, cmd.Call)
	if err != nil {
		return nil, &ExecutionError{Reason: err.Error()}
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, s.song.StreamingPrice+d.StreamingPrice)
	return [][]byte{out}, nil
}

func (m *Memory) input(pt *ProgrammableTransaction, args []Argument, i int) (CallArg, error) {
	if i >= len(args) || args[i].Kind != ArgInput || int(args[i].Index) >= len(pt.Inputs) {
		return CallArg{}, fmt.Errorf("argument %d is not an input", i)
	}
	return pt.Inputs[args[i].Index], nil
}

func (m *Memory) songAndDistributor(pt *ProgrammableTransaction, call *MoveCall) (*memSong, Distributor, error) {
	songArg, err := m.input(pt, call.Arguments, 0)
	if err != nil || songArg.IsPure() {
		return nil, Distributor{}, fmt.Errorf("argument 0 must be the song object")
	}
	s, ok := m.songs[songArg.Object.ID()]
	if !ok {
		return nil, Distributor{}, fmt.Errorf("song %s not found", songArg.Object.ID())
	}
	if songArg.Object.Kind != ObjShared || songArg.Object.InitialSharedVersion != s.initial {
		return nil, Distributor{}, fmt.Errorf("song %s must be passed as a shared object", s.song.ID)
	}

	distArg, err := m.input(pt, call.Arguments, 1)
	if err != nil || !distArg.IsPure() || len(distArg.Pure) != AddressLength {
		return nil, Distributor{}, fmt.Errorf("argument 1 must be an address")
	}
	var addr Address
	copy(addr[:], distArg.Pure)
	d, ok := s.song.Distributors[addr]
	d.Address = addr
	if !ok {
		return nil, Distributor{}, fmt.Errorf("%s does not distribute song %s", addr, s.song.ID)
	}
	return s, d, nil
}

func (m *Memory) payRoyalties(sender Address, pt *ProgrammableTransaction, call *MoveCall) error {
	s, d, err := m.songAndDistributor(pt, call)
	if err != nil {
		return err
	}

	coinArg, err := m.input(pt, call.Arguments, 2)
	if err != nil || coinArg.IsPure() {
		return fmt.Errorf("argument 2 must be a coin")
	}
	c, ok := m.coins[coinArg.Object.ID()]
	if !ok {
		return fmt.Errorf("coin %s not found", coinArg.Object.ID())
	}
	if c.owner != sender {
		return fmt.Errorf("coin %s is not owned by sender", c.ref.ID)
	}
	if coinArg.Object.Ref.Version != c.ref.Version || coinArg.Object.Ref.Digest != c.ref.Digest {
		return fmt.Errorf("coin %s version is stale", c.ref.ID)
	}

	price := s.song.StreamingPrice + d.StreamingPrice
	if c.balance < price {
		return fmt.Errorf("insufficient balance: have %d, need %d", c.balance, price)
	}

	c.balance -= price
	c.ref.Version++
	c.ref.Digest = objectDigest(c.ref.ID, c.ref.Version)

	s.song.CreatorBalance += s.song.StreamingPrice
	d.Balance += d.StreamingPrice
	s.song.Distributors[d.Address] = d
	s.version++
	s.digest = objectDigest(s.song.ID, s.version)
	return nil
}
