// Package ledger is the boundary to the external ledger: object reads, transaction
// submission, the canonical transaction format and the tuno contract's call shapes.
package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Ledger is the subset of ledger node operations used by distributors and clients.
type Ledger interface {
	// GetObject reads the current state of an object.
	GetObject(ctx context.Context, id ObjectID) (*Object, error)
	// GetOwnedObjects lists objects of structType owned by owner.
	GetOwnedObjects(ctx context.Context, owner Address, structType string) ([]*Object, error)
	// ReferenceGasPrice returns the current reference gas price.
	ReferenceGasPrice(ctx context.Context) (uint64, error)
	// ExecuteTransaction submits tx and waits until it is committed.
	// A committed but failed transaction returns its effects and an *ExecutionError.
	ExecuteTransaction(ctx context.Context, tx *Transaction) (*Effects, error)
	// DevInspect runs pt read-only and returns the return values of its first command.
	DevInspect(ctx context.Context, sender Address, pt *ProgrammableTransaction) ([][]byte, error)
}

// Contract names of the tuno package.
const (
	ModuleName      = "tuno"
	FnPayRoyalties  = "pay_royalties"
	FnGetTotalPrice = "get_total_price"
	SongStructName  = "Song"
)

// DefaultGasBudget is the gas budget attached to payment transactions.
const DefaultGasBudget = 50_000_000

// SongType returns the fully qualified Song struct type of pkg.
func SongType(pkg ObjectID) string {
	return fmt.Sprintf("%s::%s::%s", pkg.Hex(), ModuleName, SongStructName)
}

// BuildPayRoyalties builds the single-call payment programme
// pay_royalties(song, distributor, coin).
func BuildPayRoyalties(pkg ObjectID, song ObjectArg, distributor Address, coin ObjectRef, typeArgs ...TypeTag) ProgrammableTransaction {
	coinArg := ImmOrOwnedObject(coin)
	return ProgrammableTransaction{
		Inputs: []CallArg{
			{Object: &song},
			PureAddress(distributor),
			{Object: &coinArg},
		},
		Commands: []Command{MoveCallCommand(MoveCall{
			Package:       pkg,
			Module:        ModuleName,
			Function:      FnPayRoyalties,
			TypeArguments: typeArgs,
			Arguments:     []Argument{Input(0), Input(1), Input(2)},
		})},
	}
}

// BuildGetTotalPrice builds the read-only query get_total_price(song, distributor).
func BuildGetTotalPrice(pkg ObjectID, song ObjectArg, distributor Address, typeArgs ...TypeTag) ProgrammableTransaction {
	return ProgrammableTransaction{
		Inputs: []CallArg{
			{Object: &song},
			PureAddress(distributor),
		},
		Commands: []Command{MoveCallCommand(MoveCall{
			Package:       pkg,
			Module:        ModuleName,
			Function:      FnGetTotalPrice,
			TypeArguments: typeArgs,
			Arguments:     []Argument{Input(0), Input(1)},
		})},
	}
}

// NewTransactionData wraps a programme with sender and gas settings.
func NewTransactionData(sender Address, pt ProgrammableTransaction, gas []ObjectRef, price, budget uint64) TransactionData {
	return TransactionData{
		Kind:   pt,
		Sender: sender,
		Gas: GasData{
			Payment: gas,
			Owner:   sender,
			Price:   price,
			Budget:  budget,
		},
	}
}

// GetTotalPrice asks the ledger how much sender must pay to stream song from distributor.
func GetTotalPrice(ctx context.Context, l Ledger, pkg ObjectID, sender Address, song ObjectArg, distributor Address, typeArgs ...TypeTag) (uint64, error) {
	pt := BuildGetTotalPrice(pkg, song, distributor, typeArgs...)
	values, err := l.DevInspect(ctx, sender, &pt)
	if err != nil {
		return 0, fmt.Errorf("get_total_price: %w", err)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("get_total_price: no return value")
	}
	if len(values[0]) != 8 {
		return 0, fmt.Errorf("get_total_price: return value has %d bytes, want 8", len(values[0]))
	}
	return binary.LittleEndian.Uint64(values[0]), nil
}
