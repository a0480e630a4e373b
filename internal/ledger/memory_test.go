package ledger

import (
	"context"
	"errors"
	"testing"
)

const testCoinType = "0x2::coin::Coin<0xdd::usdc::USDC>"

func TestMemory_PayRoyalties(t *testing.T) {
	ctx := context.Background()
	pkg := MustObjectID("0xabc")
	mem := NewMemory(pkg)

	priv, buyer := testKey(t)
	song := sampleSong()
	songID := mem.AddSong(song)
	distributor := song.DistributorAddresses()[0]
	coin := mem.AddCoin(buyer, testCoinType, 100)

	obj, err := mem.GetObject(ctx, songID)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	songArg, err := obj.SharedArg(true)
	if err != nil {
		t.Fatalf("SharedArg failed: %v", err)
	}

	price, err := GetTotalPrice(ctx, mem, pkg, buyer, songArg, distributor)
	if err != nil {
		t.Fatalf("GetTotalPrice failed: %v", err)
	}
	if price != 13 {
		t.Errorf("Expected price 13, got %d", price)
	}

	pt := BuildPayRoyalties(pkg, songArg, distributor, coin)
	tx, err := Sign(NewTransactionData(buyer, pt, nil, 1000, DefaultGasBudget), priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	effects, err := mem.ExecuteTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("ExecuteTransaction failed: %v", err)
	}
	if !effects.Success || effects.Digest != tx.Digest() {
		t.Errorf("Unexpected effects %+v", effects)
	}

	after, _ := mem.Song(songID)
	if after.CreatorBalance != 10 {
		t.Errorf("Expected creator balance 10, got %d", after.CreatorBalance)
	}
	if after.Distributors[distributor].Balance != 3 {
		t.Errorf("Expected distributor balance 3, got %d", after.Distributors[distributor].Balance)
	}

	coinObj, _ := mem.GetObject(ctx, coin.ID)
	c, err := DecodeCoin(coinObj)
	if err != nil {
		t.Fatalf("DecodeCoin failed: %v", err)
	}
	if c.Balance != 87 {
		t.Errorf("Expected coin balance 87, got %d", c.Balance)
	}

	// Replays are rejected
	if _, err := mem.ExecuteTransaction(ctx, tx); !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("Expected replay to fail, got %v", err)
	}
	if mem.Submissions() != 2 {
		t.Errorf("Expected 2 submissions, got %d", mem.Submissions())
	}
}

func TestMemory_ExecutionFailures(t *testing.T) {
	ctx := context.Background()
	pkg := MustObjectID("0xabc")
	mem := NewMemory(pkg)

	priv, buyer := testKey(t)
	song := sampleSong()
	songID := mem.AddSong(song)
	distributor := song.DistributorAddresses()[0]
	stranger, _ := ParseAddress("0xfff")
	poor := mem.AddCoin(buyer, testCoinType, 1)
	rich := mem.AddCoin(buyer, testCoinType, 1000)
	songArg := SharedObject(songID, 1, true)

	tests := map[string]ProgrammableTransaction{
		"insufficient balance":    BuildPayRoyalties(pkg, songArg, distributor, poor),
		"unknown distributor":     BuildPayRoyalties(pkg, songArg, stranger, rich),
		"owned song argument":     BuildPayRoyalties(pkg, ImmOrOwnedObject(ObjectRef{ID: songID}), distributor, rich),
		"stale coin version":      BuildPayRoyalties(pkg, songArg, distributor, ObjectRef{ID: rich.ID, Version: 9}),
		"wrong package":           BuildPayRoyalties(MustObjectID("0xdef"), songArg, distributor, rich),
		"non-executable function": BuildGetTotalPrice(pkg, songArg, distributor),
	}

	for name, pt := range tests {
		tx, err := Sign(NewTransactionData(buyer, pt, nil, 1000, DefaultGasBudget), priv)
		if err != nil {
			t.Fatalf("%s: Sign failed: %v", name, err)
		}
		if _, err := mem.ExecuteTransaction(ctx, tx); !errors.Is(err, ErrExecutionFailed) {
			t.Errorf("%s: expected ErrExecutionFailed, got %v", name, err)
		}
	}

	mem.FailExecutions("node unavailable")
	tx, _ := Sign(NewTransactionData(buyer, BuildPayRoyalties(pkg, songArg, distributor, rich), nil, 1000, DefaultGasBudget), priv)
	if _, err := mem.ExecuteTransaction(ctx, tx); !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("Expected forced failure, got %v", err)
	}
}

func TestMemory_OwnedCoins(t *testing.T) {
	mem := NewMemory(MustObjectID("0xabc"))
	_, owner := testKey(t)
	_, other := testKey(t)
	mem.AddCoin(owner, testCoinType, 5)
	mem.AddCoin(owner, testCoinType, 6)
	mem.AddCoin(other, testCoinType, 7)

	objs, err := mem.GetOwnedObjects(context.Background(), owner, testCoinType)
	if err != nil {
		t.Fatalf("GetOwnedObjects failed: %v", err)
	}
	if len(objs) != 2 {
		t.Errorf("Expected 2 coins, got %d", len(objs))
	}
}
