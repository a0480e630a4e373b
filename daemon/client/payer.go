package client

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/TunoMedia/TunoMedia/internal/crypto"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

// GasCoinType is the native coin used to pay for gas.
const GasCoinType = "0x2::iota::IOTA"

// ErrInsufficientFunds is returned when no owned coin covers the price or gas.
var ErrInsufficientFunds = errors.New("insufficient funds")

// CoinObjectType returns the owned-object type of coins of coinType.
func CoinObjectType(coinType string) string {
	return "0x2::coin::Coin<" + coinType + ">"
}

// Payer builds and signs royalty payments on behalf of one account.
type Payer struct {
	ledger    ledger.Ledger
	key       *crypto.Ed25519KeyPair
	pkg       ledger.ObjectID
	coinType  string
	typeArgs  []ledger.TypeTag
	gasBudget uint64
}

// NewPayer creates a payer spending coins of coinType from key's account.
func NewPayer(l ledger.Ledger, key *crypto.Ed25519KeyPair, pkg ledger.ObjectID, coinType string, gasBudget uint64) (*Payer, error) {
	tag, err := ledger.ParseTypeTag(coinType)
	if err != nil {
		return nil, err
	}
	if gasBudget == 0 {
		gasBudget = ledger.DefaultGasBudget
	}
	return &Payer{
		ledger:    l,
		key:       key,
		pkg:       pkg,
		coinType:  coinType,
		typeArgs:  []ledger.TypeTag{tag},
		gasBudget: gasBudget,
	}, nil
}

// Address returns the paying account.
func (p *Payer) Address() ledger.Address {
	return p.key.Address()
}

// ReadSong reads a song and returns it together with its shared-object argument.
func ReadSong(ctx context.Context, l ledger.Ledger, id ledger.ObjectID) (*ledger.Song, ledger.ObjectArg, error) {
	obj, err := l.GetObject(ctx, id)
	if err != nil {
		return nil, ledger.ObjectArg{}, err
	}
	if obj.Owner.Kind != ledger.OwnerShared {
		return nil, ledger.ObjectArg{}, fmt.Errorf("object %s is not a shared song", id)
	}
	song, err := ledger.DecodeSong(obj)
	if err != nil {
		return nil, ledger.ObjectArg{}, err
	}
	return song, ledger.SharedObject(id, obj.Owner.InitialSharedVersion, true), nil
}

// Song reads a song from the payer's ledger.
func (p *Payer) Song(ctx context.Context, id ledger.ObjectID) (*ledger.Song, ledger.ObjectArg, error) {
	return ReadSong(ctx, p.ledger, id)
}

// Price returns what this account pays to stream song from distributor.
func (p *Payer) Price(ctx context.Context, song ledger.ObjectArg, distributor ledger.Address) (uint64, error) {
	return ledger.GetTotalPrice(ctx, p.ledger, p.pkg, p.Address(), song, distributor, p.typeArgs...)
}

func (p *Payer) ownedCoins(ctx context.Context, coinType string) ([]*ledger.Coin, error) {
	objs, err := p.ledger.GetOwnedObjects(ctx, p.Address(), CoinObjectType(coinType))
	if err != nil {
		return nil, err
	}
	coins := make([]*ledger.Coin, 0, len(objs))
	for _, obj := range objs {
		c, err := ledger.DecodeCoin(obj)
		if err != nil {
			return nil, err
		}
		coins = append(coins, c)
	}
	return coins, nil
}

// Pay signs a pay_royalties transaction for song and distributor. The payment coin is
// the smallest owned coin covering the price; gas is paid from the remaining native coins.
// The returned transaction is not submitted.
func (p *Payer) Pay(ctx context.Context, song ledger.ObjectArg, distributor ledger.Address) (*ledger.Transaction, uint64, error) {
	price, err := p.Price(ctx, song, distributor)
	if err != nil {
		return nil, 0, err
	}

	coins, err := p.ownedCoins(ctx, p.coinType)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].Balance < coins[j].Balance })
	var pay *ledger.Coin
	for _, c := range coins {
		if c.Balance >= price {
			pay = c
			break
		}
	}
	if pay == nil {
		return nil, price, fmt.Errorf("%w: no %s coin holds %d", ErrInsufficientFunds, p.coinType, price)
	}

	gasCoins, err := p.ownedCoins(ctx, GasCoinType)
	if err != nil {
		return nil, price, err
	}
	var gas []ledger.ObjectRef
	for _, c := range gasCoins {
		if c.Ref.ID != pay.Ref.ID {
			gas = append(gas, c.Ref)
		}
	}
	if len(gas) == 0 {
		return nil, price, fmt.Errorf("%w: no gas coin besides the payment coin", ErrInsufficientFunds)
	}

	gasPrice, err := p.ledger.ReferenceGasPrice(ctx)
	if err != nil {
		return nil, price, err
	}

	pt := ledger.BuildPayRoyalties(p.pkg, song, distributor, pay.Ref, p.typeArgs...)
	tx, err := ledger.Sign(ledger.NewTransactionData(p.Address(), pt, gas, gasPrice, p.gasBudget), p.key.PrivateKey)
	if err != nil {
		return nil, price, err
	}
	return tx, price, nil
}
