// Package client buys and downloads content from distributors.
package client

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

// ErrNoDistributor is returned when a song has no usable distributor.
var ErrNoDistributor = errors.New("no distributor available")

// Selector picks the distributor to pay and download from.
type Selector func(song *ledger.Song) (ledger.Distributor, error)

func distributorAt(song *ledger.Song, addr ledger.Address) ledger.Distributor {
	d := song.Distributors[addr]
	d.Address = addr
	return d
}

// SelectFirst picks the distributor with the lowest address.
func SelectFirst(song *ledger.Song) (ledger.Distributor, error) {
	addrs := song.DistributorAddresses()
	if len(addrs) == 0 {
		return ledger.Distributor{}, fmt.Errorf("%w: song %s", ErrNoDistributor, song.ID)
	}
	return distributorAt(song, addrs[0]), nil
}

// SelectCheapest picks the distributor with the lowest streaming price.
// Ties go to the lower address.
func SelectCheapest(song *ledger.Song) (ledger.Distributor, error) {
	addrs := song.DistributorAddresses()
	if len(addrs) == 0 {
		return ledger.Distributor{}, fmt.Errorf("%w: song %s", ErrNoDistributor, song.ID)
	}
	best := distributorAt(song, addrs[0])
	for _, a := range addrs[1:] {
		if d := distributorAt(song, a); d.StreamingPrice < best.StreamingPrice {
			best = d
		}
	}
	return best, nil
}

// SelectRandom picks a distributor uniformly at random.
func SelectRandom(song *ledger.Song) (ledger.Distributor, error) {
	addrs := song.DistributorAddresses()
	if len(addrs) == 0 {
		return ledger.Distributor{}, fmt.Errorf("%w: song %s", ErrNoDistributor, song.ID)
	}
	return distributorAt(song, addrs[rand.IntN(len(addrs))]), nil
}

// SelectAddress returns a selector that only accepts addr.
func SelectAddress(addr ledger.Address) Selector {
	return func(song *ledger.Song) (ledger.Distributor, error) {
		if _, ok := song.Distributors[addr]; !ok {
			return ledger.Distributor{}, fmt.Errorf("%w: %s does not distribute song %s", ErrNoDistributor, addr, song.ID)
		}
		return distributorAt(song, addr), nil
	}
}

// ParseSelector maps a selection strategy name to its selector.
func ParseSelector(name string) (Selector, error) {
	switch name {
	case "", "first":
		return SelectFirst, nil
	case "cheapest":
		return SelectCheapest, nil
	case "random":
		return SelectRandom, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}
