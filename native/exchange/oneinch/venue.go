package oneinch

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/pool"
)

type pair struct {
	src common.Address
	dst common.Address
}

type rate struct {
	num *big.Int
	den *big.Int
}

// FixedRateVenue settles swaps at configured rates from inventory held under
// the router address.
type FixedRateVenue struct {
	mu     sync.RWMutex
	assets pool.AssetLedger
	rates  map[pair]rate
}

// NewFixedRateVenue builds a venue paying out of the supplied ledger.
func NewFixedRateVenue(assets pool.AssetLedger) *FixedRateVenue {
	return &FixedRateVenue{assets: assets, rates: make(map[pair]rate)}
}

// SetRate quotes num/den units of dst per unit of src.
func (v *FixedRateVenue) SetRate(src, dst common.Address, num, den *big.Int) error {
	if num == nil || den == nil || num.Sign() < 0 || den.Sign() <= 0 {
		return fmt.Errorf("oneinch: invalid rate %v/%v", num, den)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rates[pair{src: src, dst: dst}] = rate{num: new(big.Int).Set(num), den: new(big.Int).Set(den)}
	return nil
}

// Quote returns the output for amount of src, rounding down.
func (v *FixedRateVenue) Quote(src, dst common.Address, amount *big.Int) (*big.Int, error) {
	v.mu.RLock()
	r, ok := v.rates[pair{src: src, dst: dst}]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("oneinch: no rate for %s -> %s", src.Hex(), dst.Hex())
	}
	out := new(big.Int).Mul(amount, r.num)
	return out.Quo(out, r.den), nil
}

// Execute implements Venue.
func (v *FixedRateVenue) Execute(ctx context.Context, fill Fill) error {
	out, err := v.Quote(fill.SrcAsset, fill.DstAsset, fill.Amount)
	if err != nil {
		return err
	}
	return v.assets.Transfer(fill.Router, fill.Receiver, fill.DstAsset, out)
}
