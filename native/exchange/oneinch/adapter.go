package oneinch

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/pool"
)

// Fill is the settled leg a venue must deliver.
type Fill struct {
	Router   common.Address
	SrcAsset common.Address
	DstAsset common.Address
	Amount   *big.Int
	Receiver common.Address
}

// Venue executes a decoded swap once the source asset sits with the router.
type Venue interface {
	Execute(ctx context.Context, fill Fill) error
}

// Adapter speaks the aggregation router call format on behalf of the pool.
type Adapter struct {
	venue Venue
}

// NewAdapter wraps the venue that settles decoded swaps.
func NewAdapter(venue Venue) *Adapter {
	return &Adapter{venue: venue}
}

// Decode implements pool.Exchanger.
func (a *Adapter) Decode(callData []byte) (pool.SwapInstruction, error) {
	_, desc, _, err := DecodeSwap(callData)
	if err != nil {
		return pool.SwapInstruction{}, err
	}
	if desc.Amount == nil || desc.Amount.Sign() <= 0 {
		return pool.SwapInstruction{}, errors.New("oneinch: swap amount must be positive")
	}
	return pool.SwapInstruction{
		SrcAsset:  NormalizeAsset(desc.SrcToken),
		DstAsset:  NormalizeAsset(desc.DstToken),
		Amount:    new(big.Int).Set(desc.Amount),
		MinReturn: new(big.Int).Set(desc.MinReturnAmount),
		Receiver:  desc.DstReceiver,
	}, nil
}

// Exchange implements pool.Exchanger.
func (a *Adapter) Exchange(ctx context.Context, call pool.ExchangeCall) error {
	if a == nil || a.venue == nil {
		return errors.New("oneinch: venue not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	instr := call.Instruction
	if err := a.venue.Execute(ctx, Fill{
		Router:   call.Router,
		SrcAsset: instr.SrcAsset,
		DstAsset: instr.DstAsset,
		Amount:   instr.Amount,
		Receiver: instr.Receiver,
	}); err != nil {
		return fmt.Errorf("oneinch: execute: %w", err)
	}
	return nil
}
