package zklink

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"omnipool/native/pool"
)

var (
	depositCountKey  = []byte("zklink/deposits/count")
	depositPrefix    = []byte("zklink/deposits/")
	errNilState      = errors.New("zklink: state not configured")
	errInvalidAmount = errors.New("zklink: deposit amount must be positive")
)

// State is the key-value surface used to queue deposits. It shares the pool
// journal so queued deposits revert with the originating operation.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Deposit is a queued transfer to the spot network.
type Deposit struct {
	Sequence uint64
	From     common.Address
	User     common.Address
	Asset    common.Address
	Amount   *big.Int
	DestRef  [32]byte
}

type storedDeposit struct {
	Sequence uint64
	From     common.Address
	User     common.Address
	Asset    common.Address
	Amount   string
	DestRef  [32]byte
}

// Gateway accepts funds delivered to its address and queues them for the
// spot network keyed by a 32-byte destination reference.
type Gateway struct {
	address common.Address
	state   State
}

// NewGateway binds a gateway deployed at address to the supplied state.
func NewGateway(address common.Address, state State) *Gateway {
	return &Gateway{address: address, state: state}
}

// Address implements pool.SettlementGateway.
func (g *Gateway) Address() common.Address { return g.address }

// DepositToSpot implements pool.SettlementGateway.
func (g *Gateway) DepositToSpot(ctx context.Context, deposit pool.SpotDeposit) error {
	if g == nil || g.state == nil {
		return errNilState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if deposit.Amount == nil || deposit.Amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if deposit.DestRef == ([32]byte{}) {
		return errors.New("zklink: destination reference required")
	}
	var count uint64
	if _, err := g.state.KVGet(depositCountKey, &count); err != nil {
		return fmt.Errorf("zklink: load deposit count: %w", err)
	}
	record := storedDeposit{
		Sequence: count,
		From:     deposit.From,
		User:     deposit.User,
		Asset:    deposit.Asset,
		Amount:   deposit.Amount.String(),
		DestRef:  deposit.DestRef,
	}
	if err := g.state.KVPut(depositKey(count), record); err != nil {
		return fmt.Errorf("zklink: store deposit: %w", err)
	}
	return g.state.KVPut(depositCountKey, count+1)
}

// Count returns the number of queued deposits.
func (g *Gateway) Count() (uint64, error) {
	if g == nil || g.state == nil {
		return 0, errNilState
	}
	var count uint64
	if _, err := g.state.KVGet(depositCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Deposit returns the queued deposit with the given sequence number.
func (g *Gateway) Deposit(seq uint64) (*Deposit, error) {
	if g == nil || g.state == nil {
		return nil, errNilState
	}
	var record storedDeposit
	ok, err := g.state.KVGet(depositKey(seq), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("zklink: deposit %d not found", seq)
	}
	amount, ok := new(big.Int).SetString(record.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("zklink: deposit %d has malformed amount", seq)
	}
	return &Deposit{
		Sequence: record.Sequence,
		From:     record.From,
		User:     record.User,
		Asset:    record.Asset,
		Amount:   amount,
		DestRef:  record.DestRef,
	}, nil
}

func depositKey(seq uint64) []byte {
	encoded, _ := rlp.EncodeToBytes(seq)
	key := make([]byte, 0, len(depositPrefix)+len(encoded))
	key = append(key, depositPrefix...)
	return append(key, encoded...)
}
