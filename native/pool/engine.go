package pool

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/core/events"
	"omnipool/core/types"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
}

type poolEvent struct {
	evt *types.Event
}

func (e poolEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e poolEvent) Event() *types.Event { return e.evt }

// Engine implements the custody and settlement rules of a single pool
// instance. It is not safe for concurrent use: callers serialize operations,
// while reentrant calls made by routers or gateways on the same goroutine are
// supported and observe the state committed so far.
type Engine struct {
	state    engineState
	assets   AssetLedger
	routers  RouterResolver
	gateway  SettlementGateway
	emitter  events.Emitter
	instance common.Address
	chainID  *big.Int
	nowFn    func() int64

	depth    int
	external int
	pending  []*types.Event
}

// NewEngine creates an engine for the pool instance deployed at the supplied
// address on the given chain.
func NewEngine(instance common.Address, chainID *big.Int) *Engine {
	return &Engine{
		instance: instance,
		chainID:  cloneBigInt(chainID),
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the journaled state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssetLedger configures the real-asset transfer surface.
func (e *Engine) SetAssetLedger(assets AssetLedger) { e.assets = assets }

// SetRouters configures the router adapters available to swaps.
func (e *Engine) SetRouters(routers RouterResolver) { e.routers = routers }

// SetGateway configures the settlement gateway used by omni transfers.
func (e *Engine) SetGateway(gateway SettlementGateway) { e.gateway = gateway }

// SetEmitter configures the event emitter. Passing nil resets to a noop.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for expiry checks.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

// Instance returns the pool instance address that holds custodied assets.
func (e *Engine) Instance() common.Address { return e.instance }

// ChainID returns the network identifier bound into emergency digests.
func (e *Engine) ChainID() *big.Int { return cloneBigInt(e.chainID) }

func (e *Engine) now() *big.Int {
	if e.nowFn == nil {
		return big.NewInt(time.Now().Unix())
	}
	return big.NewInt(e.nowFn())
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.assets == nil {
		return errNilAssets
	}
	return nil
}

// Initialize seeds the owner, signer set, whitelist and multi-chain assets.
// It may run once per state.
func (e *Engine) Initialize(genesis Genesis) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		var done bool
		if _, err := e.state.KVGet(initializedKey, &done); err != nil {
			return err
		}
		if done {
			return errInitialized
		}
		if genesis.Owner == (common.Address{}) {
			return fmt.Errorf("%w: owner required", ErrInvalidArgument)
		}
		if err := e.state.KVPut(ownerKey, genesis.Owner); err != nil {
			return err
		}
		if err := e.writeSigners(genesis.Signers); err != nil {
			return err
		}
		for _, addr := range genesis.Whitelist {
			if _, err := e.setWhitelisted(addr, true); err != nil {
				return err
			}
		}
		for _, asset := range genesis.MultiChainAssets {
			if err := e.state.KVPut(multiChainKey(asset), true); err != nil {
				return err
			}
			if err := e.trackAsset(asset); err != nil {
				return err
			}
		}
		return e.state.KVPut(initializedKey, true)
	})
}

// Initialized reports whether Initialize has completed for the state.
func (e *Engine) Initialized() bool {
	if e == nil || e.state == nil {
		return false
	}
	var done bool
	_, _ = e.state.KVGet(initializedKey, &done)
	return done
}

// atomic runs fn inside a state snapshot. Any error reverts every write and
// drops the events buffered since the snapshot. Events reach the emitter only
// when the outermost operation succeeds.
func (e *Engine) atomic(fn func() error) (err error) {
	snap := e.state.Snapshot()
	mark := len(e.pending)
	e.depth++
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: operation aborted: %v", r)
		}
		e.depth--
		if err != nil {
			e.state.RevertToSnapshot(snap)
			e.pending = e.pending[:mark]
			return
		}
		if e.depth == 0 {
			pending := e.pending
			e.pending = nil
			for _, evt := range pending {
				e.emitter.Emit(poolEvent{evt: evt})
			}
		}
	}()
	return fn()
}

func (e *Engine) emit(event *types.Event) {
	if event == nil {
		return
	}
	e.pending = append(e.pending, event)
}
