package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapFromPool exchanges pool liquidity for the recipient. A nil order is the
// trusted-caller variant; otherwise the SWAP_POOL order is consumed first.
func (e *Engine) SwapFromPool(ctx context.Context, caller common.Address, params SwapParams, order *Order) (*SwapResult, error) {
	return e.runSwap(ctx, ClassPool, caller, params, order)
}

// SwapFromUser exchanges the recipient's own custody balance. The caller must
// be whitelisted or present a quorum, even when it is the recipient.
func (e *Engine) SwapFromUser(ctx context.Context, caller common.Address, params SwapParams, order *Order) (*SwapResult, error) {
	return e.runSwap(ctx, ClassUser, caller, params, order)
}

func (e *Engine) runSwap(ctx context.Context, source Class, caller common.Address, params SwapParams, order *Order) (*SwapResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var result *SwapResult
	err := e.atomic(func() error {
		if err := e.guardReentry("swap"); err != nil {
			return err
		}
		if err := validateSwapParams(params); err != nil {
			return err
		}
		domain := DomainSwapPool
		if source == ClassUser {
			domain = DomainSwapUser
		}
		req := SwapRequest(domain, params.Recipient, params.Amount, params.SrcAsset, params.Fee, orderExpire(order), orderID(order), e.instance)
		if err := e.relayAuthorize(caller, req, order); err != nil {
			return err
		}
		res, err := e.swap(ctx, source, caller, params)
		if err != nil {
			return err
		}
		e.emit(NewSwapEvent(source, caller, params, res, swapReference(params.Router, order)))
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateSwapParams(params SwapParams) error {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: swap amount must be positive", ErrInvalidArgument)
	}
	if params.Fee == nil || params.Fee.Sign() < 0 {
		return fmt.Errorf("%w: swap fee must not be negative", ErrInvalidArgument)
	}
	if params.Recipient == (common.Address{}) {
		return fmt.Errorf("%w: recipient required", ErrInvalidArgument)
	}
	if params.Router == (common.Address{}) {
		return fmt.Errorf("%w: router required", ErrInvalidArgument)
	}
	return nil
}

// swap performs the debit, router call, measurement and credits. The debit is
// written before the router runs so reentrant calls observe it.
func (e *Engine) swap(ctx context.Context, source Class, caller common.Address, params SwapParams) (*SwapResult, error) {
	exchanger := e.resolveRouter(params.Router)
	if exchanger == nil {
		return nil, fmt.Errorf("%w: no adapter for router %s", ErrExternalCallFailed, params.Router.Hex())
	}
	instr, err := exchanger.Decode(params.CallData)
	if err != nil {
		return nil, fmt.Errorf("%w: decode router call data: %v", ErrInvalidArgument, err)
	}
	if instr.SrcAsset != params.SrcAsset {
		return nil, fmt.Errorf("%w: call data sells %s, request sells %s", ErrInvalidArgument, instr.SrcAsset.Hex(), params.SrcAsset.Hex())
	}
	if instr.Amount == nil || instr.Amount.Cmp(params.Amount) != 0 {
		return nil, fmt.Errorf("%w: call data amount %v does not match %s", ErrInvalidArgument, instr.Amount, params.Amount)
	}
	if instr.Receiver != e.instance {
		return nil, fmt.Errorf("%w: swap output must be delivered to the pool", ErrInvalidArgument)
	}
	minReturn := cloneBigInt(instr.MinReturn)

	holder := common.Address{}
	if source == ClassUser {
		holder = params.Recipient
	}
	total := new(big.Int).Add(params.Amount, params.Fee)
	if err := e.debit(source, holder, params.SrcAsset, total); err != nil {
		return nil, err
	}

	if err := e.assets.Transfer(e.instance, params.Router, params.SrcAsset, params.Amount); err != nil {
		return nil, fmt.Errorf("%w: deliver %s to router: %v", ErrExternalCallFailed, params.SrcAsset.Hex(), err)
	}
	// Measured after the source leg so a same-asset swap counts only what
	// the router delivers.
	before, err := e.assets.BalanceOf(e.instance, instr.DstAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: measure %s: %v", ErrExternalCallFailed, instr.DstAsset.Hex(), err)
	}
	call := ExchangeCall{
		Router:      params.Router,
		Payer:       e.instance,
		Instruction: instr,
		CallData:    append([]byte(nil), params.CallData...),
	}
	if err := e.callOut(func() error { return exchanger.Exchange(ctx, call) }); err != nil {
		return nil, fmt.Errorf("%w: router %s: %v", ErrExternalCallFailed, params.Router.Hex(), err)
	}
	after, err := e.assets.BalanceOf(e.instance, instr.DstAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: measure %s: %v", ErrExternalCallFailed, instr.DstAsset.Hex(), err)
	}
	received := new(big.Int).Sub(after, before)
	if received.Sign() < 0 {
		return nil, fmt.Errorf("%w: router reduced %s custody by %s", ErrExternalCallFailed, instr.DstAsset.Hex(), new(big.Int).Neg(received))
	}
	if received.Cmp(minReturn) < 0 {
		return nil, fmt.Errorf("%w: received %s, minimum %s", ErrSlippageNotMet, received, minReturn)
	}
	if err := e.credit(ClassFee, common.Address{}, params.SrcAsset, params.Fee); err != nil {
		return nil, err
	}
	if err := e.credit(ClassUser, params.Recipient, instr.DstAsset, received); err != nil {
		return nil, err
	}
	return &SwapResult{DstAsset: instr.DstAsset, Received: received}, nil
}

func (e *Engine) resolveRouter(router common.Address) Exchanger {
	if e.routers == nil {
		return nil
	}
	return e.routers.Resolve(router)
}

// callOut runs an untrusted external call and turns a panic into an error.
// While it runs, operations that move assets into custody are refused so a
// reentrant deposit or swap cannot inflate the measured delta.
func (e *Engine) callOut(fn func() error) (err error) {
	e.external++
	defer func() {
		e.external--
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (e *Engine) guardReentry(op string) error {
	if e.external > 0 {
		return fmt.Errorf("%w: %s is not allowed during an external call", ErrAccessDenied, op)
	}
	return nil
}

func swapReference(router common.Address, order *Order) string {
	if order != nil && order.OrderID != nil {
		return order.OrderID.String()
	}
	return router.Hex()
}

func orderExpire(order *Order) *big.Int {
	if order == nil || order.ExpireTime == nil {
		return new(big.Int)
	}
	return order.ExpireTime
}

func orderID(order *Order) *big.Int {
	if order == nil || order.OrderID == nil {
		return new(big.Int)
	}
	return order.OrderID
}
