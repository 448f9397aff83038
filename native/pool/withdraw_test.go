package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestPoolWithdrawQuorum(t *testing.T) {
	h := newHarness(t)
	h.mint(t, h.user, h.token, big.NewInt(1_000))
	if _, err := h.engine.DepositToPool(h.ctx, h.user, h.token, big.NewInt(1_000), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	recipient := newTestAddress(0x05)
	amount := big.NewInt(300)
	expire, id := h.expire(), big.NewInt(1)
	req := WithdrawRequest(DomainPool, recipient, amount, h.token, expire, id, h.instance)

	cases := []struct {
		name  string
		order Order
		want  error
	}{
		{"no signatures", Order{ExpireTime: expire, OrderID: id}, ErrInsufficientSignatures},
		{"single signer", h.sign(t, req, expire, id, h.keys[0]), ErrInsufficientSignatures},
		{"duplicate signer", h.sign(t, req, expire, id, h.keys[0], h.keys[0]), ErrInsufficientSignatures},
		{"non member", h.sign(t, req, expire, id, h.keys[0], h.outsider), ErrUnauthorizedSigner},
		{"expired", h.sign(t, WithdrawRequest(DomainPool, recipient, amount, h.token, big.NewInt(h.now), id, h.instance), big.NewInt(h.now), id, h.keys[0], h.keys[1]), ErrExpired},
	}
	for _, tc := range cases {
		// Whitelisted callers get no shortcut on multisig paths.
		err := h.engine.PoolWithdraw(h.ctx, h.relayer, recipient, amount, h.token, tc.order)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	mismatched := h.sign(t, req, expire, id, h.keys[0], h.keys[1])
	mismatched.Signatures = mismatched.Signatures[:1]
	if err := h.engine.PoolWithdraw(h.ctx, h.stranger, recipient, amount, h.token, mismatched); !errors.Is(err, ErrArgumentMismatch) {
		t.Fatalf("expected argument mismatch, got %v", err)
	}

	tampered := h.sign(t, req, expire, id, h.keys[1], h.keys[2])
	if err := h.engine.PoolWithdraw(h.ctx, h.stranger, recipient, big.NewInt(301), h.token, tampered); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected tampered amount to be rejected, got %v", err)
	}

	if err := h.engine.PoolWithdraw(h.ctx, h.stranger, recipient, amount, h.token, tampered); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	pool, err := h.engine.PoolBalance(h.token)
	requireBalance(t, "pool", pool, err, big.NewInt(700))
	requireBalance(t, "recipient", h.custody(t, recipient, h.token), nil, amount)
	evt := h.lastEvent(t)
	if evt.Type != EventTypePoolWithdraw || evt.Attr("orderId") != "1" || evt.Attr("recipient") != recipient.Hex() {
		t.Fatalf("unexpected event %+v", evt)
	}

	if err := h.engine.PoolWithdraw(h.ctx, h.stranger, recipient, amount, h.token, tampered); !errors.Is(err, ErrOrderReused) {
		t.Fatalf("expected replay rejection, got %v", err)
	}

	// A fresh quorum over different fields still cannot reuse the order id.
	other := newTestAddress(0x08)
	otherAmount, otherExpire := big.NewInt(200), h.expire()
	otherReq := WithdrawRequest(DomainPool, other, otherAmount, h.token, otherExpire, id, h.instance)
	reused := h.sign(t, otherReq, otherExpire, id, h.keys[0], h.keys[2])
	if err := h.engine.PoolWithdraw(h.ctx, h.stranger, other, otherAmount, h.token, reused); !errors.Is(err, ErrOrderReused) {
		t.Fatalf("expected reused id with new fields to be rejected, got %v", err)
	}
	pool, err = h.engine.PoolBalance(h.token)
	requireBalance(t, "pool after reuse", pool, err, big.NewInt(700))
	requireBalance(t, "other recipient", h.custody(t, other, h.token), nil, new(big.Int))
	h.requireSolvent(t)
}

func TestRotatedSignerLosesQuorumRights(t *testing.T) {
	h := newHarness(t)
	h.depositNative(t, ether)
	if err := h.engine.UpdateSigners(h.owner, []common.Address{h.keys[1].Address(), h.keys[2].Address()}); err != nil {
		t.Fatalf("update signers: %v", err)
	}
	recipient := newTestAddress(0x05)
	expire, id := h.expire(), big.NewInt(4)
	req := WithdrawRequest(DomainPool, recipient, big.NewInt(10), NativeAsset, expire, id, h.instance)
	stale := h.sign(t, req, expire, id, h.keys[0], h.keys[1])
	if err := h.engine.PoolWithdraw(h.ctx, h.stranger, recipient, big.NewInt(10), NativeAsset, stale); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected removed signer to be rejected, got %v", err)
	}
	fresh := h.sign(t, req, expire, id, h.keys[1], h.keys[2])
	if err := h.engine.PoolWithdraw(h.ctx, h.stranger, recipient, big.NewInt(10), NativeAsset, fresh); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
}

func TestUserWithdrawCollectsFee(t *testing.T) {
	h := newHarness(t)
	h.depositNative(t, ether)
	h.fundUser(t, NativeAsset, big.NewInt(5_000_000))
	custodyBefore := h.custody(t, h.user, NativeAsset)
	amount, fee := big.NewInt(1_000_000), big.NewInt(5_000)

	if err := h.engine.UserWithdraw(h.ctx, h.stranger, h.user, NativeAsset, amount, fee, Order{ExpireTime: h.expire(), OrderID: big.NewInt(3)}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if err := h.engine.UserWithdraw(h.ctx, h.relayer, h.user, NativeAsset, amount, fee, Order{ExpireTime: h.expire(), OrderID: big.NewInt(3)}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	userBal, err := h.engine.UserBalance(h.user, NativeAsset)
	requireBalance(t, "user ledger", userBal, err, big.NewInt(5_000_000-1_005_000))
	feeBal, err := h.engine.FeeBalance(NativeAsset)
	requireBalance(t, "fee", feeBal, err, fee)
	requireBalance(t, "user custody", h.custody(t, h.user, NativeAsset), nil, new(big.Int).Add(custodyBefore, amount))
	evt := h.lastEvent(t)
	if evt.Type != EventTypeUserWithdraw || evt.Attr("amountInclFee") != "1005000" || evt.Attr("fee") != "5000" {
		t.Fatalf("unexpected event %+v", evt)
	}

	expire, id := h.expire(), big.NewInt(5)
	req := UserWithdrawRequest(h.user, amount, NativeAsset, fee, expire, id, h.instance)
	signed := h.sign(t, req, expire, id, h.keys[0], h.keys[1])
	if err := h.engine.UserWithdraw(h.ctx, h.stranger, h.user, NativeAsset, amount, fee, signed); err != nil {
		t.Fatalf("co-signed withdraw: %v", err)
	}

	tooMuch := Order{ExpireTime: h.expire(), OrderID: big.NewInt(6)}
	if err := h.engine.UserWithdraw(h.ctx, h.relayer, h.user, NativeAsset, big.NewInt(5_000_000), new(big.Int), tooMuch); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	h.requireSolvent(t)
}

func TestOrderDomainsAreDisjoint(t *testing.T) {
	h := newHarness(t)
	h.depositNative(t, ether)
	h.fundUser(t, NativeAsset, big.NewInt(5_000_000))
	id := big.NewInt(3)
	userOrder := Order{ExpireTime: h.expire(), OrderID: id}
	if err := h.engine.UserWithdraw(h.ctx, h.user, h.user, NativeAsset, big.NewInt(1_000), big.NewInt(500), userOrder); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied for unsigned self withdraw, got %v", err)
	}
	if err := h.engine.UserWithdraw(h.ctx, h.relayer, h.user, NativeAsset, big.NewInt(1_000), big.NewInt(500), userOrder); err != nil {
		t.Fatalf("user withdraw: %v", err)
	}

	recipient := newTestAddress(0x06)
	expire := h.expire()
	feeReq := WithdrawRequest(DomainFee, recipient, big.NewInt(500), NativeAsset, expire, id, h.instance)
	if err := h.engine.PoolFeeWithdraw(h.ctx, h.relayer, recipient, big.NewInt(500), NativeAsset, h.sign(t, feeReq, expire, id, h.keys[0], h.keys[1])); err != nil {
		t.Fatalf("fee withdraw: %v", err)
	}
	if evt := h.lastEvent(t); evt.Type != EventTypePoolFeeWithdraw {
		t.Fatalf("unexpected event type %s", evt.Type)
	}
	poolReq := WithdrawRequest(DomainPool, recipient, big.NewInt(500), NativeAsset, expire, id, h.instance)
	if err := h.engine.PoolWithdraw(h.ctx, h.relayer, recipient, big.NewInt(500), NativeAsset, h.sign(t, poolReq, expire, id, h.keys[0], h.keys[1])); err != nil {
		t.Fatalf("pool withdraw: %v", err)
	}

	// FEE signatures do not authorize a POOL release.
	crossID := big.NewInt(9)
	crossReq := WithdrawRequest(DomainFee, recipient, big.NewInt(500), NativeAsset, expire, crossID, h.instance)
	cross := h.sign(t, crossReq, expire, crossID, h.keys[0], h.keys[1])
	if err := h.engine.PoolWithdraw(h.ctx, h.relayer, recipient, big.NewInt(500), NativeAsset, cross); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected cross-domain signatures to fail, got %v", err)
	}
	feeBal, err := h.engine.FeeBalance(NativeAsset)
	requireBalance(t, "fee", feeBal, err, new(big.Int))
	h.requireSolvent(t)
}

func TestEmergencyWithdrawBypassesLedger(t *testing.T) {
	h := newHarness(t)
	h.depositNative(t, ether)
	recipient := newTestAddress(0x07)
	amount := big.NewInt(1_000)
	expire, id := h.expire(), big.NewInt(11)

	otherChain := EtherRequest(recipient, amount, expire, id, h.instance, big.NewInt(2))
	if err := h.engine.EmergencyWithdrawETH(h.ctx, h.stranger, recipient, amount, h.sign(t, otherChain, expire, id, h.keys[0], h.keys[1])); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected signatures for another chain to fail, got %v", err)
	}

	req := EtherRequest(recipient, amount, expire, id, h.instance, h.engine.ChainID())
	if err := h.engine.EmergencyWithdrawETH(h.ctx, h.stranger, recipient, amount, h.sign(t, req, expire, id, h.keys[0], h.keys[1])); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	pool, err := h.engine.PoolBalance(NativeAsset)
	requireBalance(t, "pool ledger", pool, err, ether)
	requireBalance(t, "recipient", h.custody(t, recipient, NativeAsset), nil, amount)

	report, err := h.engine.Solvency(NativeAsset)
	if err != nil {
		t.Fatalf("solvency: %v", err)
	}
	if report.Solvent() || report.Gap().Cmp(big.NewInt(-1_000)) != 0 {
		t.Fatalf("expected a gap of -1000 until reconciliation, got %s", report.Gap())
	}
	if evt := h.lastEvent(t); evt.Type != EventTypeEmergencyWithdraw || evt.Attr("asset") != NativeAsset.Hex() {
		t.Fatalf("unexpected event %+v", evt)
	}

	if err := h.engine.SetPoolBalances(h.owner, []common.Address{NativeAsset}, []*big.Int{new(big.Int).Sub(ether, amount)}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	h.requireSolvent(t)
}

func TestEmergencyWithdrawErc20(t *testing.T) {
	h := newHarness(t)
	h.mint(t, h.user, h.token, big.NewInt(1_000))
	if _, err := h.engine.DepositToPool(h.ctx, h.user, h.token, big.NewInt(1_000), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	recipient := newTestAddress(0x07)
	expire, id := h.expire(), big.NewInt(12)

	native := ERC20Request(recipient, big.NewInt(10), NativeAsset, expire, id, h.instance, h.engine.ChainID())
	if err := h.engine.EmergencyWithdrawErc20(h.ctx, h.stranger, recipient, big.NewInt(10), NativeAsset, h.sign(t, native, expire, id, h.keys[0], h.keys[1])); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected native asset to be rejected, got %v", err)
	}

	req := ERC20Request(recipient, big.NewInt(400), h.token, expire, id, h.instance, h.engine.ChainID())
	order := h.sign(t, req, expire, id, h.keys[2], h.keys[0])
	if err := h.engine.EmergencyWithdrawErc20(h.ctx, h.stranger, recipient, big.NewInt(400), h.token, order); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	requireBalance(t, "recipient", h.custody(t, recipient, h.token), nil, big.NewInt(400))
	pool, err := h.engine.PoolBalance(h.token)
	requireBalance(t, "pool ledger", pool, err, big.NewInt(1_000))

	if err := h.engine.EmergencyWithdrawErc20(h.ctx, h.stranger, recipient, big.NewInt(400), h.token, order); !errors.Is(err, ErrOrderReused) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
}
