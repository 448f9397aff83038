package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/core/events"
	"omnipool/core/state"
	"omnipool/core/types"
	poolcrypto "omnipool/crypto"
	"omnipool/native/bank"
)

const testNow int64 = 1_700_000_000

var ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type fakeExchanger struct {
	assets  *bank.Ledger
	instr   SwapInstruction
	deliver *big.Int
	fail    error
	hook    func()
	calls   int
}

func (f *fakeExchanger) Decode(callData []byte) (SwapInstruction, error) {
	if len(callData) == 0 {
		return SwapInstruction{}, errors.New("empty call data")
	}
	instr := f.instr
	instr.Amount = cloneBigInt(f.instr.Amount)
	instr.MinReturn = cloneBigInt(f.instr.MinReturn)
	return instr, nil
}

func (f *fakeExchanger) Exchange(ctx context.Context, call ExchangeCall) error {
	f.calls++
	if f.hook != nil {
		f.hook()
	}
	if f.fail != nil {
		return f.fail
	}
	return f.assets.Transfer(call.Router, call.Instruction.Receiver, call.Instruction.DstAsset, f.deliver)
}

type fakeGateway struct {
	addr     common.Address
	deposits []SpotDeposit
	fail     error
}

func (g *fakeGateway) Address() common.Address { return g.addr }

func (g *fakeGateway) DepositToSpot(ctx context.Context, deposit SpotDeposit) error {
	if g.fail != nil {
		return g.fail
	}
	g.deposits = append(g.deposits, deposit)
	return nil
}

type harness struct {
	ctx       context.Context
	engine    *Engine
	journal   *state.Journal
	bank      *bank.Ledger
	recorder  *events.Recorder
	exchanger *fakeExchanger
	gateway   *fakeGateway
	keys      []*poolcrypto.PrivateKey
	outsider  *poolcrypto.PrivateKey
	now       int64

	instance common.Address
	owner    common.Address
	relayer  common.Address
	user     common.Address
	stranger common.Address
	token    common.Address
	usdt     common.Address
	router   common.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ctx:      context.Background(),
		now:      testNow,
		instance: newTestAddress(0xF0),
		owner:    newTestAddress(0x01),
		relayer:  newTestAddress(0x02),
		user:     newTestAddress(0x03),
		stranger: newTestAddress(0x04),
		token:    newTestAddress(0xAA),
		usdt:     newTestAddress(0xDD),
		router:   newTestAddress(0xB0),
	}
	h.journal = state.NewJournal(nil)
	h.bank = bank.NewLedger(h.journal)
	h.recorder = &events.Recorder{}
	h.exchanger = &fakeExchanger{assets: h.bank, deliver: new(big.Int)}
	h.gateway = &fakeGateway{addr: newTestAddress(0xC0)}

	for i := 0; i < 3; i++ {
		key, err := poolcrypto.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate signer: %v", err)
		}
		h.keys = append(h.keys, key)
	}
	outsider, err := poolcrypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate outsider: %v", err)
	}
	h.outsider = outsider

	h.engine = NewEngine(h.instance, big.NewInt(1))
	h.engine.SetState(h.journal)
	h.engine.SetAssetLedger(h.bank)
	h.engine.SetRouters(RouterTable{h.router: h.exchanger})
	h.engine.SetGateway(h.gateway)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetNowFunc(func() int64 { return h.now })

	signers := make([]common.Address, 0, len(h.keys))
	for _, k := range h.keys {
		signers = append(signers, k.Address())
	}
	if err := h.engine.Initialize(Genesis{
		Owner:            h.owner,
		Signers:          signers,
		Whitelist:        []common.Address{h.relayer},
		MultiChainAssets: []common.Address{h.usdt},
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.mint(t, h.user, NativeAsset, new(big.Int).Mul(ether, big.NewInt(10)))
	h.mint(t, h.router, h.token, new(big.Int).Mul(ether, big.NewInt(1_000_000)))
	return h
}

func (h *harness) mint(t *testing.T, holder, asset common.Address, amount *big.Int) {
	t.Helper()
	if err := h.bank.Mint(holder, asset, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (h *harness) custody(t *testing.T, holder, asset common.Address) *big.Int {
	t.Helper()
	bal, err := h.bank.BalanceOf(holder, asset)
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	return bal
}

func (h *harness) expire() *big.Int { return big.NewInt(h.now + 300) }

func (h *harness) sign(t *testing.T, req AuthRequest, expire, id *big.Int, keys ...*poolcrypto.PrivateKey) Order {
	t.Helper()
	digest, err := req.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	order := Order{ExpireTime: expire, OrderID: id}
	for _, key := range keys {
		sig, err := poolcrypto.SignPersonal(key, digest)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		order.Signers = append(order.Signers, key.Address())
		order.Signatures = append(order.Signatures, sig)
	}
	return order
}

func (h *harness) depositNative(t *testing.T, amount *big.Int) {
	t.Helper()
	if _, err := h.engine.DepositToPool(h.ctx, h.user, NativeAsset, new(big.Int), amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// fundUser moves deposited pool liquidity into the user's custody balance the
// way off-chain reconciliation does.
func (h *harness) fundUser(t *testing.T, asset common.Address, amount *big.Int) {
	t.Helper()
	pool, err := h.engine.PoolBalance(asset)
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if err := h.engine.SetPoolBalances(h.owner, []common.Address{asset}, []*big.Int{new(big.Int).Sub(pool, amount)}); err != nil {
		t.Fatalf("set pool balances: %v", err)
	}
	if err := h.engine.SetUserBalances(h.relayer, []common.Address{h.user}, []common.Address{asset}, []*big.Int{amount}); err != nil {
		t.Fatalf("set user balances: %v", err)
	}
}

func (h *harness) events() []*types.Event {
	out := make([]*types.Event, 0, len(h.recorder.Events))
	for _, evt := range h.recorder.Events {
		if pe, ok := evt.(poolEvent); ok {
			out = append(out, pe.Event())
		}
	}
	return out
}

func (h *harness) lastEvent(t *testing.T) *types.Event {
	t.Helper()
	evts := h.events()
	if len(evts) == 0 {
		t.Fatalf("no events emitted")
	}
	return evts[len(evts)-1]
}

func (h *harness) requireSolvent(t *testing.T) {
	t.Helper()
	reports, err := h.engine.SolvencyAll()
	if err != nil {
		t.Fatalf("solvency: %v", err)
	}
	for _, r := range reports {
		if !r.Solvent() {
			t.Fatalf("asset %s insolvent: custodied %s, liabilities %s", r.Asset.Hex(), r.Custodied, r.Liabilities())
		}
	}
}

func requireBalance(t *testing.T, label string, got *big.Int, err error, want *big.Int) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", label, err)
	}
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Initialize(Genesis{Owner: h.owner, Signers: []common.Address{h.owner}})
	if !errors.Is(err, errInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	if !h.engine.Initialized() {
		t.Fatalf("expected engine to report initialized")
	}
	owner, err := h.engine.Owner()
	if err != nil || owner != h.owner {
		t.Fatalf("unexpected owner %s err %v", owner.Hex(), err)
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine(newTestAddress(0xF0), big.NewInt(1))
	if _, err := engine.PoolBalance(NativeAsset); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil state error, got %v", err)
	}
	engine.SetState(state.NewJournal(nil))
	if _, err := engine.PoolBalance(NativeAsset); !errors.Is(err, errNilAssets) {
		t.Fatalf("expected nil asset ledger error, got %v", err)
	}
}

func TestDepositNativeUsesAttachedValue(t *testing.T) {
	h := newHarness(t)
	credited, err := h.engine.DepositToPool(h.ctx, h.user, NativeAsset, big.NewInt(5), ether)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if credited.Cmp(ether) != 0 {
		t.Fatalf("expected attached value to be credited, got %s", credited)
	}
	pool, err := h.engine.PoolBalance(NativeAsset)
	requireBalance(t, "pool", pool, err, ether)
	userBal, err := h.engine.UserBalance(h.user, NativeAsset)
	requireBalance(t, "user", userBal, err, new(big.Int))
	requireBalance(t, "custody", h.custody(t, h.instance, NativeAsset), nil, ether)

	evt := h.lastEvent(t)
	if evt.Type != EventTypeDepositToPool || evt.Attr("user") != h.user.Hex() || evt.Attr("amount") != ether.String() {
		t.Fatalf("unexpected deposit event %+v", evt)
	}
	h.requireSolvent(t)
}

func TestDepositTokenRejectsAttachedValue(t *testing.T) {
	h := newHarness(t)
	h.mint(t, h.user, h.token, big.NewInt(1_000))
	if _, err := h.engine.DepositToPool(h.ctx, h.user, h.token, big.NewInt(100), big.NewInt(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := h.engine.DepositToPool(h.ctx, h.user, h.token, big.NewInt(5_000), nil); !errors.Is(err, ErrExternalCallFailed) {
		t.Fatalf("expected failed transfer for unfunded deposit, got %v", err)
	}
	if _, err := h.engine.DepositToPool(h.ctx, h.user, h.token, big.NewInt(100), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pool, err := h.engine.PoolBalance(h.token)
	requireBalance(t, "pool", pool, err, big.NewInt(100))
	requireBalance(t, "depositor", h.custody(t, h.user, h.token), nil, big.NewInt(900))
}

func TestSetUserBalancesWhitelistGating(t *testing.T) {
	h := newHarness(t)
	other := newTestAddress(0x09)
	if err := h.engine.SetUserBalances(h.relayer, []common.Address{other}, []common.Address{h.token}, []*big.Int{big.NewInt(77)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := h.engine.SetUserBalances(h.stranger, []common.Address{h.user}, []common.Address{h.token}, []*big.Int{big.NewInt(5)})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}

	err = h.engine.SetUserBalances(h.relayer, []common.Address{h.user}, []common.Address{h.token, NativeAsset}, []*big.Int{big.NewInt(5)})
	if !errors.Is(err, ErrArgumentMismatch) {
		t.Fatalf("expected argument mismatch, got %v", err)
	}

	if err := h.engine.SetUserBalances(h.relayer, []common.Address{h.user}, []common.Address{h.token}, []*big.Int{big.NewInt(5)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.engine.SetUserBalances(h.relayer, []common.Address{h.user}, []common.Address{h.token}, []*big.Int{big.NewInt(3)}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := h.engine.UserBalance(h.user, h.token)
	requireBalance(t, "overwritten", got, err, big.NewInt(3))
	untouched, err := h.engine.UserBalance(other, h.token)
	requireBalance(t, "untouched", untouched, err, big.NewInt(77))
	native, err := h.engine.UserBalance(h.user, NativeAsset)
	requireBalance(t, "other asset", native, err, new(big.Int))

	users, err := h.engine.Users(h.token)
	if err != nil || len(users) != 2 {
		t.Fatalf("expected two indexed users, got %v err %v", users, err)
	}
}

func TestSetPoolBalancesOwnerOnly(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.SetPoolBalances(h.relayer, []common.Address{h.token}, []*big.Int{big.NewInt(1)}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if err := h.engine.SetPoolBalances(h.owner, []common.Address{h.token}, nil); !errors.Is(err, ErrArgumentMismatch) {
		t.Fatalf("expected argument mismatch, got %v", err)
	}
	if err := h.engine.SetPoolBalances(h.owner, []common.Address{h.token}, []*big.Int{big.NewInt(-1)}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := h.engine.SetPoolBalances(h.owner, []common.Address{h.token}, []*big.Int{big.NewInt(42)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := h.engine.PoolBalance(h.token)
	requireBalance(t, "pool", got, err, big.NewInt(42))
}

func TestMultiChainAssetRoundTrip(t *testing.T) {
	h := newHarness(t)
	flag, err := h.engine.IsMultiChainAsset(h.usdt)
	if err != nil || !flag {
		t.Fatalf("expected genesis multi-chain asset, got %v err %v", flag, err)
	}
	if err := h.engine.SetMultiChainAsset(h.stranger, h.token, true); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if err := h.engine.SetMultiChainAsset(h.owner, h.token, true); err != nil {
		t.Fatalf("set true: %v", err)
	}
	if flag, _ := h.engine.IsMultiChainAsset(h.token); !flag {
		t.Fatalf("expected flag to be set")
	}
	evt := h.lastEvent(t)
	if evt.Type != EventTypeMultiChainAssetUpdated || evt.Attr("asset") != h.token.Hex() || evt.Attr("flag") != "true" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if err := h.engine.SetMultiChainAsset(h.owner, h.token, false); err != nil {
		t.Fatalf("set false: %v", err)
	}
	if flag, _ := h.engine.IsMultiChainAsset(h.token); flag {
		t.Fatalf("expected flag to be cleared")
	}
	if evt := h.lastEvent(t); evt.Attr("flag") != "false" {
		t.Fatalf("expected false flag event, got %+v", evt)
	}
}

func TestWhitelistIsIdempotent(t *testing.T) {
	h := newHarness(t)
	before := len(h.events())
	if err := h.engine.AddToWhitelist(h.owner, h.relayer); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if err := h.engine.RemoveFromWhitelist(h.owner, h.stranger); err != nil {
		t.Fatalf("remove non-member: %v", err)
	}
	if len(h.events()) != before {
		t.Fatalf("no-op whitelist changes must not emit events")
	}
	if err := h.engine.AddToWhitelist(h.relayer, h.stranger); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if err := h.engine.AddToWhitelist(h.owner, h.stranger); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ok, _ := h.engine.IsWhitelisted(h.stranger); !ok {
		t.Fatalf("expected stranger to be whitelisted")
	}
	if err := h.engine.RemoveFromWhitelist(h.owner, h.stranger); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := h.engine.IsWhitelisted(h.stranger); ok {
		t.Fatalf("expected stranger to be removed")
	}
}

func TestUpdateSignersReplacesSet(t *testing.T) {
	h := newHarness(t)
	replacement := []common.Address{h.outsider.Address(), h.keys[0].Address(), h.outsider.Address()}
	if err := h.engine.UpdateSigners(h.relayer, replacement); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if err := h.engine.UpdateSigners(h.owner, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty set, got %v", err)
	}
	if err := h.engine.UpdateSigners(h.owner, replacement); err != nil {
		t.Fatalf("update: %v", err)
	}
	signers, err := h.engine.Signers()
	if err != nil {
		t.Fatalf("signers: %v", err)
	}
	if len(signers) != 2 || signers[0] != h.outsider.Address() || signers[1] != h.keys[0].Address() {
		t.Fatalf("unexpected signer set %v", signers)
	}
	if ok, _ := h.engine.IsSigner(h.keys[1].Address()); ok {
		t.Fatalf("replaced signer must not remain a member")
	}
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.TransferOwnership(h.owner, common.Address{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := h.engine.TransferOwnership(h.owner, h.stranger); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := h.engine.SetMultiChainAsset(h.owner, h.token, true); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("previous owner must lose rights, got %v", err)
	}
	if err := h.engine.SetMultiChainAsset(h.stranger, h.token, true); err != nil {
		t.Fatalf("new owner: %v", err)
	}
}

func TestKindName(t *testing.T) {
	cases := map[string]error{
		"ok":                   nil,
		"access_denied":        ErrAccessDenied,
		"authorization_failed": ErrOrderReused,
		"slippage_not_met":     ErrSlippageNotMet,
		"internal":             errors.New("boom"),
	}
	for want, err := range cases {
		if got := KindName(err); got != want {
			t.Fatalf("KindName(%v) = %s, want %s", err, got, want)
		}
	}
	if !errors.Is(ErrExpired, ErrAuthorizationFailed) {
		t.Fatalf("expiry must be an authorization failure")
	}
}
