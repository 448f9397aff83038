package pool

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the marker used for the network's native currency.
var NativeAsset = common.Address{}

// SignatureThreshold is the number of distinct co-signers required by every
// multisig-gated operation.
const SignatureThreshold = 2

// Class identifies one of the three balance ledgers.
type Class uint8

const (
	ClassPool Class = iota + 1
	ClassUser
	ClassFee
)

func (c Class) String() string {
	switch c {
	case ClassPool:
		return "pool"
	case ClassUser:
		return "user"
	case ClassFee:
		return "fee"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Valid reports whether the class is one of the recognised ledgers.
func (c Class) Valid() bool {
	return c == ClassPool || c == ClassUser || c == ClassFee
}

// Order carries the one-time authorization attached to a gated call. A
// signature-free order is accepted only from trusted callers.
type Order struct {
	ExpireTime *big.Int
	OrderID    *big.Int
	Signers    []common.Address
	Signatures [][]byte
}

// Signed reports whether the order carries co-signatures.
func (o *Order) Signed() bool {
	return o != nil && (len(o.Signers) > 0 || len(o.Signatures) > 0)
}

// SwapParams describes a swap request as submitted by the caller.
type SwapParams struct {
	SrcAsset common.Address
	Amount   *big.Int
	Router   common.Address
	CallData []byte
	// Recipient is credited with the measured output. For user-funded swaps
	// it is also the account whose balance funds the swap.
	Recipient common.Address
	Fee       *big.Int
}

// SwapResult reports the outcome of a completed swap.
type SwapResult struct {
	DstAsset common.Address
	Received *big.Int
}

// BridgeParams describes an omni transfer to the spot network.
type BridgeParams struct {
	Asset   common.Address
	Amount  *big.Int
	DestRef [32]byte
	// User is the custody account debited for user-funded transfers.
	User     common.Address
	Fee      *big.Int
	FromPool bool
}

// SwapAndBridgeParams describes a user-funded swap whose output is forwarded
// to the settlement gateway in the same operation.
type SwapAndBridgeParams struct {
	Swap    SwapParams
	DestRef [32]byte
}

// SwapInstruction is the decoded form of router call data.
type SwapInstruction struct {
	SrcAsset  common.Address
	DstAsset  common.Address
	Amount    *big.Int
	MinReturn *big.Int
	Receiver  common.Address
}

// ExchangeCall is handed to an Exchanger once the source asset has been
// delivered to the router.
type ExchangeCall struct {
	Router      common.Address
	Payer       common.Address
	Instruction SwapInstruction
	CallData    []byte
}

// Exchanger is the capability exposed by an external swap venue. Its results
// are never trusted; the engine measures the delivered balance itself.
type Exchanger interface {
	Decode(callData []byte) (SwapInstruction, error)
	Exchange(ctx context.Context, call ExchangeCall) error
}

// RouterResolver maps a router address to the adapter that speaks its
// protocol. It returns nil for unknown routers.
type RouterResolver interface {
	Resolve(router common.Address) Exchanger
}

// RouterTable is a static RouterResolver.
type RouterTable map[common.Address]Exchanger

// Resolve implements RouterResolver.
func (t RouterTable) Resolve(router common.Address) Exchanger {
	if t == nil {
		return nil
	}
	return t[router]
}

// SpotDeposit is forwarded to the settlement gateway after the asset has been
// transferred to it.
type SpotDeposit struct {
	From    common.Address
	User    common.Address
	Asset   common.Address
	Amount  *big.Int
	DestRef [32]byte
}

// SettlementGateway forwards custodied funds to another network.
type SettlementGateway interface {
	Address() common.Address
	DepositToSpot(ctx context.Context, deposit SpotDeposit) error
}

// AssetLedger is the real-asset transfer surface. Native and token movements
// share one primitive keyed by asset address.
type AssetLedger interface {
	BalanceOf(holder, asset common.Address) (*big.Int, error)
	Transfer(from, to, asset common.Address, amount *big.Int) error
}

// Genesis seeds the access registry at construction time.
type Genesis struct {
	Owner            common.Address
	Signers          []common.Address
	Whitelist        []common.Address
	MultiChainAssets []common.Address
}

// SolvencyReport compares custodied holdings with the ledger totals for one
// asset.
type SolvencyReport struct {
	Asset     common.Address
	Custodied *big.Int
	Pool      *big.Int
	Users     *big.Int
	Fee       *big.Int
}

// Liabilities returns Pool + Users + Fee.
func (r SolvencyReport) Liabilities() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{r.Pool, r.Users, r.Fee} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// Gap returns Custodied minus liabilities. A negative gap breaks solvency.
func (r SolvencyReport) Gap() *big.Int {
	custodied := new(big.Int)
	if r.Custodied != nil {
		custodied.Set(r.Custodied)
	}
	return custodied.Sub(custodied, r.Liabilities())
}

// Solvent reports whether the custodied amount covers every liability.
func (r SolvencyReport) Solvent() bool {
	return r.Gap().Sign() >= 0
}

// ParseDestinationRef normalises a 32-byte destination reference expressed as
// hex. Shorter values such as a 20-byte address are left-padded with zeros.
func ParseDestinationRef(ref string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return out, fmt.Errorf("%w: destination reference required", ErrInvalidArgument)
	}
	raw, err := decodeHex(trimmed)
	if err != nil {
		return out, fmt.Errorf("%w: decode destination reference: %v", ErrInvalidArgument, err)
	}
	if len(raw) > len(out) {
		return out, fmt.Errorf("%w: destination reference must be at most 32 bytes (got %d)", ErrInvalidArgument, len(raw))
	}
	copy(out[len(out)-len(raw):], raw)
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
