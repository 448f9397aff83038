package pool

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/core/types"
)

const (
	EventTypeDepositToPool          = "pool.deposit_to_pool"
	EventTypeSwapFromPool           = "pool.swap_from_pool"
	EventTypeSwapFromUser           = "pool.swap_from_user"
	EventTypeOmniTransferToSpot     = "pool.omni_transfer_to_spot"
	EventTypeUserWithdraw           = "pool.user_withdraw"
	EventTypePoolWithdraw           = "pool.pool_withdraw"
	EventTypePoolFeeWithdraw        = "pool.fee_withdraw"
	EventTypeEmergencyWithdraw      = "pool.emergency_withdraw"
	EventTypeMultiChainAssetUpdated = "pool.multichain_asset_updated"
	EventTypeSignersUpdated         = "pool.signers_updated"
	EventTypeWhitelistUpdated       = "pool.whitelist_updated"
	EventTypeOwnershipTransferred   = "pool.ownership_transferred"
	EventTypePoolBalancesSet        = "pool.pool_balances_set"
	EventTypeUserBalancesSet        = "pool.user_balances_set"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewDepositEvent records DepositToPool(user, asset, amount).
func NewDepositEvent(user, asset common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDepositToPool, Attributes: map[string]string{
		"user":   user.Hex(),
		"asset":  asset.Hex(),
		"amount": amountString(amount),
	}}
}

// NewSwapEvent records SwapFromPool/SwapFromUser(user, srcAsset, amountInclFee,
// dstAsset, received, fee, routerOrOrder).
func NewSwapEvent(source Class, caller common.Address, params SwapParams, res *SwapResult, reference string) *types.Event {
	evtType := EventTypeSwapFromPool
	if source == ClassUser {
		evtType = EventTypeSwapFromUser
	}
	total := new(big.Int).Add(cloneBigInt(params.Amount), cloneBigInt(params.Fee))
	attrs := map[string]string{
		"user":          params.Recipient.Hex(),
		"caller":        caller.Hex(),
		"srcAsset":      params.SrcAsset.Hex(),
		"amountInclFee": total.String(),
		"fee":           amountString(params.Fee),
		"router":        params.Router.Hex(),
		"routerOrOrder": reference,
	}
	if res != nil {
		attrs["dstAsset"] = res.DstAsset.Hex()
		attrs["received"] = amountString(res.Received)
	}
	return &types.Event{Type: evtType, Attributes: attrs}
}

// NewOmniTransferEvent records OmniTransferToSpot(user, asset, amount,
// destinationRef, fee).
func NewOmniTransferEvent(caller common.Address, params BridgeParams) *types.Event {
	return &types.Event{Type: EventTypeOmniTransferToSpot, Attributes: map[string]string{
		"user":     params.User.Hex(),
		"caller":   caller.Hex(),
		"asset":    params.Asset.Hex(),
		"amount":   amountString(params.Amount),
		"destRef":  "0x" + hex.EncodeToString(params.DestRef[:]),
		"fee":      amountString(params.Fee),
		"fromPool": strconv.FormatBool(params.FromPool),
	}}
}

// NewUserWithdrawEvent records UserWithdraw(user, asset, amountInclFee, fee).
func NewUserWithdrawEvent(user, asset common.Address, amountInclFee, fee, orderID *big.Int) *types.Event {
	return &types.Event{Type: EventTypeUserWithdraw, Attributes: map[string]string{
		"user":          user.Hex(),
		"asset":         asset.Hex(),
		"amountInclFee": amountString(amountInclFee),
		"fee":           amountString(fee),
		"orderId":       amountString(orderID),
	}}
}

// NewMultisigWithdrawEvent records a POOL or FEE withdrawal.
func NewMultisigWithdrawEvent(class Class, caller, recipient, asset common.Address, amount, orderID *big.Int) *types.Event {
	evtType := EventTypePoolWithdraw
	if class == ClassFee {
		evtType = EventTypePoolFeeWithdraw
	}
	return &types.Event{Type: evtType, Attributes: map[string]string{
		"caller":    caller.Hex(),
		"recipient": recipient.Hex(),
		"asset":     asset.Hex(),
		"amount":    amountString(amount),
		"orderId":   amountString(orderID),
	}}
}

// NewEmergencyWithdrawEvent records a ledger-bypassing release.
func NewEmergencyWithdrawEvent(caller, recipient, asset common.Address, amount, orderID *big.Int) *types.Event {
	return &types.Event{Type: EventTypeEmergencyWithdraw, Attributes: map[string]string{
		"caller":    caller.Hex(),
		"recipient": recipient.Hex(),
		"asset":     asset.Hex(),
		"amount":    amountString(amount),
		"orderId":   amountString(orderID),
	}}
}

// NewMultiChainAssetUpdatedEvent records MultiChainAssetUpdated(asset, flag).
func NewMultiChainAssetUpdatedEvent(asset common.Address, flag bool) *types.Event {
	return &types.Event{Type: EventTypeMultiChainAssetUpdated, Attributes: map[string]string{
		"asset": asset.Hex(),
		"flag":  strconv.FormatBool(flag),
	}}
}

func NewSignersUpdatedEvent(signers []common.Address) *types.Event {
	return &types.Event{Type: EventTypeSignersUpdated, Attributes: map[string]string{
		"signers": joinAddresses(signers),
	}}
}

func NewWhitelistUpdatedEvent(addr common.Address, member bool) *types.Event {
	return &types.Event{Type: EventTypeWhitelistUpdated, Attributes: map[string]string{
		"address": addr.Hex(),
		"member":  strconv.FormatBool(member),
	}}
}

func NewOwnershipTransferredEvent(previous, owner common.Address) *types.Event {
	return &types.Event{Type: EventTypeOwnershipTransferred, Attributes: map[string]string{
		"previous": previous.Hex(),
		"owner":    owner.Hex(),
	}}
}

func NewPoolBalancesSetEvent(caller common.Address, assets []common.Address, amounts []*big.Int) *types.Event {
	return &types.Event{Type: EventTypePoolBalancesSet, Attributes: map[string]string{
		"caller":  caller.Hex(),
		"assets":  joinAddresses(assets),
		"amounts": joinAmounts(amounts),
	}}
}

func NewUserBalancesSetEvent(caller common.Address, users, assets []common.Address, amounts []*big.Int) *types.Event {
	return &types.Event{Type: EventTypeUserBalancesSet, Attributes: map[string]string{
		"caller":  caller.Hex(),
		"users":   joinAddresses(users),
		"assets":  joinAddresses(assets),
		"amounts": joinAmounts(amounts),
	}}
}

func joinAddresses(addrs []common.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.Hex()
	}
	return strings.Join(parts, ",")
}

func joinAmounts(amounts []*big.Int) string {
	parts := make([]string, len(amounts))
	for i, a := range amounts {
		parts[i] = amountString(a)
	}
	return strings.Join(parts, ",")
}
