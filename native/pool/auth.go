package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	poolcrypto "omnipool/crypto"
)

// Authorization domains. Each domain is a disjoint order namespace.
const (
	DomainPool       = "POOL"
	DomainFee        = "FEE"
	DomainEther      = "ETHER"
	DomainERC20      = "ERC20"
	DomainSwapPool   = "SWAP_POOL"
	DomainSwapUser   = "SWAP_USER"
	DomainOmni       = "OMNI"
	DomainUser       = "USER"
	DomainSwapBridge = "SWAP_BRIDGE"
)

type fieldKind uint8

const (
	fieldAddress fieldKind = iota + 1
	fieldUint256
	fieldBytes32
)

// Field is one ABI-typed value in a packed authorization message.
type Field struct {
	kind fieldKind
	addr common.Address
	num  *big.Int
	raw  [32]byte
}

// AddressField packs as 20 raw bytes.
func AddressField(addr common.Address) Field { return Field{kind: fieldAddress, addr: addr} }

// Uint256Field packs as a 32-byte big-endian word.
func Uint256Field(v *big.Int) Field { return Field{kind: fieldUint256, num: v} }

// Bytes32Field packs as 32 raw bytes.
func Bytes32Field(v [32]byte) Field { return Field{kind: fieldBytes32, raw: v} }

// AuthRequest is the canonical message co-signers approve: a domain tag
// followed by ordered fields, packed like abi.encodePacked.
type AuthRequest struct {
	Domain string
	Fields []Field
}

// Packed returns domain ∥ fields with every field at its fixed width.
func (r AuthRequest) Packed() ([]byte, error) {
	out := make([]byte, 0, len(r.Domain)+32*len(r.Fields))
	out = append(out, r.Domain...)
	for i, f := range r.Fields {
		switch f.kind {
		case fieldAddress:
			out = append(out, f.addr.Bytes()...)
		case fieldUint256:
			word, err := uint256Word(f.num)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			out = append(out, word[:]...)
		case fieldBytes32:
			out = append(out, f.raw[:]...)
		default:
			return nil, fmt.Errorf("%w: field %d has no type", ErrInvalidArgument, i)
		}
	}
	return out, nil
}

// Digest returns keccak256 of the packed message.
func (r AuthRequest) Digest() (common.Hash, error) {
	packed, err := r.Packed()
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(packed), nil
}

func uint256Word(v *big.Int) ([32]byte, error) {
	if v == nil {
		return [32]byte{}, fmt.Errorf("%w: uint256 value required", ErrInvalidArgument)
	}
	if v.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("%w: uint256 value must not be negative", ErrInvalidArgument)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, fmt.Errorf("%w: value exceeds 256 bits", ErrInvalidArgument)
	}
	return u.Bytes32(), nil
}

// WithdrawRequest builds the POOL or FEE message:
// (domain, recipient, amount, asset, expireTime, orderId, contract).
func WithdrawRequest(domain string, recipient common.Address, amount *big.Int, asset common.Address, expireTime, orderID *big.Int, contract common.Address) AuthRequest {
	return AuthRequest{Domain: domain, Fields: []Field{
		AddressField(recipient),
		Uint256Field(amount),
		AddressField(asset),
		Uint256Field(expireTime),
		Uint256Field(orderID),
		AddressField(contract),
	}}
}

// EtherRequest builds the ETHER emergency message:
// (ETHER, recipient, amount, expireTime, orderId, contract, chainId).
func EtherRequest(recipient common.Address, amount, expireTime, orderID *big.Int, contract common.Address, chainID *big.Int) AuthRequest {
	return AuthRequest{Domain: DomainEther, Fields: []Field{
		AddressField(recipient),
		Uint256Field(amount),
		Uint256Field(expireTime),
		Uint256Field(orderID),
		AddressField(contract),
		Uint256Field(chainID),
	}}
}

// ERC20Request builds the ERC20 emergency message:
// (ERC20, recipient, amount, asset, expireTime, orderId, contract, chainId).
func ERC20Request(recipient common.Address, amount *big.Int, asset common.Address, expireTime, orderID *big.Int, contract common.Address, chainID *big.Int) AuthRequest {
	return AuthRequest{Domain: DomainERC20, Fields: []Field{
		AddressField(recipient),
		Uint256Field(amount),
		AddressField(asset),
		Uint256Field(expireTime),
		Uint256Field(orderID),
		AddressField(contract),
		Uint256Field(chainID),
	}}
}

// SwapRequest builds the SWAP_POOL or SWAP_USER message:
// (domain, recipient, amount, srcAsset, fee, expireTime, orderId, contract).
func SwapRequest(domain string, recipient common.Address, amount *big.Int, srcAsset common.Address, fee, expireTime, orderID *big.Int, contract common.Address) AuthRequest {
	return AuthRequest{Domain: domain, Fields: []Field{
		AddressField(recipient),
		Uint256Field(amount),
		AddressField(srcAsset),
		Uint256Field(fee),
		Uint256Field(expireTime),
		Uint256Field(orderID),
		AddressField(contract),
	}}
}

// OmniRequest builds the OMNI or SWAP_BRIDGE message:
// (domain, user, amount, asset, destRef, fee, expireTime, orderId, contract).
func OmniRequest(domain string, user common.Address, amount *big.Int, asset common.Address, destRef [32]byte, fee, expireTime, orderID *big.Int, contract common.Address) AuthRequest {
	return AuthRequest{Domain: domain, Fields: []Field{
		AddressField(user),
		Uint256Field(amount),
		AddressField(asset),
		Bytes32Field(destRef),
		Uint256Field(fee),
		Uint256Field(expireTime),
		Uint256Field(orderID),
		AddressField(contract),
	}}
}

// UserWithdrawRequest builds the USER message:
// (USER, recipient, amount, asset, fee, expireTime, orderId, contract).
func UserWithdrawRequest(recipient common.Address, amount *big.Int, asset common.Address, fee, expireTime, orderID *big.Int, contract common.Address) AuthRequest {
	return AuthRequest{Domain: DomainUser, Fields: []Field{
		AddressField(recipient),
		Uint256Field(amount),
		AddressField(asset),
		Uint256Field(fee),
		Uint256Field(expireTime),
		Uint256Field(orderID),
		AddressField(contract),
	}}
}

// OrderConsumed reports whether (domain, orderID) has already authorized an
// operation.
func (e *Engine) OrderConsumed(domain string, orderID *big.Int) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	word, err := uint256Word(orderID)
	if err != nil {
		return false, err
	}
	var used bool
	if _, err := e.state.KVGet(orderKey(domain, word), &used); err != nil {
		return false, err
	}
	return used, nil
}

// authorize runs the full check for a gated operation and consumes the order.
// Without signatures the caller must be trusted; supplied signatures are
// always verified. Multisig-only paths pass trusted=false.
func (e *Engine) authorize(req AuthRequest, order *Order, trusted bool) error {
	if order == nil {
		return fmt.Errorf("%w: order required", ErrInvalidArgument)
	}
	if len(order.Signers) != len(order.Signatures) {
		return fmt.Errorf("%w: %d signers for %d signatures", ErrArgumentMismatch, len(order.Signers), len(order.Signatures))
	}
	if order.ExpireTime == nil || order.OrderID == nil {
		return fmt.Errorf("%w: expire time and order id required", ErrInvalidArgument)
	}
	if e.now().Cmp(order.ExpireTime) >= 0 {
		return fmt.Errorf("%w: expired at %s", ErrExpired, order.ExpireTime)
	}
	word, err := uint256Word(order.OrderID)
	if err != nil {
		return err
	}
	key := orderKey(req.Domain, word)
	var used bool
	if _, err := e.state.KVGet(key, &used); err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s order %s", ErrOrderReused, req.Domain, order.OrderID)
	}
	if order.Signed() || !trusted {
		digest, err := req.Digest()
		if err != nil {
			return err
		}
		if err := e.verifyQuorum(digest, order.Signers, order.Signatures); err != nil {
			return err
		}
	}
	return e.state.KVPut(key, true)
}

// verifyQuorum requires every signature to recover to its stated signer, every
// signer to be a current member, and at least SignatureThreshold distinct
// members overall.
func (e *Engine) verifyQuorum(digest common.Hash, signers []common.Address, signatures [][]byte) error {
	members, err := e.Signers()
	if err != nil {
		return err
	}
	current := make(map[common.Address]struct{}, len(members))
	for _, m := range members {
		current[m] = struct{}{}
	}
	distinct := make(map[common.Address]struct{}, len(signers))
	for i, claimed := range signers {
		recovered, err := poolcrypto.RecoverPersonal(digest, signatures[i])
		if err != nil {
			return fmt.Errorf("%w: signature %d: %v", ErrUnauthorizedSigner, i, err)
		}
		if recovered != claimed {
			return fmt.Errorf("%w: signature %d recovers to %s, not %s", ErrUnauthorizedSigner, i, recovered.Hex(), claimed.Hex())
		}
		if _, ok := current[recovered]; !ok {
			return fmt.Errorf("%w: %s is not a signer", ErrUnauthorizedSigner, recovered.Hex())
		}
		distinct[recovered] = struct{}{}
	}
	if len(distinct) < SignatureThreshold {
		return fmt.Errorf("%w: %d of %d", ErrInsufficientSignatures, len(distinct), SignatureThreshold)
	}
	return nil
}

// relayAuthorize gates the relayable variants. A nil order selects the
// unguarded variant, open to whitelisted callers only. Every other caller,
// including the account holder, must present a quorum.
func (e *Engine) relayAuthorize(caller common.Address, req AuthRequest, order *Order) error {
	trusted, err := e.IsWhitelisted(caller)
	if err != nil {
		return err
	}
	if order == nil {
		if !trusted {
			return fmt.Errorf("%w: %s is not a trusted caller", ErrAccessDenied, caller.Hex())
		}
		return nil
	}
	if !trusted && !order.Signed() {
		return fmt.Errorf("%w: %s must present co-signatures", ErrAccessDenied, caller.Hex())
	}
	return e.authorize(req, order, trusted)
}
