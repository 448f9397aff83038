package pool

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Owner returns the owning authority.
func (e *Engine) Owner() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	var owner common.Address
	ok, err := e.state.KVGet(ownerKey, &owner)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, errUninitialized
	}
	return owner, nil
}

func (e *Engine) requireOwner(caller common.Address) error {
	owner, err := e.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s is not the owner", ErrAccessDenied, caller.Hex())
	}
	return nil
}

func (e *Engine) requireWhitelisted(caller common.Address) error {
	ok, err := e.IsWhitelisted(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not whitelisted", ErrAccessDenied, caller.Hex())
	}
	return nil
}

// TransferOwnership hands the owner role to a new address. Owner only.
func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if newOwner == (common.Address{}) {
			return fmt.Errorf("%w: owner must not be the zero address", ErrInvalidArgument)
		}
		if err := e.state.KVPut(ownerKey, newOwner); err != nil {
			return err
		}
		e.emit(NewOwnershipTransferredEvent(caller, newOwner))
		return nil
	})
}

// Signers returns the current signer set in configuration order.
func (e *Engine) Signers() ([]common.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var signers []common.Address
	if err := e.state.KVGetList(signersKey, &signers); err != nil {
		return nil, err
	}
	return signers, nil
}

// IsSigner reports whether addr belongs to the signer set.
func (e *Engine) IsSigner(addr common.Address) (bool, error) {
	signers, err := e.Signers()
	if err != nil {
		return false, err
	}
	for _, s := range signers {
		if s == addr {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) writeSigners(signers []common.Address) error {
	if len(signers) == 0 {
		return fmt.Errorf("%w: signer set must not be empty", ErrInvalidArgument)
	}
	seen := make(map[common.Address]struct{}, len(signers))
	ordered := make([]common.Address, 0, len(signers))
	for _, s := range signers {
		if s == (common.Address{}) {
			return fmt.Errorf("%w: signer must not be the zero address", ErrInvalidArgument)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		ordered = append(ordered, s)
	}
	return e.state.KVPut(signersKey, ordered)
}

// UpdateSigners replaces the signer set wholesale. Owner only.
func (e *Engine) UpdateSigners(caller common.Address, signers []common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if err := e.writeSigners(signers); err != nil {
			return err
		}
		current, err := e.Signers()
		if err != nil {
			return err
		}
		e.emit(NewSignersUpdatedEvent(current))
		return nil
	})
}

func (e *Engine) whitelist() ([]common.Address, error) {
	var members []common.Address
	if err := e.state.KVGetList(whitelistKey, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Whitelist returns the trusted callers sorted by address.
func (e *Engine) Whitelist() ([]common.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.whitelist()
}

// IsWhitelisted reports whether addr is a trusted caller.
func (e *Engine) IsWhitelisted(addr common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	members, err := e.whitelist()
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == addr {
			return true, nil
		}
	}
	return false, nil
}

// setWhitelisted adds or removes addr and reports whether membership changed.
func (e *Engine) setWhitelisted(addr common.Address, member bool) (bool, error) {
	if addr == (common.Address{}) {
		return false, fmt.Errorf("%w: whitelist address must not be zero", ErrInvalidArgument)
	}
	members, err := e.whitelist()
	if err != nil {
		return false, err
	}
	idx := -1
	for i, m := range members {
		if m == addr {
			idx = i
			break
		}
	}
	switch {
	case member && idx >= 0, !member && idx < 0:
		return false, nil
	case member:
		members = append(members, addr)
		sort.Slice(members, func(i, j int) bool { return bytes.Compare(members[i][:], members[j][:]) < 0 })
	default:
		members = append(members[:idx], members[idx+1:]...)
	}
	return true, e.state.KVPut(whitelistKey, members)
}

// AddToWhitelist grants trusted-caller rights. Adding an existing member is a
// no-op. Owner only.
func (e *Engine) AddToWhitelist(caller, addr common.Address) error {
	return e.updateWhitelist(caller, addr, true)
}

// RemoveFromWhitelist revokes trusted-caller rights. Removing a non-member is
// a no-op. Owner only.
func (e *Engine) RemoveFromWhitelist(caller, addr common.Address) error {
	return e.updateWhitelist(caller, addr, false)
}

func (e *Engine) updateWhitelist(caller, addr common.Address, member bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		changed, err := e.setWhitelisted(addr, member)
		if err != nil {
			return err
		}
		if changed {
			e.emit(NewWhitelistUpdatedEvent(addr, member))
		}
		return nil
	})
}

// IsMultiChainAsset reports whether asset is tracked identically across
// networks.
func (e *Engine) IsMultiChainAsset(asset common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	var flag bool
	if _, err := e.state.KVGet(multiChainKey(asset), &flag); err != nil {
		return false, err
	}
	return flag, nil
}

// SetMultiChainAsset flags or unflags asset. Owner only.
func (e *Engine) SetMultiChainAsset(caller, asset common.Address, flag bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.atomic(func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if err := e.state.KVPut(multiChainKey(asset), flag); err != nil {
			return err
		}
		if err := e.trackAsset(asset); err != nil {
			return err
		}
		e.emit(NewMultiChainAssetUpdatedEvent(asset, flag))
		return nil
	})
}
