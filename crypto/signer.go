package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] secp256k1 signature.
const SignatureLength = crypto.SignatureLength

var (
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	errNilKey           = errors.New("crypto: nil private key")
)

// PersonalDigest applies the EIP-191 personal-message prefix to a 32-byte
// digest, matching what wallets produce for signMessage(bytes32).
func PersonalDigest(digest common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(digest.Bytes()))
}

// SignPersonal signs digest under the EIP-191 prefix. The recovery id is
// returned in wallet form (27 or 28).
func SignPersonal(key *PrivateKey, digest common.Hash) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errNilKey
	}
	sig, err := crypto.Sign(PersonalDigest(digest).Bytes(), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverPersonal returns the address that produced sig over the EIP-191
// prefixed digest. Signatures with a malleable S value or an unknown recovery
// id are rejected.
func RecoverPersonal(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	v := normalized[crypto.RecoveryIDOffset]
	switch {
	case v == 27 || v == 28:
		v -= 27
	case v == 0 || v == 1:
	default:
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, v)
	}
	normalized[crypto.RecoveryIDOffset] = v
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(PersonalDigest(digest).Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
