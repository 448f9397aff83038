package pool

import (
	"github.com/ethereum/go-ethereum/common"
)

var (
	ownerKey          = []byte("pool/owner")
	initializedKey    = []byte("pool/initialized")
	signersKey        = []byte("pool/signers")
	whitelistKey      = []byte("pool/whitelist")
	assetIndexKey     = []byte("pool/index/assets")
	multiChainPrefix  = []byte("pool/multichain/")
	poolBalancePrefix = []byte("pool/balance/pool/")
	userBalancePrefix = []byte("pool/balance/user/")
	feeBalancePrefix  = []byte("pool/balance/fee/")
	userIndexPrefix   = []byte("pool/index/users/")
	orderPrefix       = []byte("pool/order/")
)

func withAddress(prefix []byte, addrs ...common.Address) []byte {
	key := make([]byte, 0, len(prefix)+len(addrs)*common.AddressLength)
	key = append(key, prefix...)
	for _, addr := range addrs {
		key = append(key, addr.Bytes()...)
	}
	return key
}

func balanceKey(class Class, holder, asset common.Address) []byte {
	switch class {
	case ClassPool:
		return withAddress(poolBalancePrefix, asset)
	case ClassUser:
		return withAddress(userBalancePrefix, holder, asset)
	default:
		return withAddress(feeBalancePrefix, asset)
	}
}

func multiChainKey(asset common.Address) []byte {
	return withAddress(multiChainPrefix, asset)
}

func userIndexKey(asset common.Address) []byte {
	return withAddress(userIndexPrefix, asset)
}

// orderKey namespaces order identifiers by domain so the same id can be used
// once per domain.
func orderKey(domain string, orderID [32]byte) []byte {
	key := make([]byte, 0, len(orderPrefix)+len(domain)+1+len(orderID))
	key = append(key, orderPrefix...)
	key = append(key, domain...)
	key = append(key, '/')
	key = append(key, orderID[:]...)
	return key
}
