package oneinch

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// routerABI covers the AggregationRouterV5 swap entry point.
const routerABI = `[{"type":"function","name":"swap","stateMutability":"payable","inputs":[
 {"name":"executor","type":"address"},
 {"name":"desc","type":"tuple","components":[
  {"name":"srcToken","type":"address"},
  {"name":"dstToken","type":"address"},
  {"name":"srcReceiver","type":"address"},
  {"name":"dstReceiver","type":"address"},
  {"name":"amount","type":"uint256"},
  {"name":"minReturnAmount","type":"uint256"},
  {"name":"flags","type":"uint256"}]},
 {"name":"data","type":"bytes"}],
 "outputs":[{"name":"returnAmount","type":"uint256"},{"name":"spentAmount","type":"uint256"}]}]`

// NativeMarker is the router's placeholder for the native currency.
var NativeMarker = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var (
	ErrUnknownSelector = errors.New("oneinch: unknown function selector")
	ErrShortCallData   = errors.New("oneinch: call data too short")

	parsedABI = mustParseABI()
)

// SwapDescription mirrors the router's desc tuple.
type SwapDescription struct {
	SrcToken        common.Address
	DstToken        common.Address
	SrcReceiver     common.Address
	DstReceiver     common.Address
	Amount          *big.Int
	MinReturnAmount *big.Int
	Flags           *big.Int
}

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		panic(fmt.Sprintf("oneinch: parse router abi: %v", err))
	}
	return parsed
}

// SwapSelector returns the 4-byte selector of swap(address,(...),bytes).
func SwapSelector() []byte {
	return append([]byte(nil), parsedABI.Methods["swap"].ID...)
}

// EncodeSwap builds router call data.
func EncodeSwap(executor common.Address, desc SwapDescription, data []byte) ([]byte, error) {
	if desc.Flags == nil {
		desc.Flags = new(big.Int)
	}
	if desc.MinReturnAmount == nil {
		desc.MinReturnAmount = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}
	return parsedABI.Pack("swap", executor, desc, data)
}

// DecodeSwap parses router call data into its executor, description and
// opaque executor payload.
func DecodeSwap(callData []byte) (common.Address, SwapDescription, []byte, error) {
	if len(callData) < 4 {
		return common.Address{}, SwapDescription{}, nil, ErrShortCallData
	}
	method := parsedABI.Methods["swap"]
	if !bytes.Equal(callData[:4], method.ID) {
		return common.Address{}, SwapDescription{}, nil, fmt.Errorf("%w: %x", ErrUnknownSelector, callData[:4])
	}
	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return common.Address{}, SwapDescription{}, nil, fmt.Errorf("oneinch: unpack swap: %w", err)
	}
	if len(values) != 3 {
		return common.Address{}, SwapDescription{}, nil, fmt.Errorf("oneinch: expected 3 swap arguments, got %d", len(values))
	}
	executor, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, SwapDescription{}, nil, errors.New("oneinch: executor is not an address")
	}
	desc, ok := abi.ConvertType(values[1], new(SwapDescription)).(*SwapDescription)
	if !ok || desc == nil {
		return common.Address{}, SwapDescription{}, nil, errors.New("oneinch: malformed swap description")
	}
	payload, ok := values[2].([]byte)
	if !ok {
		return common.Address{}, SwapDescription{}, nil, errors.New("oneinch: executor data is not bytes")
	}
	return executor, *desc, payload, nil
}

// NormalizeAsset maps the router's native marker to the zero address.
func NormalizeAsset(asset common.Address) common.Address {
	if asset == NativeMarker {
		return common.Address{}
	}
	return asset
}
