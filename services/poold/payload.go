package poold

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/pool"
)

// AssetResolver turns request asset references into addresses and back.
// config.Config satisfies it with symbol support.
type AssetResolver interface {
	ResolveAsset(ref string) (common.Address, error)
	AssetLabel(asset common.Address) string
}

// HexAssetResolver accepts hex addresses and "NATIVE" only.
type HexAssetResolver struct{}

// ResolveAsset implements AssetResolver.
func (HexAssetResolver) ResolveAsset(ref string) (common.Address, error) {
	trimmed := strings.TrimSpace(ref)
	if strings.EqualFold(trimmed, "NATIVE") {
		return pool.NativeAsset, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", ref)
	}
	return common.HexToAddress(trimmed), nil
}

// AssetLabel implements AssetResolver.
func (HexAssetResolver) AssetLabel(asset common.Address) string {
	if asset == pool.NativeAsset {
		return "NATIVE"
	}
	return asset.Hex()
}

type orderPayload struct {
	ExpireTime string   `json:"expireTime"`
	OrderID    string   `json:"orderId"`
	Signers    []string `json:"signers,omitempty"`
	Signatures []string `json:"signatures,omitempty"`
}

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Value  string `json:"value"`
}

type swapRequest struct {
	SrcAsset  string        `json:"srcAsset"`
	Amount    string        `json:"amount"`
	Router    string        `json:"router"`
	CallData  string        `json:"callData"`
	Recipient string        `json:"recipient"`
	Fee       string        `json:"fee"`
	Order     *orderPayload `json:"order,omitempty"`
}

type bridgeRequest struct {
	Asset    string        `json:"asset"`
	Amount   string        `json:"amount"`
	DestRef  string        `json:"destRef"`
	User     string        `json:"user"`
	Fee      string        `json:"fee"`
	FromPool bool          `json:"fromPool"`
	Order    *orderPayload `json:"order,omitempty"`
}

type swapAndBridgeRequest struct {
	Swap    swapRequest   `json:"swap"`
	DestRef string        `json:"destRef"`
	Order   *orderPayload `json:"order,omitempty"`
}

type withdrawRequest struct {
	Recipient string       `json:"recipient"`
	Asset     string       `json:"asset"`
	Amount    string       `json:"amount"`
	Fee       string       `json:"fee"`
	Order     orderPayload `json:"order"`
}

type balancesRequest struct {
	Users   []string `json:"users,omitempty"`
	Assets  []string `json:"assets"`
	Amounts []string `json:"amounts"`
}

type multiChainRequest struct {
	Asset string `json:"asset"`
	Flag  bool   `json:"flag"`
}

type signersRequest struct {
	Signers []string `json:"signers"`
}

type whitelistRequest struct {
	Address string `json:"address"`
	Member  bool   `json:"member"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

type reportRequest struct {
	DryRun bool `json:"dryRun"`
}

type swapResponse struct {
	DstAsset string `json:"dstAsset"`
	Received string `json:"received"`
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode request: %v", pool.ErrInvalidArgument, err)
	}
	return nil
}

func invalid(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", pool.ErrInvalidArgument, field, err)
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalid(field, fmt.Errorf("invalid address %q", raw))
	}
	return common.HexToAddress(trimmed), nil
}

func parseOptionalAddress(field, raw string, fallback common.Address) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return parseAddress(field, raw)
}

func parseAddressList(field string, raw []string) ([]common.Address, error) {
	out := make([]common.Address, len(raw))
	for i, v := range raw {
		addr, err := parseAddress(fmt.Sprintf("%s[%d]", field, i), v)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

func (s *Server) resolveAsset(field, raw string) (common.Address, error) {
	addr, err := s.resolver.ResolveAsset(raw)
	if err != nil {
		return common.Address{}, invalid(field, err)
	}
	return addr, nil
}

func (s *Server) resolveAssetList(field string, raw []string) ([]common.Address, error) {
	out := make([]common.Address, len(raw))
	for i, v := range raw {
		addr, err := s.resolveAsset(fmt.Sprintf("%s[%d]", field, i), v)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

// parseAmount reads a base-10 integer. An empty value is zero.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalid(field, fmt.Errorf("invalid integer %q", raw))
	}
	if v.Sign() < 0 {
		return nil, invalid(field, fmt.Errorf("must not be negative"))
	}
	return v, nil
}

func parseAmountList(field string, raw []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(raw))
	for i, v := range raw {
		amount, err := parseAmount(fmt.Sprintf("%s[%d]", field, i), v)
		if err != nil {
			return nil, err
		}
		out[i] = amount
	}
	return out, nil
}

func parseHexBytes(field, raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	out, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, invalid(field, err)
	}
	return out, nil
}

func (p *orderPayload) toOrder() (*pool.Order, error) {
	if p == nil {
		return nil, nil
	}
	expire, err := parseAmount("order.expireTime", p.ExpireTime)
	if err != nil {
		return nil, err
	}
	id, err := parseAmount("order.orderId", p.OrderID)
	if err != nil {
		return nil, err
	}
	signers, err := parseAddressList("order.signers", p.Signers)
	if err != nil {
		return nil, err
	}
	sigs := make([][]byte, len(p.Signatures))
	for i, raw := range p.Signatures {
		if sigs[i], err = parseHexBytes(fmt.Sprintf("order.signatures[%d]", i), raw); err != nil {
			return nil, err
		}
	}
	order := &pool.Order{ExpireTime: expire, OrderID: id}
	if len(signers) > 0 {
		order.Signers = signers
	}
	if len(sigs) > 0 {
		order.Signatures = sigs
	}
	return order, nil
}

func (s *Server) swapParams(req swapRequest, caller common.Address) (pool.SwapParams, error) {
	src, err := s.resolveAsset("srcAsset", req.SrcAsset)
	if err != nil {
		return pool.SwapParams{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return pool.SwapParams{}, err
	}
	router, err := parseAddress("router", req.Router)
	if err != nil {
		return pool.SwapParams{}, err
	}
	callData, err := parseHexBytes("callData", req.CallData)
	if err != nil {
		return pool.SwapParams{}, err
	}
	recipient, err := parseOptionalAddress("recipient", req.Recipient, caller)
	if err != nil {
		return pool.SwapParams{}, err
	}
	fee, err := parseAmount("fee", req.Fee)
	if err != nil {
		return pool.SwapParams{}, err
	}
	return pool.SwapParams{
		SrcAsset:  src,
		Amount:    amount,
		Router:    router,
		CallData:  callData,
		Recipient: recipient,
		Fee:       fee,
	}, nil
}

func (s *Server) bridgeParams(req bridgeRequest, caller common.Address) (pool.BridgeParams, error) {
	asset, err := s.resolveAsset("asset", req.Asset)
	if err != nil {
		return pool.BridgeParams{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return pool.BridgeParams{}, err
	}
	destRef, err := pool.ParseDestinationRef(req.DestRef)
	if err != nil {
		return pool.BridgeParams{}, err
	}
	user, err := parseOptionalAddress("user", req.User, caller)
	if err != nil {
		return pool.BridgeParams{}, err
	}
	fee, err := parseAmount("fee", req.Fee)
	if err != nil {
		return pool.BridgeParams{}, err
	}
	return pool.BridgeParams{
		Asset:    asset,
		Amount:   amount,
		DestRef:  destRef,
		User:     user,
		Fee:      fee,
		FromPool: req.FromPool,
	}, nil
}

func (s *Server) swapResponse(res *pool.SwapResult) swapResponse {
	if res == nil {
		return swapResponse{Received: "0"}
	}
	return swapResponse{DstAsset: res.DstAsset.Hex(), Received: res.Received.String()}
}
