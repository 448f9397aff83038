package poold

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"omnipool/native/pool"
)

func callerOf(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing caller")
	}
	return caller, ok
}

// run executes op through the executor and writes either payload or the
// mapped error.
func (s *Server) run(w http.ResponseWriter, r *http.Request, op string, caller common.Address, fn func(ctx context.Context, engine *pool.Engine) (any, error)) {
	var payload any
	err := s.executor.Do(r.Context(), op, caller, func(ctx context.Context, engine *pool.Engine) error {
		var err error
		payload, err = fn(ctx, engine)
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	asset, err := s.resolveAsset("asset", req.Asset)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	s.run(w, r, "deposit", caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		credited, err := engine.DepositToPool(ctx, caller, asset, amount, value)
		if err != nil {
			return nil, err
		}
		return map[string]string{"asset": asset.Hex(), "credited": credited.String()}, nil
	})
}

func (s *Server) handleSwapFromPool(w http.ResponseWriter, r *http.Request) {
	s.handleSwap(w, r, pool.ClassPool)
}

func (s *Server) handleSwapFromUser(w http.ResponseWriter, r *http.Request) {
	s.handleSwap(w, r, pool.ClassUser)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request, source pool.Class) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req swapRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	params, err := s.swapParams(req, caller)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	op := "swap_from_user"
	if source == pool.ClassPool {
		op = "swap_from_pool"
	}
	s.run(w, r, op, caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		swap := engine.SwapFromUser
		if source == pool.ClassPool {
			swap = engine.SwapFromPool
		}
		res, err := swap(ctx, caller, params, order)
		if err != nil {
			return nil, err
		}
		return s.swapResponse(res), nil
	})
}

func (s *Server) handleOmniTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req bridgeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	params, err := s.bridgeParams(req, caller)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	s.run(w, r, "omni_transfer_to_spot", caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		if err := engine.OmniTransferToSpot(ctx, caller, params, order); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleSwapAndBridge(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req swapAndBridgeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	swap, err := s.swapParams(req.Swap, caller)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	destRef, err := pool.ParseDestinationRef(req.DestRef)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	params := pool.SwapAndBridgeParams{Swap: swap, DestRef: destRef}
	s.run(w, r, "swap_and_bridge", caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		res, err := engine.SwapAndBridge(ctx, caller, params, order)
		if err != nil {
			return nil, err
		}
		return s.swapResponse(res), nil
	})
}

type withdrawArgs struct {
	recipient common.Address
	asset     common.Address
	amount    *big.Int
	fee       *big.Int
	order     pool.Order
}

func (s *Server) decodeWithdraw(w http.ResponseWriter, r *http.Request, caller common.Address, needAsset bool) (withdrawArgs, bool) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return withdrawArgs{}, false
	}
	var args withdrawArgs
	var err error
	if args.recipient, err = parseOptionalAddress("recipient", req.Recipient, caller); err != nil {
		s.writePoolError(w, err)
		return withdrawArgs{}, false
	}
	if needAsset {
		if args.asset, err = s.resolveAsset("asset", req.Asset); err != nil {
			s.writePoolError(w, err)
			return withdrawArgs{}, false
		}
	}
	if args.amount, err = parseAmount("amount", req.Amount); err != nil {
		s.writePoolError(w, err)
		return withdrawArgs{}, false
	}
	if args.fee, err = parseAmount("fee", req.Fee); err != nil {
		s.writePoolError(w, err)
		return withdrawArgs{}, false
	}
	order, err := req.Order.toOrder()
	if err != nil {
		s.writePoolError(w, err)
		return withdrawArgs{}, false
	}
	args.order = *order
	return args, true
}

func (s *Server) handleUserWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	args, ok := s.decodeWithdraw(w, r, caller, true)
	if !ok {
		return
	}
	s.run(w, r, "user_withdraw", caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		if err := engine.UserWithdraw(ctx, caller, args.recipient, args.asset, args.amount, args.fee, args.order); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handlePoolWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMultisigWithdraw(w, r, pool.ClassPool)
}

func (s *Server) handleFeeWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMultisigWithdraw(w, r, pool.ClassFee)
}

func (s *Server) handleMultisigWithdraw(w http.ResponseWriter, r *http.Request, class pool.Class) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	args, ok := s.decodeWithdraw(w, r, caller, true)
	if !ok {
		return
	}
	op := "pool_withdraw"
	if class == pool.ClassFee {
		op = "fee_withdraw"
	}
	s.run(w, r, op, caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		withdraw := engine.PoolWithdraw
		if class == pool.ClassFee {
			withdraw = engine.PoolFeeWithdraw
		}
		if err := withdraw(ctx, caller, args.recipient, args.amount, args.asset, args.order); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleEmergencyNative(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	args, ok := s.decodeWithdraw(w, r, caller, false)
	if !ok {
		return
	}
	s.run(w, r, "emergency_withdraw_native", caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		if err := engine.EmergencyWithdrawETH(ctx, caller, args.recipient, args.amount, args.order); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleEmergencyToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	args, ok := s.decodeWithdraw(w, r, caller, true)
	if !ok {
		return
	}
	s.run(w, r, "emergency_withdraw_token", caller, func(ctx context.Context, engine *pool.Engine) (any, error) {
		if err := engine.EmergencyWithdrawErc20(ctx, caller, args.recipient, args.amount, args.asset, args.order); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleSetPoolBalances(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req balancesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	assets, err := s.resolveAssetList("assets", req.Assets)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	amounts, err := parseAmountList("amounts", req.Amounts)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	s.run(w, r, "set_pool_balances", caller, func(_ context.Context, engine *pool.Engine) (any, error) {
		if err := engine.SetPoolBalances(caller, assets, amounts); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleSetUserBalances(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req balancesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	users, err := parseAddressList("users", req.Users)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	assets, err := s.resolveAssetList("assets", req.Assets)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	amounts, err := parseAmountList("amounts", req.Amounts)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	s.run(w, r, "set_user_balances", caller, func(_ context.Context, engine *pool.Engine) (any, error) {
		if err := engine.SetUserBalances(caller, users, assets, amounts); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleSetMultiChain(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req multiChainRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	asset, err := s.resolveAsset("asset", req.Asset)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	s.run(w, r, "set_multichain_asset", caller, func(_ context.Context, engine *pool.Engine) (any, error) {
		if err := engine.SetMultiChainAsset(caller, asset, req.Flag); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleUpdateSigners(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req signersRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	signers, err := parseAddressList("signers", req.Signers)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	s.run(w, r, "update_signers", caller, func(_ context.Context, engine *pool.Engine) (any, error) {
		if err := engine.UpdateSigners(caller, signers); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req whitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	op := "remove_from_whitelist"
	if req.Member {
		op = "add_to_whitelist"
	}
	s.run(w, r, op, caller, func(_ context.Context, engine *pool.Engine) (any, error) {
		update := engine.RemoveFromWhitelist
		if req.Member {
			update = engine.AddToWhitelist
		}
		if err := update(caller, addr); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req ownerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writePoolError(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	s.run(w, r, "transfer_ownership", caller, func(_ context.Context, engine *pool.Engine) (any, error) {
		if err := engine.TransferOwnership(caller, owner); err != nil {
			return nil, err
		}
		return okResponse, nil
	})
}

func (s *Server) handleSolvencyReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	if s.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "reconciler not configured")
		return
	}
	var req reportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writePoolError(w, err)
			return
		}
	}
	if err := s.requireOwner(caller); err != nil {
		s.writePoolError(w, err)
		return
	}
	report, err := s.reconciler.Run(r.Context(), ReconOptions{DryRun: req.DryRun})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse(report))
}

func (s *Server) requireOwner(caller common.Address) error {
	return s.executor.View(func(engine *pool.Engine) error {
		owner, err := engine.Owner()
		if err != nil {
			return err
		}
		if owner != caller {
			return pool.ErrAccessDenied
		}
		return nil
	})
}

type solvencyEntry struct {
	Asset       string `json:"asset"`
	Symbol      string `json:"symbol"`
	Custodied   string `json:"custodied"`
	Pool        string `json:"pool"`
	Users       string `json:"users"`
	Fee         string `json:"fee"`
	Liabilities string `json:"liabilities"`
	Gap         string `json:"gap"`
	Solvent     bool   `json:"solvent"`
}

func reportResponse(report *Report) map[string]any {
	rows := make([]solvencyEntry, 0, len(report.Rows))
	for _, row := range report.Rows {
		rows = append(rows, solvencyEntry{
			Asset:       row.Asset.Hex(),
			Symbol:      row.Symbol,
			Custodied:   row.Custodied.String(),
			Pool:        row.Pool.String(),
			Users:       row.Users.String(),
			Fee:         row.Fee.String(),
			Liabilities: row.Liabilities.String(),
			Gap:         row.Gap.String(),
			Solvent:     row.Solvent,
		})
	}
	return map[string]any{
		"id":          report.ID.String(),
		"generatedAt": report.GeneratedAt,
		"dryRun":      report.DryRun,
		"rows":        rows,
		"anomalies":   report.Anomalies,
		"files":       report.Files,
		"manifest":    report.Manifest,
	}
}

func (s *Server) handlePoolBalances(w http.ResponseWriter, r *http.Request) {
	asset, err := s.resolveAsset("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	var poolBal, feeBal *big.Int
	err = s.executor.View(func(engine *pool.Engine) error {
		var err error
		if poolBal, err = engine.PoolBalance(asset); err != nil {
			return err
		}
		feeBal, err = engine.FeeBalance(asset)
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":  asset.Hex(),
		"symbol": s.resolver.AssetLabel(asset),
		"pool":   poolBal.String(),
		"fee":    feeBal.String(),
	})
}

func (s *Server) handleUserBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := s.resolveAsset("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	var bal *big.Int
	err = s.executor.View(func(engine *pool.Engine) error {
		var err error
		bal, err = engine.UserBalance(user, asset)
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "user": user.Hex(), "balance": bal.String()})
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "asset ledger not configured")
		return
	}
	holder, err := parseAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	asset, err := s.resolveAsset("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	var bal *big.Int
	err = s.executor.View(func(*pool.Engine) error {
		var err error
		bal, err = s.assets.BalanceOf(holder, asset)
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"holder": holder.Hex(), "asset": asset.Hex(), "balance": bal.String()})
}

func (s *Server) handleSolvency(w http.ResponseWriter, r *http.Request) {
	var reports []pool.SolvencyReport
	err := s.executor.View(func(engine *pool.Engine) error {
		var err error
		reports, err = engine.SolvencyAll()
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	out := make([]solvencyEntry, 0, len(reports))
	for _, rep := range reports {
		out = append(out, solvencyEntry{
			Asset:       rep.Asset.Hex(),
			Symbol:      s.resolver.AssetLabel(rep.Asset),
			Custodied:   cloneAmount(rep.Custodied).String(),
			Pool:        cloneAmount(rep.Pool).String(),
			Users:       cloneAmount(rep.Users).String(),
			Fee:         cloneAmount(rep.Fee).String(),
			Liabilities: rep.Liabilities().String(),
			Gap:         rep.Gap().String(),
			Solvent:     rep.Solvent(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	var (
		owner     common.Address
		signers   []common.Address
		whitelist []common.Address
		instance  common.Address
		chainID   *big.Int
	)
	err := s.executor.View(func(engine *pool.Engine) error {
		var err error
		if owner, err = engine.Owner(); err != nil {
			return err
		}
		if signers, err = engine.Signers(); err != nil {
			return err
		}
		if whitelist, err = engine.Whitelist(); err != nil {
			return err
		}
		instance = engine.Instance()
		chainID = engine.ChainID()
		return nil
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance":  instance.Hex(),
		"chainId":   chainID.String(),
		"owner":     owner.Hex(),
		"signers":   hexList(signers),
		"whitelist": hexList(whitelist),
		"threshold": pool.SignatureThreshold,
	})
}

func (s *Server) handleIsWhitelisted(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, "address", func(engine *pool.Engine, addr common.Address) (bool, error) {
		return engine.IsWhitelisted(addr)
	})
}

func (s *Server) handleIsSigner(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, "address", func(engine *pool.Engine, addr common.Address) (bool, error) {
		return engine.IsSigner(addr)
	})
}

func (s *Server) handleIsMultiChain(w http.ResponseWriter, r *http.Request) {
	asset, err := s.resolveAsset("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	var flag bool
	err = s.executor.View(func(engine *pool.Engine) error {
		var err error
		flag, err = engine.IsMultiChainAsset(asset)
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset.Hex(), "multiChain": flag})
}

func (s *Server) membership(w http.ResponseWriter, r *http.Request, param string, check func(*pool.Engine, common.Address) (bool, error)) {
	addr, err := parseAddress(param, chi.URLParam(r, param))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	var member bool
	err = s.executor.View(func(engine *pool.Engine) error {
		var err error
		member, err = check(engine, addr)
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr.Hex(), "member": member})
}

func (s *Server) handleOrderConsumed(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "domain")))
	id, err := parseAmount("orderId", chi.URLParam(r, "orderId"))
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	var used bool
	err = s.executor.View(func(engine *pool.Engine) error {
		var err error
		used, err = engine.OrderConsumed(domain, id)
		return err
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "orderId": id.String(), "consumed": used})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "indexer not configured")
		return
	}
	q := r.URL.Query()
	filter := RecordFilter{Type: q.Get("type")}
	if account := strings.TrimSpace(q.Get("account")); account != "" {
		addr, err := parseAddress("account", account)
		if err != nil {
			s.writePoolError(w, err)
			return
		}
		filter.Account = addr.Hex()
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "after must be a sequence number")
			return
		}
		filter.After = after
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	records, err := s.indexer.List(r.Context(), filter)
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

type settlementEntry struct {
	Sequence uint64 `json:"sequence"`
	From     string `json:"from"`
	User     string `json:"user"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	DestRef  string `json:"destRef"`
}

func (s *Server) handleSettlementDeposits(w http.ResponseWriter, r *http.Request) {
	if s.settlement == nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "settlement gateway not configured")
		return
	}
	q := r.URL.Query()
	var from uint64
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "from must be a sequence number")
			return
		}
		from = parsed
	}
	limit := uint64(defaultRecordLimit)
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 || parsed > maxRecordLimit {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit out of range")
			return
		}
		limit = parsed
	}
	var (
		total   uint64
		entries []settlementEntry
	)
	err := s.executor.View(func(*pool.Engine) error {
		var err error
		if total, err = s.settlement.Count(); err != nil {
			return err
		}
		for seq := from; seq < total && uint64(len(entries)) < limit; seq++ {
			dep, err := s.settlement.Deposit(seq)
			if err != nil {
				return err
			}
			entries = append(entries, settlementEntry{
				Sequence: dep.Sequence,
				From:     dep.From.Hex(),
				User:     dep.User.Hex(),
				Asset:    dep.Asset.Hex(),
				Amount:   dep.Amount.String(),
				DestRef:  "0x" + hex.EncodeToString(dep.DestRef[:]),
			})
		}
		return nil
	})
	if err != nil {
		s.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "deposits": entries})
}

func hexList(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
