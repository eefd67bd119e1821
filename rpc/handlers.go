package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"flashvault/core"
	"flashvault/crypto"
	"flashvault/native/access"
	nativecommon "flashvault/native/common"
	"flashvault/native/flashswap"
	"flashvault/native/token"
	"flashvault/storage/journal"
)

const (
	maxBodyBytes      = 1 << 20
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Vault is the ledger surface served over HTTP. *core.Vault implements it.
type Vault interface {
	Address() crypto.Address

	Deposit(caller crypto.Address, value *big.Int) error
	Withdraw(caller, destination crypto.Address, amount *big.Int) error
	Approve(caller, tok, spender crypto.Address, amount *big.Int) error
	LockTokens(caller, tok crypto.Address, amount *big.Int) error
	UnlockTokens(caller, tok, destination crypto.Address, amount *big.Int) error
	FlashSwap(ctx context.Context, caller crypto.Address, p flashswap.Params) (*flashswap.Result, error)

	SetTokenWhitelist(caller, tok crypto.Address, allowed bool) error
	SetSlippageTolerance(caller crypto.Address, bps uint32) error
	Pause(caller crypto.Address) error
	Unpause(caller crypto.Address) error
	Rescue(caller, tok crypto.Address) (*big.Int, error)
	RescueNative(caller crypto.Address) (*big.Int, error)
	TransferOwnership(caller, newOwner crypto.Address) error
	AcceptOwnership(caller crypto.Address) error

	Balance(owner crypto.Address) *big.Int
	TokenBalance(tok, owner crypto.Address) *big.Int
	NativeBalance(addr crypto.Address) *big.Int
	WalletBalance(tok, holder crypto.Address) *big.Int
	Allowance(tok, owner, spender crypto.Address) *big.Int
	Tokens() []token.Metadata
	TokenBySymbol(symbol string) (crypto.Address, bool)
	Config() access.Config
	Quote(tokenIn, tokenOut crypto.Address, amountIn *big.Int) (*flashswap.Quote, error)
	Stats() core.Stats
}

// EventLog is the committed event history. *journal.Journal implements it.
type EventLog interface {
	After(index uint64, limit int) ([]journal.Record, error)
	OnAppend(fn func(journal.Record))
}

var _ Vault = (*core.Vault)(nil)

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body required")
		}
		return badRequest("invalid body: " + err.Error())
	}
	return nil
}

// caller returns the authenticated identity. Routes reaching it are behind
// the authenticator so a miss is a wiring bug.
func caller(r *http.Request) (crypto.Address, error) {
	addr, ok := CallerFromContext(r.Context())
	if !ok {
		return crypto.ZeroAddress, &requestError{status: http.StatusUnauthorized, kind: kindUnauthorized, msg: "caller unknown"}
	}
	return addr, nil
}

// resolveToken accepts an address or a registered symbol.
func (s *Server) resolveToken(op, raw string) (crypto.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return crypto.ZeroAddress, nil
	}
	if addr, err := crypto.DecodeAddress(raw); err == nil {
		return addr, nil
	}
	symbol, err := token.NormalizeSymbol(raw)
	if err != nil {
		return crypto.ZeroAddress, nativecommon.Fail(nativecommon.ErrInvalidToken, op).Because(err)
	}
	addr, ok := s.vault.TokenBySymbol(symbol)
	if !ok {
		return crypto.ZeroAddress, nativecommon.Fail(nativecommon.ErrInvalidToken, op).Because(errors.New("unknown symbol " + symbol))
	}
	return addr, nil
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.Deposit(from, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.balanceOf(from))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dest, err := parseDestination("destination", req.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.Withdraw(from, dest, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.balanceOf(from))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := s.resolveToken("approve", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	spender := s.vault.Address()
	if strings.TrimSpace(req.Spender) != "" {
		if spender, err = parseAddress("spender", req.Spender); err != nil {
			writeError(w, err)
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.Approve(from, tok, spender, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tokenBalanceOf(tok, from))
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req lockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := s.resolveToken("lockTokens", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.LockTokens(from, tok, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tokenBalanceOf(tok, from))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req unlockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := s.resolveToken("unlockTokens", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	dest, err := parseDestination("destination", req.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.UnlockTokens(from, tok, dest, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tokenBalanceOf(tok, from))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.balanceOf(owner))
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	tok, err := s.resolveToken("getTokenBalance", chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tokenBalanceOf(tok, owner))
}

func (s *Server) handleTokens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newTokenResponses(s.vault.Tokens(), s.vault.Config().Whitelist))
}

func (s *Server) handleFlashSwap(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req flashSwapRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tokenIn, err := s.resolveToken("flashSwap", req.TokenIn)
	if err != nil {
		writeError(w, err)
		return
	}
	tokenOut, err := s.resolveToken("flashSwap", req.TokenOut)
	if err != nil {
		writeError(w, err)
		return
	}
	amountIn, err := parseAmount("amountIn", req.AmountIn)
	if err != nil {
		writeError(w, err)
		return
	}
	minOut, err := parseOptionalAmount("minAmountOut", req.MinAmountOut)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.vault.FlashSwap(r.Context(), from, flashswap.Params{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Data:         swapData(req.Data),
	})
	if err != nil {
		s.logger.Info("flash swap rejected", "caller", from.String(), "kind", nativecommon.KindOf(err), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFlashSwapResponse(res))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenIn, err := s.resolveToken("quote", q.Get("tokenIn"))
	if err != nil {
		writeError(w, err)
		return
	}
	tokenOut, err := s.resolveToken("quote", q.Get("tokenOut"))
	if err != nil {
		writeError(w, err)
		return
	}
	amountIn, err := parseAmount("amountIn", q.Get("amountIn"))
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := s.vault.Quote(tokenIn, tokenOut, amountIn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(quote))
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req whitelistRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := s.resolveToken("setTokenWhitelist", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.SetTokenWhitelist(from, tok, req.Allowed); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.config())
}

func (s *Server) handleSlippage(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req slippageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bps, err := parseBps("bps", req.Bps)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.SetSlippageTolerance(from, bps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.config())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.adminCall(w, r, s.vault.Pause)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.adminCall(w, r, s.vault.Unpause)
}

func (s *Server) handleAcceptOwnership(w http.ResponseWriter, r *http.Request) {
	s.adminCall(w, r, s.vault.AcceptOwnership)
}

func (s *Server) adminCall(w http.ResponseWriter, r *http.Request, fn func(crypto.Address) error) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := fn(from); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.config())
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ownershipRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	newOwner, err := parseDestination("newOwner", req.NewOwner)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.TransferOwnership(from, newOwner); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.config())
}

func (s *Server) handleRescue(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req rescueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var (
		amount *big.Int
		label  string
	)
	if strings.EqualFold(strings.TrimSpace(req.Token), nativeToken) {
		label = nativeToken
		amount, err = s.vault.RescueNative(from)
	} else {
		var tok crypto.Address
		if tok, err = s.resolveToken("rescue", req.Token); err == nil {
			label = tok.String()
			amount, err = s.vault.Rescue(from, tok)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rescueResponse{Token: label, Amount: amountString(amount)})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStatsResponse(s.vault.Stats()))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, notFound("event journal disabled"))
		return
	}
	after, limit, err := eventWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.events.After(after, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := eventsResponse{Events: make([]eventResponse, 0, len(records)), Next: after}
	for _, rec := range records {
		out.Events = append(out.Events, newEventResponse(rec))
		out.Next = rec.Index
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func eventWindow(r *http.Request) (uint64, int, error) {
	q := r.URL.Query()
	var after uint64
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, badRequest("after must be an unsigned integer")
		}
		after = v
	}
	limit := defaultEventLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, badRequest("limit must be a positive integer")
		}
		limit = min(v, maxEventLimit)
	}
	return after, limit, nil
}

func newEventResponse(rec journal.Record) eventResponse {
	return eventResponse{Index: rec.Index, Type: rec.Type, Attributes: rec.Attributes, Digest: rec.Digest}
}

func (s *Server) balanceOf(owner crypto.Address) balanceResponse {
	return balanceResponse{
		Owner:     owner.String(),
		Custodied: amountString(s.vault.Balance(owner)),
		Wallet:    amountString(s.vault.NativeBalance(owner)),
	}
}

func (s *Server) tokenBalanceOf(tok, owner crypto.Address) tokenBalanceResponse {
	return tokenBalanceResponse{
		Token:     tok.String(),
		Owner:     owner.String(),
		Locked:    amountString(s.vault.TokenBalance(tok, owner)),
		Wallet:    amountString(s.vault.WalletBalance(tok, owner)),
		Allowance: amountString(s.vault.Allowance(tok, owner, s.vault.Address())),
	}
}

func (s *Server) config() configResponse {
	cfg := s.vault.Config()
	out := configResponse{
		Vault:              s.vault.Address().String(),
		Owner:              cfg.Owner.String(),
		Paused:             cfg.Paused,
		SlippageBps:        cfg.SlippageBps,
		SlippageCeilingBps: cfg.SlippageCeilingBps,
		Whitelist:          make([]string, 0, len(cfg.Whitelist)),
	}
	if !cfg.PendingOwner.IsZero() {
		out.PendingOwner = cfg.PendingOwner.String()
	}
	for _, addr := range cfg.Whitelist {
		out.Whitelist = append(out.Whitelist, addr.String())
	}
	return out
}
