package rpc

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"flashvault/core"
	"flashvault/crypto"
	nativecommon "flashvault/native/common"
	"flashvault/native/flashswap"
	"flashvault/native/token"
)

// nativeToken selects the native currency where a token is expected.
const nativeToken = "NATIVE"

type amountRequest struct {
	Amount string `json:"amount"`
}

type withdrawRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

type approveRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type lockRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type unlockRequest struct {
	Token       string `json:"token"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

type flashSwapRequest struct {
	TokenIn      string          `json:"tokenIn"`
	TokenOut     string          `json:"tokenOut"`
	AmountIn     string          `json:"amountIn"`
	MinAmountOut string          `json:"minAmountOut,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type whitelistRequest struct {
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

type slippageRequest struct {
	Bps json.Number `json:"bps"`
}

type rescueRequest struct {
	Token string `json:"token"`
}

type ownershipRequest struct {
	NewOwner string `json:"newOwner"`
}

type balanceResponse struct {
	Owner     string `json:"owner"`
	Custodied string `json:"custodied"`
	Wallet    string `json:"wallet"`
}

type tokenBalanceResponse struct {
	Token     string `json:"token"`
	Owner     string `json:"owner"`
	Locked    string `json:"locked"`
	Wallet    string `json:"wallet"`
	Allowance string `json:"allowance"`
}

type tokenResponse struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	Whitelisted bool   `json:"whitelisted"`
}

type flashSwapResponse struct {
	AmountOut    string `json:"amountOut"`
	MinAmountOut string `json:"minAmountOut"`
	Fee          string `json:"fee"`
	Refund       string `json:"refund"`
	Timestamp    int64  `json:"timestamp"`
}

type quoteResponse struct {
	AmountOut    string `json:"amountOut"`
	MinAmountOut string `json:"minAmountOut"`
	SlippageBps  uint32 `json:"slippageBps"`
	Fee          string `json:"fee"`
}

type rescueResponse struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type configResponse struct {
	Vault              string   `json:"vault"`
	Owner              string   `json:"owner"`
	PendingOwner       string   `json:"pendingOwner,omitempty"`
	Paused             bool     `json:"paused"`
	SlippageBps        uint32   `json:"slippageBps"`
	SlippageCeilingBps uint32   `json:"slippageCeilingBps"`
	Whitelist          []string `json:"whitelist"`
}

type tokenStatsResponse struct {
	Token         string `json:"token"`
	Symbol        string `json:"symbol"`
	Locked        string `json:"locked"`
	Held          string `json:"held"`
	Residual      string `json:"residual"`
	PoolFees      string `json:"poolFees"`
	PoolLiquidity string `json:"poolLiquidity"`
}

type statsResponse struct {
	TotalDeposits    string               `json:"totalDeposits"`
	TotalWithdrawals string               `json:"totalWithdrawals"`
	Custodied        string               `json:"custodied"`
	NativeHeld       string               `json:"nativeHeld"`
	SwapCount        uint64               `json:"swapCount"`
	Tokens           []tokenStatsResponse `json:"tokens"`
}

type eventResponse struct {
	Index      uint64            `json:"index"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
	Next   uint64          `json:"next"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// parseAmount reads a base-10 unsigned amount bounded to 256 bits.
func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, badRequest(field + " is required")
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, outOfRange(field, raw, err)
	}
	return v.ToBig(), nil
}

// outOfRange separates well formed integers that do not fit the amount range
// (negative or wider than 256 bits) from text that is not a number at all.
func outOfRange(field, raw string, cause error) error {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return badRequest(field + ": " + cause.Error())
	}
	return nativecommon.Fail(nativecommon.ErrInvalidAmount, field).WithValue(n)
}

// parseBps reads a basis point figure. Integers outside uint32 are invalid
// amounts; anything else that is not an integer is a malformed request.
func parseBps(field string, raw json.Number) (uint32, error) {
	text := strings.TrimSpace(raw.String())
	if text == "" {
		return 0, badRequest(field + " is required")
	}
	n, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return 0, badRequest(field + ": not an integer")
	}
	if n.Sign() < 0 || !n.IsUint64() || n.Uint64() > math.MaxUint32 {
		return 0, nativecommon.Fail(nativecommon.ErrInvalidAmount, field).WithValue(n)
	}
	return uint32(n.Uint64()), nil
}

func parseOptionalAmount(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw)
}

// parseDestination leaves an empty value as the zero address so the ledger
// reports InvalidAddress itself.
func parseDestination(field, raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.ZeroAddress, nil
	}
	return parseAddress(field, raw)
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.ZeroAddress, badRequest(field + ": " + err.Error())
	}
	return addr, nil
}

func swapData(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	// A JSON string carries the payload verbatim.
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return []byte(s)
	}
	return append([]byte(nil), trimmed...)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newFlashSwapResponse(res *flashswap.Result) flashSwapResponse {
	return flashSwapResponse{
		AmountOut:    amountString(res.AmountOut),
		MinAmountOut: amountString(res.MinAmountOut),
		Fee:          amountString(res.Fee),
		Refund:       amountString(res.Refund),
		Timestamp:    res.Timestamp,
	}
}

func newQuoteResponse(q *flashswap.Quote) quoteResponse {
	return quoteResponse{
		AmountOut:    amountString(q.AmountOut),
		MinAmountOut: amountString(q.MinAmountOut),
		SlippageBps:  q.SlippageBps,
		Fee:          amountString(q.Fee),
	}
}

func newTokenResponses(tokens []token.Metadata, whitelist []crypto.Address) []tokenResponse {
	allowed := make(map[crypto.Address]bool, len(whitelist))
	for _, addr := range whitelist {
		allowed[addr] = true
	}
	out := make([]tokenResponse, 0, len(tokens))
	for _, meta := range tokens {
		out = append(out, tokenResponse{
			Address:     meta.Address.String(),
			Symbol:      meta.Symbol,
			Decimals:    meta.Decimals,
			Whitelisted: allowed[meta.Address],
		})
	}
	return out
}

func newStatsResponse(stats core.Stats) statsResponse {
	out := statsResponse{
		TotalDeposits:    amountString(stats.TotalDeposits),
		TotalWithdrawals: amountString(stats.TotalWithdrawals),
		Custodied:        amountString(stats.Custodied),
		NativeHeld:       amountString(stats.NativeHeld),
		SwapCount:        stats.SwapCount,
		Tokens:           make([]tokenStatsResponse, 0, len(stats.Tokens)),
	}
	for _, ts := range stats.Tokens {
		out.Tokens = append(out.Tokens, tokenStatsResponse{
			Token:         ts.Token.String(),
			Symbol:        ts.Symbol,
			Locked:        amountString(ts.Locked),
			Held:          amountString(ts.Held),
			Residual:      amountString(ts.Residual),
			PoolFees:      amountString(ts.PoolFees),
			PoolLiquidity: amountString(ts.PoolLiquid),
		})
	}
	return out
}
