package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"flashvault/core"
	"flashvault/core/genesis"
	"flashvault/crypto"
	"flashvault/storage/journal"
)

const testSecret = "rpc-test-secret"

var (
	owner = crypto.DeriveAddress("owner")
	alice = crypto.DeriveAddress("alice")
)

type testEnv struct {
	vault   *core.Vault
	journal *journal.Journal
	server  *httptest.Server
}

func newTestEnv(t *testing.T, limit float64) *testEnv {
	t.Helper()
	v, err := core.New(nil, core.Options{Owner: owner})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	spec := &genesis.GenesisSpec{
		Tokens: []genesis.TokenSpec{
			{Symbol: "WETH", Decimals: 18, Whitelisted: true},
			{Symbol: "USDC", Decimals: 6, Whitelisted: true},
		},
		Alloc: map[string]map[string]string{
			alice.String(): {"NATIVE": "1000", "WETH": "100000"},
		},
		Pool:  map[string]string{"WETH": "1000000"},
		Pairs: []genesis.PairSpec{{TokenA: "WETH", TokenB: "USDC", ReserveA: "1000000", ReserveB: "2000000"}},
	}
	plan, err := spec.Build()
	if err != nil {
		t.Fatalf("build genesis: %v", err)
	}
	if err := v.ApplyGenesis(plan); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	dir := t.TempDir()
	j, err := journal.Open(journal.Config{Dir: filepath.Join(dir, "events")}, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	v.SetSink(j)
	idem, err := OpenIdempotencyStore(filepath.Join(dir, "idem.db"), time.Hour, nil)
	if err != nil {
		t.Fatalf("open idempotency store: %v", err)
	}
	t.Cleanup(func() { _ = idem.Close() })

	srv := NewServer(Config{
		JWTSecret:          testSecret,
		RateLimitPerSecond: limit,
		RateLimitBurst:     1,
	}, v, j, idem, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{vault: v, journal: j, server: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, as crypto.Address, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if !as.IsZero() {
		token, err := IssueToken(testSecret, "", as, time.Minute)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeInto(t *testing.T, data []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func expectError(t *testing.T, resp *http.Response, data []byte, status int, kind string) ErrorDetail {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, resp.StatusCode, data)
	}
	var body ErrorBody
	decodeInto(t, data, &body)
	if body.Error.Kind != kind {
		t.Fatalf("expected kind %s, got %s", kind, body.Error.Kind)
	}
	return body.Error
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 0)
	resp, data := env.do(t, http.MethodGet, "/healthz", crypto.ZeroAddress, nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, data)
	}
	resp, _ = env.do(t, http.MethodGet, "/metrics", crypto.ZeroAddress, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics returned %d", resp.StatusCode)
	}
}

func TestWritesRequireToken(t *testing.T) {
	env := newTestEnv(t, 0)
	resp, data := env.do(t, http.MethodPost, "/v1/deposit", crypto.ZeroAddress, amountRequest{Amount: "1"}, nil)
	expectError(t, resp, data, http.StatusUnauthorized, kindUnauthorized)

	forged, err := IssueToken("other-secret", "", alice, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp, data = env.do(t, http.MethodPost, "/v1/deposit", crypto.ZeroAddress, amountRequest{Amount: "1"},
		map[string]string{"Authorization": "Bearer " + forged})
	expectError(t, resp, data, http.StatusUnauthorized, kindUnauthorized)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0)
	resp, data := env.do(t, http.MethodPost, "/v1/deposit", alice, amountRequest{Amount: "400"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit: %d %s", resp.StatusCode, data)
	}
	var bal balanceResponse
	decodeInto(t, data, &bal)
	if bal.Custodied != "400" || bal.Wallet != "600" {
		t.Fatalf("unexpected balance %+v", bal)
	}

	resp, data = env.do(t, http.MethodPost, "/v1/withdraw", alice, withdrawRequest{Destination: alice.String(), Amount: "500"}, nil)
	detail := expectError(t, resp, data, http.StatusUnprocessableEntity, "InsufficientBalance")
	if detail.Required != "500" || detail.Available != "400" {
		t.Fatalf("unexpected shortfall %+v", detail)
	}

	resp, data = env.do(t, http.MethodPost, "/v1/withdraw", alice, withdrawRequest{Amount: "1"}, nil)
	expectError(t, resp, data, http.StatusBadRequest, "InvalidAddress")

	resp, data = env.do(t, http.MethodPost, "/v1/withdraw", alice, withdrawRequest{Destination: alice.Hex(), Amount: "150"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw: %d %s", resp.StatusCode, data)
	}
	resp, data = env.do(t, http.MethodGet, "/v1/balances/"+alice.String(), crypto.ZeroAddress, nil, nil)
	decodeInto(t, data, &bal)
	if resp.StatusCode != http.StatusOK || bal.Custodied != "250" || bal.Wallet != "750" {
		t.Fatalf("unexpected balance after withdraw %+v", bal)
	}
}

func TestRejectsMalformedAmounts(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, amount := range []string{"", "1.5", "0x10", "ten"} {
		resp, data := env.do(t, http.MethodPost, "/v1/deposit", alice, amountRequest{Amount: amount}, nil)
		expectError(t, resp, data, http.StatusBadRequest, kindBadRequest)
	}
	overflow := new(big.Int).Lsh(big.NewInt(1), 256).String()
	for _, amount := range []string{"0", "-5", overflow} {
		resp, data := env.do(t, http.MethodPost, "/v1/deposit", alice, amountRequest{Amount: amount}, nil)
		expectError(t, resp, data, http.StatusBadRequest, "InvalidAmount")
	}
	if env.vault.Balance(alice).Sign() != 0 {
		t.Fatalf("rejected deposits credited custody")
	}
}

func TestSlippageOutOfRangeIsInvalidAmount(t *testing.T) {
	env := newTestEnv(t, 0)
	initial := env.vault.Config().SlippageBps
	for _, bps := range []json.Number{"-1", "4294967296", "1001"} {
		resp, data := env.do(t, http.MethodPost, "/v1/admin/slippage", owner, slippageRequest{Bps: bps}, nil)
		expectError(t, resp, data, http.StatusBadRequest, "InvalidAmount")
	}
	resp, data := env.do(t, http.MethodPost, "/v1/admin/slippage", owner, slippageRequest{Bps: "1.5"}, nil)
	expectError(t, resp, data, http.StatusBadRequest, kindBadRequest)
	if got := env.vault.Config().SlippageBps; got != initial {
		t.Fatalf("rejected tolerance applied: %d", got)
	}
}

func TestLockSwapAndUnlockBySymbol(t *testing.T) {
	env := newTestEnv(t, 0)
	resp, data := env.do(t, http.MethodPost, "/v1/tokens/approve", alice, approveRequest{Token: "weth", Amount: "20000"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", resp.StatusCode, data)
	}
	resp, data = env.do(t, http.MethodPost, "/v1/tokens/lock", alice, lockRequest{Token: "WETH", Amount: "20000"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lock: %d %s", resp.StatusCode, data)
	}
	var tb tokenBalanceResponse
	decodeInto(t, data, &tb)
	if tb.Locked != "20000" || tb.Wallet != "80000" || tb.Allowance != "0" {
		t.Fatalf("unexpected token balance %+v", tb)
	}

	resp, data = env.do(t, http.MethodGet, "/v1/swap/quote?tokenIn=WETH&tokenOut=USDC&amountIn=10000", crypto.ZeroAddress, nil, nil)
	var quote quoteResponse
	decodeInto(t, data, &quote)
	if resp.StatusCode != http.StatusOK || quote.AmountOut != "19743" || quote.MinAmountOut != "19644" {
		t.Fatalf("unexpected quote %d %+v", resp.StatusCode, quote)
	}

	resp, data = env.do(t, http.MethodPost, "/v1/swap/flash", alice, flashSwapRequest{
		TokenIn: "WETH", TokenOut: "USDC", AmountIn: "10000", MinAmountOut: "19744",
	}, nil)
	expectError(t, resp, data, http.StatusUnprocessableEntity, "InsufficientOutputAmount")

	resp, data = env.do(t, http.MethodPost, "/v1/swap/flash", alice, flashSwapRequest{
		TokenIn: "WETH", TokenOut: "USDC", AmountIn: "10000",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flash swap: %d %s", resp.StatusCode, data)
	}
	var res flashSwapResponse
	decodeInto(t, data, &res)
	if res.AmountOut != "19743" || res.Fee != "9" {
		t.Fatalf("unexpected swap result %+v", res)
	}

	usdc, _ := env.vault.TokenBySymbol("USDC")
	resp, data = env.do(t, http.MethodGet, "/v1/tokens/USDC/balances/"+alice.String(), crypto.ZeroAddress, nil, nil)
	decodeInto(t, data, &tb)
	if resp.StatusCode != http.StatusOK || tb.Locked != "19743" || tb.Token != usdc.String() {
		t.Fatalf("unexpected USDC custody %+v", tb)
	}

	resp, data = env.do(t, http.MethodPost, "/v1/tokens/unlock", alice, unlockRequest{Token: usdc.String(), Destination: alice.String(), Amount: "19743"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unlock: %d %s", resp.StatusCode, data)
	}
	decodeInto(t, data, &tb)
	if tb.Locked != "0" || tb.Wallet != "19743" {
		t.Fatalf("unexpected balance after unlock %+v", tb)
	}

	resp, data = env.do(t, http.MethodPost, "/v1/tokens/lock", alice, lockRequest{Token: "DOGE", Amount: "1"}, nil)
	expectError(t, resp, data, http.StatusBadRequest, "InvalidToken")
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, 0)
	resp, data := env.do(t, http.MethodPost, "/v1/admin/pause", alice, nil, nil)
	expectError(t, resp, data, http.StatusForbidden, "Unauthorized")

	resp, data = env.do(t, http.MethodPost, "/v1/admin/pause", owner, nil, nil)
	var cfg configResponse
	decodeInto(t, data, &cfg)
	if resp.StatusCode != http.StatusOK || !cfg.Paused {
		t.Fatalf("pause: %d %s", resp.StatusCode, data)
	}
	resp, data = env.do(t, http.MethodPost, "/v1/swap/flash", alice, flashSwapRequest{TokenIn: "WETH", TokenOut: "USDC", AmountIn: "1"}, nil)
	expectError(t, resp, data, http.StatusServiceUnavailable, "ContractPaused")

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/unpause", owner, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unpause returned %d", resp.StatusCode)
	}

	resp, data = env.do(t, http.MethodPost, "/v1/admin/slippage", owner, slippageRequest{Bps: "5000"}, nil)
	expectError(t, resp, data, http.StatusBadRequest, "InvalidAmount")
	resp, data = env.do(t, http.MethodPost, "/v1/admin/slippage", owner, slippageRequest{Bps: "75"}, nil)
	decodeInto(t, data, &cfg)
	if resp.StatusCode != http.StatusOK || cfg.SlippageBps != 75 {
		t.Fatalf("slippage: %d %s", resp.StatusCode, data)
	}

	resp, data = env.do(t, http.MethodPost, "/v1/admin/whitelist", owner, whitelistRequest{Token: "USDC", Allowed: false}, nil)
	decodeInto(t, data, &cfg)
	if resp.StatusCode != http.StatusOK || len(cfg.Whitelist) != 1 {
		t.Fatalf("whitelist: %d %s", resp.StatusCode, data)
	}
	resp, data = env.do(t, http.MethodPost, "/v1/admin/whitelist", owner, whitelistRequest{Token: "", Allowed: true}, nil)
	expectError(t, resp, data, http.StatusBadRequest, "InvalidToken")

	resp, data = env.do(t, http.MethodPost, "/v1/admin/rescue", owner, rescueRequest{Token: "WETH"}, nil)
	expectError(t, resp, data, http.StatusBadRequest, "InvalidAmount")

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/ownership/transfer", owner, ownershipRequest{NewOwner: alice.String()}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer ownership returned %d", resp.StatusCode)
	}
	resp, data = env.do(t, http.MethodPost, "/v1/admin/ownership/accept", alice, nil, nil)
	decodeInto(t, data, &cfg)
	if resp.StatusCode != http.StatusOK || cfg.Owner != alice.String() || cfg.PendingOwner != "" {
		t.Fatalf("accept ownership: %d %s", resp.StatusCode, data)
	}
}

func TestIdempotentReplay(t *testing.T) {
	env := newTestEnv(t, 0)
	headers := map[string]string{headerIdempotency: "dep-1"}
	first, firstBody := env.do(t, http.MethodPost, "/v1/deposit", alice, amountRequest{Amount: "100"}, headers)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("deposit: %d %s", first.StatusCode, firstBody)
	}
	second, secondBody := env.do(t, http.MethodPost, "/v1/deposit", alice, amountRequest{Amount: "100"}, headers)
	if second.Header.Get(headerIdempotencyHit) != "hit" {
		t.Fatalf("expected cached replay")
	}
	if !bytes.Equal(firstBody, secondBody) {
		t.Fatalf("replayed body differs: %s vs %s", firstBody, secondBody)
	}
	if got := env.vault.Balance(alice); got.Int64() != 100 {
		t.Fatalf("replay moved funds again: %s", got)
	}
}

func TestEventsAfterCursor(t *testing.T) {
	env := newTestEnv(t, 0)
	for i := 0; i < 3; i++ {
		resp, data := env.do(t, http.MethodPost, "/v1/deposit", alice, amountRequest{Amount: "10"}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("deposit: %d %s", resp.StatusCode, data)
		}
	}
	resp, data := env.do(t, http.MethodGet, "/v1/events?after=0&limit=2", crypto.ZeroAddress, nil, nil)
	var page eventsResponse
	decodeInto(t, data, &page)
	if resp.StatusCode != http.StatusOK || len(page.Events) != 2 || page.Next != 2 {
		t.Fatalf("unexpected first page %d %+v", resp.StatusCode, page)
	}
	if page.Events[0].Type != "custody.deposited" || page.Events[0].Digest == "" {
		t.Fatalf("unexpected record %+v", page.Events[0])
	}
	_, data = env.do(t, http.MethodGet, "/v1/events?after=2", crypto.ZeroAddress, nil, nil)
	decodeInto(t, data, &page)
	if len(page.Events) != 1 || page.Events[0].Index != 3 {
		t.Fatalf("unexpected second page %+v", page)
	}
	resp, data = env.do(t, http.MethodGet, "/v1/events?after=x", crypto.ZeroAddress, nil, nil)
	expectError(t, resp, data, http.StatusBadRequest, kindBadRequest)
}

func TestEventStreamDeliversBacklogAndLive(t *testing.T) {
	env := newTestEnv(t, 0)
	if err := env.vault.Deposit(alice, big.NewInt(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/events/stream?after=0"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := env.vault.Deposit(alice, big.NewInt(7)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for want := uint64(1); want <= 2; want++ {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev eventResponse
		decodeInto(t, msg, &ev)
		if ev.Index != want || ev.Type != "custody.deposited" {
			t.Fatalf("unexpected event %+v, want index %d", ev, want)
		}
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	env := newTestEnv(t, 0.001)
	resp, _ := env.do(t, http.MethodGet, "/v1/config", crypto.ZeroAddress, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request returned %d", resp.StatusCode)
	}
	resp, data := env.do(t, http.MethodGet, "/v1/config", crypto.ZeroAddress, nil, nil)
	expectError(t, resp, data, http.StatusTooManyRequests, kindRateLimited)

	// Authenticated callers get their own bucket.
	resp, data = env.do(t, http.MethodPost, "/v1/deposit", alice, amountRequest{Amount: "1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("caller bucket shared with ip bucket: %d %s", resp.StatusCode, data)
	}
}
