package gasoracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flashvault/pkg/retrier"
)

var (
	weiPerGwei = decimal.New(1, 9)
	weiPerEth  = decimal.New(1, 18)

	// apiBuffer is applied to gas API quotes before any tier margin.
	apiBuffer = decimal.RequireFromString("1.1")

	errEmptyQuote = errors.New("gasoracle: empty price quote")
)

// PriceSource resolves a gas price in wei for a tier.
type PriceSource interface {
	Name() string
	GasPrice(ctx context.Context, tier Tier) (*big.Int, error)
}

type tierQuote struct {
	MaxFee      string `json:"suggestedMaxFeePerGas"`
	PriorityFee string `json:"suggestedMaxPriorityFeePerGas"`
}

// apiResponse is the suggested-fee document served by Infura-style gas APIs.
// Values are gwei decimal strings.
type apiResponse struct {
	Low         tierQuote `json:"low"`
	Medium      tierQuote `json:"medium"`
	High        tierQuote `json:"high"`
	EstimatedBF string    `json:"estimatedBaseFee"`
}

func (r apiResponse) quote(tier Tier) string {
	var q tierQuote
	switch tier {
	case TierSafe:
		q = r.Low
	case TierFast:
		q = r.High
	default:
		q = r.Medium
	}
	if strings.TrimSpace(q.MaxFee) != "" {
		return q.MaxFee
	}
	return r.EstimatedBF
}

// APISource queries an HTTP gas API.
type APISource struct {
	url     string
	client  *http.Client
	retrier *retrier.Retrier
}

// NewAPISource returns a source for url. A nil client selects a client with
// timeout.
func NewAPISource(url string, client *http.Client, timeout time.Duration) *APISource {
	if client == nil {
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &APISource{
		url:     strings.TrimSpace(url),
		client:  client,
		retrier: retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(100*time.Millisecond)),
	}
}

func (s *APISource) Name() string { return "api" }

// GasPrice fetches the tier quote and applies the 10% API buffer.
func (s *APISource) GasPrice(ctx context.Context, tier Tier) (*big.Int, error) {
	doc, err := retrier.DoWithData(s.retrier, ctx, s.fetch)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(doc.quote(tier))
	if raw == "" {
		return nil, errEmptyQuote
	}
	gwei, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("gasoracle: parse %s quote %q: %w", tier, raw, err)
	}
	if !gwei.IsPositive() {
		return nil, errEmptyQuote
	}
	return gwei.Mul(apiBuffer).Mul(weiPerGwei).Floor().BigInt(), nil
}

func (s *APISource) fetch(ctx context.Context) (apiResponse, error) {
	var doc apiResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return doc, retrier.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return doc, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return doc, fmt.Errorf("gasoracle: gas api status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return doc, retrier.Permanent(fmt.Errorf("gasoracle: gas api status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return doc, retrier.Permanent(fmt.Errorf("gasoracle: decode gas api response: %w", err))
	}
	return doc, nil
}

// NodeClient is the subset of ethclient.Client the node source needs.
type NodeClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// NodeSource asks a node for eth_gasPrice. The price is the same for every
// tier; the tier margin differentiates them.
type NodeSource struct {
	client NodeClient
}

func NewNodeSource(client NodeClient) *NodeSource { return &NodeSource{client: client} }

func (s *NodeSource) Name() string { return "node" }

func (s *NodeSource) GasPrice(ctx context.Context, _ Tier) (*big.Int, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("gasoracle: node client unavailable")
	}
	price, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gasoracle: eth_gasPrice: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, errEmptyQuote
	}
	return price, nil
}

// StaticSource always returns the configured conservative default.
type StaticSource struct {
	wei *big.Int
}

// NewStaticSource converts gwei into a fixed price.
func NewStaticSource(gwei float64) *StaticSource {
	return &StaticSource{wei: decimal.NewFromFloat(gwei).Mul(weiPerGwei).Floor().BigInt()}
}

func (s *StaticSource) Name() string { return "default" }

func (s *StaticSource) GasPrice(context.Context, Tier) (*big.Int, error) {
	if s.wei == nil || s.wei.Sign() <= 0 {
		return nil, errEmptyQuote
	}
	return new(big.Int).Set(s.wei), nil
}

// FormatGwei renders wei as a gwei decimal string.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerGwei).StringFixed(3)
}

// FormatEther renders wei as an ether decimal string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEth).StringFixed(6)
}

func gweiFloat(wei *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(wei, 0).Div(weiPerGwei).Float64()
	return f
}
