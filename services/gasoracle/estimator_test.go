package gasoracle

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gasDoc = `{
  "low": {"suggestedMaxFeePerGas": "20", "suggestedMaxPriorityFeePerGas": "1"},
  "medium": {"suggestedMaxFeePerGas": "30", "suggestedMaxPriorityFeePerGas": "1.5"},
  "high": {"suggestedMaxFeePerGas": "40", "suggestedMaxPriorityFeePerGas": "2"},
  "estimatedBaseFee": "18"
}`

type stubNode struct {
	price *big.Int
	err   error
	units uint64
}

func (s stubNode) SuggestGasPrice(context.Context) (*big.Int, error) { return s.price, s.err }

func (s stubNode) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return s.units, s.err
}

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)) }

func TestAPISourceAppliesBuffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gasDoc))
	}))
	defer srv.Close()

	src := NewAPISource(srv.URL, srv.Client(), 0)
	price, err := src.GasPrice(context.Background(), TierStandard)
	require.NoError(t, err)
	assert.Equal(t, gwei(33).String(), price.String())

	price, err = src.GasPrice(context.Background(), TierSafe)
	require.NoError(t, err)
	assert.Equal(t, gwei(22).String(), price.String())
}

func TestAPISourceDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewAPISource(srv.URL, srv.Client(), 0).GasPrice(context.Background(), TierFast)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestEstimateFallsBackToNodeThenDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	api := NewAPISource(srv.URL, srv.Client(), 0)
	est := New([]PriceSource{api, NewNodeSource(stubNode{price: gwei(10)}), NewStaticSource(30)})
	got, err := est.Estimate(context.Background(), OpWhitelist, Args{Tier: TierSafe, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "node", got.Source)
	assert.Equal(t, gwei(11).String(), got.PricePerUnit.String())
	// 48000 * 1.2 * 3
	assert.Equal(t, uint64(172_800), got.Units)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(172_800), gwei(11)).String(), got.TotalCost.String())

	est = New([]PriceSource{NewNodeSource(stubNode{err: errors.New("down")}), NewStaticSource(30)})
	got, err = est.Estimate(context.Background(), OpDeploy, Args{Tier: TierFast})
	require.NoError(t, err)
	assert.Equal(t, "default", got.Source)
	assert.Equal(t, gwei(45).String(), got.PricePerUnit.String())
}

func TestEstimateFailures(t *testing.T) {
	est := New([]PriceSource{NewNodeSource(stubNode{err: errors.New("down")})})
	_, err := est.Estimate(context.Background(), OpDeposit, Args{})
	assert.ErrorIs(t, err, ErrNoPrice)

	est = New([]PriceSource{NewStaticSource(1)})
	_, err = est.Estimate(context.Background(), Operation("mint"), Args{})
	assert.Error(t, err)
}

func TestEstimateUsesNodeUnitsForCalls(t *testing.T) {
	node := stubNode{price: gwei(1), units: 100_000}
	est := New([]PriceSource{NewNodeSource(node)}, WithUnitEstimator(node), WithRateLimit(100, 1))
	got, err := est.Estimate(context.Background(), OpFlashSwap, Args{Call: &ethereum.CallMsg{}, MarginPercent: MarginUrgent})
	require.NoError(t, err)
	assert.Equal(t, uint64(120_000), got.Units)
	assert.Equal(t, "1250000000", got.PricePerUnit.String())
}

func TestTiersAscend(t *testing.T) {
	est := New([]PriceSource{NewStaticSource(20)})
	tiers, err := est.Tiers(context.Background(), OpFlashSwap, 1)
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	assert.True(t, tiers[0].PricePerUnit.Cmp(tiers[1].PricePerUnit) < 0)
	assert.True(t, tiers[1].PricePerUnit.Cmp(tiers[2].PricePerUnit) < 0)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "33.000", FormatGwei(gwei(33)))
	assert.Equal(t, "0.000021", FormatEther(gwei(21_000)))
	_, err := ParseTier("urgent")
	assert.Error(t, err)
	tier, err := ParseTier(" FAST ")
	require.NoError(t, err)
	assert.Equal(t, TierFast, tier)
}
