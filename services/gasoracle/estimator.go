package gasoracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"golang.org/x/time/rate"

	"flashvault/observability"
)

// ErrNoPrice is returned when every configured source failed.
var ErrNoPrice = errors.New("gasoracle: no gas price available")

// UnitEstimator is the subset of ethclient.Client used to estimate units for
// a concrete call.
type UnitEstimator interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
}

// Args refine an estimate. Zero values select tier defaults.
type Args struct {
	Tier          Tier
	MarginPercent uint32
	// Count multiplies the units, for example one whitelist call per token.
	Count uint64
	// Call, when set together with a unit estimator, replaces the table
	// figure with a node estimate.
	Call *ethereum.CallMsg
}

// Estimate is the projected cost of an operation.
type Estimate struct {
	Operation    Operation
	Tier         Tier
	Source       string
	Units        uint64
	PricePerUnit *big.Int
	TotalCost    *big.Int
}

// Estimator resolves prices from an ordered list of sources, falling back to
// the next source on error.
type Estimator struct {
	sources []PriceSource
	units   UnitEstimator
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.GasMetrics
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithUnitEstimator enables node-side unit estimation for Args.Call.
func WithUnitEstimator(u UnitEstimator) Option {
	return func(e *Estimator) { e.units = u }
}

// WithRateLimit bounds remote lookups to rps per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Estimator) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used to report source fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records resolved prices.
func WithMetrics(m *observability.GasMetrics) Option {
	return func(e *Estimator) { e.metrics = m }
}

// New returns an estimator consulting sources in order.
func New(sources []PriceSource, opts ...Option) *Estimator {
	e := &Estimator{logger: slog.Default()}
	for _, src := range sources {
		if src != nil {
			e.sources = append(e.sources, src)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Price resolves the gas price for tier with the safety margin applied. It
// returns the name of the source that answered.
func (e *Estimator) Price(ctx context.Context, tier Tier, marginPercent uint32) (*big.Int, string, error) {
	if tier == "" {
		tier = TierStandard
	}
	if marginPercent == 0 {
		marginPercent = tier.DefaultMargin()
	}
	for _, src := range e.sources {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, "", err
			}
		}
		price, err := src.GasPrice(ctx, tier)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			e.logger.Warn("gas price source failed", "source", src.Name(), "tier", string(tier), "error", err)
			e.metrics.RecordFallback(src.Name())
			continue
		}
		adjusted := applyPercent(price, marginPercent)
		e.metrics.RecordPrice(string(tier), src.Name(), gweiFloat(adjusted))
		return adjusted, src.Name(), nil
	}
	return nil, "", ErrNoPrice
}

// Estimate projects the cost of op.
func (e *Estimator) Estimate(ctx context.Context, op Operation, args Args) (Estimate, error) {
	tier := args.Tier
	if tier == "" {
		tier = TierStandard
	}
	units, err := e.unitsFor(ctx, op, args)
	if err != nil {
		return Estimate{}, err
	}
	price, source, err := e.Price(ctx, tier, args.MarginPercent)
	if err != nil {
		return Estimate{}, err
	}
	total := new(big.Int).Mul(new(big.Int).SetUint64(units), price)
	return Estimate{
		Operation:    op,
		Tier:         tier,
		Source:       source,
		Units:        units,
		PricePerUnit: price,
		TotalCost:    total,
	}, nil
}

// Tiers estimates op for every tier using tier default margins.
func (e *Estimator) Tiers(ctx context.Context, op Operation, count uint64) ([]Estimate, error) {
	out := make([]Estimate, 0, len(Tiers))
	for _, tier := range Tiers {
		est, err := e.Estimate(ctx, op, Args{Tier: tier, Count: count})
		if err != nil {
			return nil, err
		}
		out = append(out, est)
	}
	return out, nil
}

func (e *Estimator) unitsFor(ctx context.Context, op Operation, args Args) (uint64, error) {
	var base uint64
	if args.Call != nil && e.units != nil {
		estimated, err := e.units.EstimateGas(ctx, *args.Call)
		if err != nil {
			return 0, fmt.Errorf("gasoracle: estimate %s: %w", op, err)
		}
		base = estimated
	} else {
		known, ok := DefaultUnits[op]
		if !ok {
			return 0, fmt.Errorf("gasoracle: unknown operation %q", op)
		}
		base = known
	}
	count := args.Count
	if count == 0 {
		count = 1
	}
	buffered := base + base*GasLimitBufferPercent/100
	return buffered * count, nil
}

func applyPercent(value *big.Int, percent uint32) *big.Int {
	out := new(big.Int).Mul(value, big.NewInt(int64(100+percent)))
	return out.Quo(out, big.NewInt(100))
}
