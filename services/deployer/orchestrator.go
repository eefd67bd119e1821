package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"flashvault/crypto"
	"flashvault/observability"
	"flashvault/services/gasoracle"
)

// ErrInsufficientFunds is returned when the deployer cannot cover the
// estimated cost of the plan.
var ErrInsufficientFunds = errors.New("deployer: insufficient funds")

// FundsError carries the figures of a failed funds check.
type FundsError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("%v: required %s, available %s", ErrInsufficientFunds, e.Required, e.Available)
}

func (e *FundsError) Unwrap() error { return ErrInsufficientFunds }

// Step kinds.
const (
	StepDeploy    = "deploy"
	StepWhitelist = "whitelist"
	StepSlippage  = "setSlippage"
)

// Costs is the projected spend of a plan.
type Costs struct {
	Deploy    gasoracle.Estimate
	Whitelist gasoracle.Estimate
	Slippage  gasoracle.Estimate
	Total     *big.Int
}

// Summary reports a finished run.
type Summary struct {
	RunID       uuid.UUID
	Network     string
	Target      string
	Vault       crypto.Address
	Owner       crypto.Address
	Pool        crypto.Address
	Whitelisted []crypto.Address
	SlippageBps uint32
	Costs       *Costs
	Steps       []Step
}

// Orchestrator sequences a deployment plan against a target.
type Orchestrator struct {
	target    Target
	estimator *gasoracle.Estimator
	manifest  *Manifest
	logger    *slog.Logger
	metrics   *observability.DeployMetrics
}

// NewOrchestrator wires the collaborators. estimator and manifest are
// optional; without an estimator no funds check is made.
func NewOrchestrator(target Target, estimator *gasoracle.Estimator, manifest *Manifest, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		target:    target,
		estimator: estimator,
		manifest:  manifest,
		logger:    logger.With("component", "deployer", "target", target.Name()),
		metrics:   observability.Deploy(),
	}
}

// EstimateCosts prices every step of plan.
func (o *Orchestrator) EstimateCosts(ctx context.Context, plan *Plan) (*Costs, error) {
	if o.estimator == nil {
		return nil, nil
	}
	args := gasoracle.Args{Tier: plan.TierValue(), MarginPercent: plan.MarginPercent}
	deploy, err := o.estimator.Estimate(ctx, gasoracle.OpDeploy, args)
	if err != nil {
		return nil, err
	}
	costs := &Costs{Deploy: deploy, Total: new(big.Int).Set(deploy.TotalCost)}
	if n := len(plan.Tokens); n > 0 {
		wl := args
		wl.Count = uint64(n)
		costs.Whitelist, err = o.estimator.Estimate(ctx, gasoracle.OpWhitelist, wl)
		if err != nil {
			return nil, err
		}
		costs.Total.Add(costs.Total, costs.Whitelist.TotalCost)
	}
	costs.Slippage, err = o.estimator.Estimate(ctx, gasoracle.OpSetSlippage, args)
	if err != nil {
		return nil, err
	}
	costs.Total.Add(costs.Total, costs.Slippage.TotalCost)
	return costs, nil
}

// Run executes plan: price it, check funds, deploy, whitelist and set the
// initial tolerance, waiting for the configured depth after each step.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) (*Summary, error) {
	owner := o.target.Deployer()
	if plan.Owner != "" {
		parsed, err := crypto.DecodeAddress(plan.Owner)
		if err != nil {
			return nil, err
		}
		owner = parsed
	}
	var pool crypto.Address
	if plan.Pool != "" {
		parsed, err := crypto.DecodeAddress(plan.Pool)
		if err != nil {
			return nil, err
		}
		pool = parsed
	}
	tokens := make([]crypto.Address, 0, len(plan.Tokens))
	for _, tok := range plan.Tokens {
		addr, err := o.target.ResolveToken(ctx, tok)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, addr)
	}

	costs, err := o.EstimateCosts(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("estimate plan: %w", err)
	}
	if costs != nil {
		available, err := o.target.Balance(ctx)
		if err != nil {
			return nil, fmt.Errorf("deployer balance: %w", err)
		}
		if available == nil || available.Cmp(costs.Total) < 0 {
			if available == nil {
				available = new(big.Int)
			}
			return nil, &FundsError{Required: new(big.Int).Set(costs.Total), Available: available}
		}
		o.logger.Info("deployment cost estimated",
			"total", gasoracle.FormatEther(costs.Total),
			"available", gasoracle.FormatEther(available))
	}

	summary := &Summary{
		Network:     plan.Network,
		Target:      o.target.Name(),
		Owner:       owner,
		Pool:        pool,
		SlippageBps: *plan.SlippageBps,
		Costs:       costs,
	}
	run := &Run{
		Network:  plan.Network,
		Target:   o.target.Name(),
		Deployer: o.target.Deployer().String(),
		Owner:    owner.String(),
	}
	if costs != nil {
		run.TotalCost = costs.Total.String()
	}
	if o.manifest != nil {
		if err := o.manifest.Start(run); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	} else {
		run.ID = uuid.New()
	}
	summary.RunID = run.ID

	runErr := o.execute(ctx, plan, summary, tokens, costs)
	run.Vault = summary.Vault.String()
	if o.manifest != nil {
		if err := o.manifest.Finish(run, runErr); err != nil {
			o.logger.Error("record run result", "run", run.ID.String(), "error", err)
		}
	}
	if runErr != nil {
		o.logger.Error("deployment failed", "run", run.ID.String(), "error", runErr)
		return summary, runErr
	}
	o.logger.Info("deployment completed",
		"run", run.ID.String(),
		"vault", summary.Vault.String(),
		"whitelisted", len(summary.Whitelisted),
		"slippageBps", summary.SlippageBps)
	return summary, nil
}

func (o *Orchestrator) execute(ctx context.Context, plan *Plan, summary *Summary, tokens []crypto.Address, costs *Costs) error {
	confirmations := *plan.Confirmations
	seq := 0
	step := func(kind string, subject crypto.Address, est *gasoracle.Estimate, fn func(context.Context) (Receipt, error)) (Receipt, error) {
		seq++
		stepCtx, cancel := context.WithTimeout(ctx, plan.StepTimeout.Duration)
		defer cancel()
		rcpt, err := fn(stepCtx)
		if err == nil {
			err = o.target.WaitConfirmed(stepCtx, rcpt, confirmations)
		}
		o.metrics.RecordStep(kind, err)
		record := Step{Seq: seq, Kind: kind, Ref: rcpt.Ref, Status: StatusSucceeded}
		if !subject.IsZero() {
			record.Subject = subject.String()
		}
		if est != nil {
			record.Units = est.Units
			record.Cost = est.TotalCost.String()
		}
		if err != nil {
			record.Status = StatusFailed
			record.Error = err.Error()
		}
		if o.manifest != nil {
			if recErr := o.manifest.Record(summary.RunID, &record); recErr != nil {
				o.logger.Error("record step", "kind", kind, "error", recErr)
			}
		}
		summary.Steps = append(summary.Steps, record)
		if err != nil {
			return rcpt, fmt.Errorf("%s step: %w", kind, err)
		}
		o.logger.Info("deployment step confirmed", "kind", kind, "ref", rcpt.Ref)
		return rcpt, nil
	}

	var deployEst, whitelistEst, slippageEst *gasoracle.Estimate
	if costs != nil {
		deployEst, slippageEst = &costs.Deploy, &costs.Slippage
		if len(tokens) > 0 {
			per := costs.Whitelist
			per.Units /= uint64(len(tokens))
			per.TotalCost = new(big.Int).Quo(costs.Whitelist.TotalCost, big.NewInt(int64(len(tokens))))
			whitelistEst = &per
		}
	}

	deployed, err := step(StepDeploy, crypto.ZeroAddress, deployEst, func(ctx context.Context) (Receipt, error) {
		return o.target.DeployVault(ctx, summary.Owner, summary.Pool)
	})
	if err != nil {
		return err
	}
	summary.Vault = deployed.Address

	for _, tok := range tokens {
		tok := tok
		if _, err := step(StepWhitelist, tok, whitelistEst, func(ctx context.Context) (Receipt, error) {
			return o.target.SetTokenWhitelist(ctx, summary.Vault, tok, true)
		}); err != nil {
			return err
		}
		summary.Whitelisted = append(summary.Whitelisted, tok)
	}

	_, err = step(StepSlippage, crypto.ZeroAddress, slippageEst, func(ctx context.Context) (Receipt, error) {
		return o.target.SetSlippageTolerance(ctx, summary.Vault, summary.SlippageBps)
	})
	return err
}
