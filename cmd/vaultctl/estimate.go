package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"flashvault/config"
	"flashvault/observability"
	"flashvault/services/deployer"
	"flashvault/services/gasoracle"
)

func runEstimate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(estimateCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the vault config file")
	op := fs.String("op", string(gasoracle.OpFlashSwap), "Operation to price ("+operationNames()+")")
	count := fs.Uint64("count", 1, "Number of calls to price")
	tier := fs.String("tier", "", "Price a single tier instead of all of them")
	margin := fs.Uint("margin", 0, "Safety margin in percent; 0 falls back to gas.margin_percent, then the tier default")
	if err := fs.Parse(args); err != nil {
		return err
	}

	operation, err := parseOperation(*op)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	estimator, closeFn, err := newEstimator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var estimates []gasoracle.Estimate
	if strings.TrimSpace(*tier) != "" {
		parsed, err := gasoracle.ParseTier(*tier)
		if err != nil {
			return err
		}
		marginPercent := uint32(*margin)
		if marginPercent == 0 {
			marginPercent = cfg.Gas.MarginPercent
		}
		est, err := estimator.Estimate(ctx, operation, gasoracle.Args{Tier: parsed, MarginPercent: marginPercent, Count: *count})
		if err != nil {
			return err
		}
		estimates = append(estimates, est)
	} else {
		estimates, err = estimator.Tiers(ctx, operation, *count)
		if err != nil {
			return err
		}
	}
	printEstimates(out, estimates)
	return nil
}

// newEstimator chains the configured price sources: API, then node, then the
// static default which never fails.
func newEstimator(cfg *config.Config, logger *slog.Logger) (*gasoracle.Estimator, func(), error) {
	closeFn := func() {}
	timeout := time.Duration(cfg.Gas.TimeoutSeconds) * time.Second
	var sources []gasoracle.PriceSource
	opts := []gasoracle.Option{
		gasoracle.WithLogger(logger),
		gasoracle.WithMetrics(observability.Gas()),
		gasoracle.WithRateLimit(cfg.Gas.RequestsPerSecond, 1),
	}
	if url := strings.TrimSpace(cfg.Gas.APIURL); url != "" {
		sources = append(sources, gasoracle.NewAPISource(url, &http.Client{Timeout: timeout}, timeout))
	}
	if url := strings.TrimSpace(cfg.Gas.NodeURL); url != "" {
		client, err := deployer.DialEVMClient(url)
		if err != nil {
			return nil, closeFn, fmt.Errorf("dial gas node: %w", err)
		}
		closeFn = client.Close
		sources = append(sources, gasoracle.NewNodeSource(client))
		opts = append(opts, gasoracle.WithUnitEstimator(client))
	}
	sources = append(sources, gasoracle.NewStaticSource(cfg.Gas.DefaultGwei))
	return gasoracle.New(sources, opts...), closeFn, nil
}

func parseOperation(raw string) (gasoracle.Operation, error) {
	trimmed := strings.TrimSpace(raw)
	for op := range gasoracle.DefaultUnits {
		if strings.EqualFold(string(op), trimmed) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q (want one of %s)", raw, operationNames())
}

func operationNames() string {
	names := make([]string, 0, len(gasoracle.DefaultUnits))
	for op := range gasoracle.DefaultUnits {
		names = append(names, string(op))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func printEstimates(out io.Writer, estimates []gasoracle.Estimate) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tTIER\tSOURCE\tUNITS\tGWEI\tTOTAL")
	for _, est := range estimates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			est.Operation, est.Tier, est.Source, est.Units,
			gasoracle.FormatGwei(est.PricePerUnit), gasoracle.FormatEther(est.TotalCost))
	}
	tw.Flush()
}
