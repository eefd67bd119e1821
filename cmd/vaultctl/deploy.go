package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"flashvault/cmd/internal/passphrase"
	"flashvault/cmd/internal/vaultstate"
	"flashvault/config"
	"flashvault/crypto"
	"flashvault/services/deployer"
	"flashvault/services/gasoracle"
	"flashvault/storage/journal"
)

func runDeploy(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(deployCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the vault config file")
	planPath := fs.String("plan", "", "Path to the YAML deployment plan")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the deployer keystore passphrase")
	dryRun := fs.Bool("dry-run", false, "Price the plan without sending anything")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*planPath) == "" {
		return errors.New("-plan is required")
	}

	plan, err := deployer.LoadPlan(*planPath)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(plan.Tier) == "" {
		plan.Tier = cfg.Gas.Tier
	}
	if plan.MarginPercent == 0 {
		plan.MarginPercent = cfg.Gas.MarginPercent
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		target    deployer.Target
		estimator *gasoracle.Estimator
	)
	switch plan.Target {
	case "local":
		local, closeFn, err := openLocalTarget(cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		target = local
	case "evm":
		evm, closeFn, err := openEVMTarget(plan, *passEnv)
		if err != nil {
			return err
		}
		defer closeFn()
		target = evm
		est, closeEst, err := newEstimator(cfg, logger)
		if err != nil {
			return err
		}
		defer closeEst()
		estimator = est
	}

	manifest, err := deployer.OpenManifest(plan.Manifest)
	if err != nil {
		return err
	}
	defer manifest.Close()

	orch := deployer.NewOrchestrator(target, estimator, manifest, logger)
	if *dryRun {
		costs, err := orch.EstimateCosts(ctx, plan)
		if err != nil {
			return err
		}
		printCosts(out, costs)
		return nil
	}
	summary, err := orch.Run(ctx, plan)
	if summary != nil {
		printSummary(out, summary)
	}
	return err
}

// openLocalTarget opens the vault state of cfg directly. vaultd must not be
// running against the same data directory.
func openLocalTarget(cfg *config.Config, logger *slog.Logger) (*deployer.LocalTarget, func(), error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, nil, err
	}
	db, err := vaultstate.OpenDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	vault, err := vaultstate.Open(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	eventLog, err := journal.Open(journal.Config{Dir: cfg.Vault.JournalDir, SyncWrites: true}, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open event journal: %w", err)
	}
	vault.SetSink(vaultstate.Sink(eventLog))
	closeFn := func() {
		eventLog.Close()
		db.Close()
	}
	return deployer.NewLocalTarget(vault, owner), closeFn, nil
}

func openEVMTarget(plan *deployer.Plan, passEnv string) (*deployer.EVMTarget, func(), error) {
	pass, err := passphrase.NewSource(passEnv, plan.Keystore).Get()
	if err != nil {
		return nil, nil, err
	}
	key, err := crypto.LoadKeystore(plan.Keystore, pass)
	if err != nil {
		return nil, nil, fmt.Errorf("load deployer keystore: %w", err)
	}
	bytecode, err := deployer.LoadBytecode(plan.Bytecode)
	if err != nil {
		return nil, nil, err
	}
	client, err := deployer.DialEVMClient(plan.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	target, err := deployer.NewEVMTarget(client, key, bytecode, plan.Network, plan.PollInterval.Duration)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return target, client.Close, nil
}

func printCosts(out io.Writer, costs *deployer.Costs) {
	if costs == nil {
		fmt.Fprintln(out, "no gas estimate for this target")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tUNITS\tGWEI\tCOST")
	for _, est := range []gasoracle.Estimate{costs.Deploy, costs.Whitelist, costs.Slippage} {
		if est.TotalCost == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", est.Operation, est.Units,
			gasoracle.FormatGwei(est.PricePerUnit), gasoracle.FormatEther(est.TotalCost))
	}
	fmt.Fprintf(tw, "total\t\t\t%s\n", gasoracle.FormatEther(costs.Total))
	tw.Flush()
}

func printSummary(out io.Writer, s *deployer.Summary) {
	fmt.Fprintf(out, "run:       %s\n", s.RunID)
	fmt.Fprintf(out, "target:    %s (%s)\n", s.Target, s.Network)
	fmt.Fprintf(out, "vault:     %s\n", s.Vault)
	fmt.Fprintf(out, "owner:     %s\n", s.Owner)
	fmt.Fprintf(out, "slippage:  %d bps\n", s.SlippageBps)
	for _, tok := range s.Whitelisted {
		fmt.Fprintf(out, "whitelist: %s\n", tok)
	}
	if len(s.Steps) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTEP\tSUBJECT\tREF\tSTATUS")
	for _, step := range s.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", step.Seq, step.Kind, step.Subject, step.Ref, step.Status)
	}
	tw.Flush()
}
