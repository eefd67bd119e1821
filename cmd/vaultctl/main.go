package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"flashvault/config"
	"flashvault/observability/logging"
)

const (
	estimateCommand = "estimate"
	deployCommand   = "deploy"
	tokenCommand    = "token"
	exportCommand   = "export"

	defaultConfig  = "./vault.toml"
	defaultPassEnv = "VAULT_DEPLOYER_PASS"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case estimateCommand:
		err = runEstimate(os.Args[2:], os.Stdout)
	case deployCommand:
		err = runDeploy(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case exportCommand:
		err = runExport(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: vaultctl <command> [flags]

Commands:
  %-9s print gas cost tiers for a vault operation
  %-9s run a YAML deployment plan
  %-9s mint a bearer token for the vaultd API
  %-9s write flash swap records from the event journal

Run "vaultctl <command> -h" for the flags of a command.
`, estimateCommand, deployCommand, tokenCommand, exportCommand)
}

// loadConfig reads the config and builds a CLI logger writing to stderr.
func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(os.Getenv("VAULT_ENV"))
	if env == "" {
		env = cfg.Log.Env
	}
	logger := logging.SetupWithOptions("vaultctl", env, logging.Options{
		Level:  cfg.Log.Level,
		Writer: os.Stderr,
	})
	return cfg, logger, nil
}
