package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"flashvault/cmd/internal/vaultstate"
	"flashvault/integrations/exports"
	"flashvault/storage/journal"
)

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the vault config file")
	after := fs.Uint64("after", 0, "Only export records with a journal index above this value")
	format := fs.String("format", "csv", "Output format: csv, jsonl or parquet")
	outPath := fs.String("out", "", "Output file; csv and jsonl default to stdout, parquet requires a path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	symbols, err := vaultstate.Symbols(cfg)
	if err != nil {
		return err
	}

	eventLog, err := journal.Open(journal.Config{Dir: cfg.Vault.JournalDir}, logger)
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	defer eventLog.Close()
	records, err := eventLog.After(*after, 0)
	if err != nil {
		return err
	}
	rows := exports.SwapsFromRecords(records, symbols)

	var (
		payload  []byte
		checksum string
	)
	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "csv":
		payload, checksum, err = exports.SwapsCSV(rows)
	case "jsonl":
		payload, checksum, err = exports.SwapsJSONL(rows)
	case "parquet":
		if strings.TrimSpace(*outPath) == "" {
			return errors.New("-out is required for parquet")
		}
		if err := exports.WriteSwapsParquet(*outPath, rows); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d swaps to %s\n", len(rows), *outPath)
		return nil
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	if err != nil {
		return err
	}

	if strings.TrimSpace(*outPath) == "" {
		_, err = out.Write(payload)
		return err
	}
	if err := os.WriteFile(*outPath, payload, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d swaps to %s (sha256 %s)\n", len(rows), *outPath, checksum)
	return nil
}
