package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"flashvault/crypto"
	"flashvault/rpc"
)

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the vault config file")
	callerFlag := fs.String("caller", "", "Caller address embedded as the token subject (defaults to the owner)")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	var caller crypto.Address
	if strings.TrimSpace(*callerFlag) == "" {
		caller, err = cfg.OwnerAddress()
	} else {
		caller, err = crypto.DecodeAddress(*callerFlag)
	}
	if err != nil {
		return fmt.Errorf("caller: %w", err)
	}
	token, err := rpc.IssueToken(cfg.RPC.JWTSecret, cfg.RPC.JWTIssuer, caller, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
