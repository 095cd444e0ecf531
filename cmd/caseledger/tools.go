package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/medrex/caseledger/internal/signer"
	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/database"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/types"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Issue a signed bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.LoadFrom(path)
			if err != nil {
				return err
			}
			if cfg.Auth.Mode != "jwt" {
				return fmt.Errorf("tokens are only used in jwt auth mode, configured mode is %q", cfg.Auth.Mode)
			}

			account, err := types.ParseAccount("account", args[0])
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.TokenTTL) * time.Second
			}

			token, err := signer.NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl).IssueToken(account)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(token)
		},
	}
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres world state table",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return err
			}

			log := logger.New(cfg.LogLevel)
			db, err := database.NewConnection(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := db.CreateSchema(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("World state table %s is ready.\n", db.StateTable())
			return nil
		},
	}
}
