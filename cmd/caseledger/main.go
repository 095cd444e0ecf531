package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "caseledger"

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Access-controlled medical case and record ledger",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (defaults to ./config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
