package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "venuebook",
		Short: "Multi-venue order book engine with pre-trade risk and P&L attribution",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Println("Warning: .env file not found, using environment variables")
			}
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice("config", nil, "configuration files merged in order")
	cmd.AddCommand(newSimulateCmd(), newConfigCmd(), newValidateCmd(), newVersionCmd())
	return cmd
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
