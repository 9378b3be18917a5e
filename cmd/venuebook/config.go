package main

import (
	"fmt"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newConfigCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the configuration template of a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteTemplate(cmd.OutOrStdout(), profile)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", config.ProfileBalanced, "development, balanced or production")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a configuration file loads and validates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateFile(args[0], zap.NewNop()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		},
	}
}
