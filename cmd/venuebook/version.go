package main

import (
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

const (
	outputFlagName     = "output"
	outputFlagValJSON  = "json"
	outputFlagValHuman = "human"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the venuebook version",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := cmd.Flags().GetString(outputFlagName)
			if err != nil {
				return err
			}

			switch output {
			case outputFlagValHuman:
				fmt.Fprintf(cmd.OutOrStdout(), "venuebook %s (config %s)\n", version, config.ConfigVersion)
				return nil
			case outputFlagValJSON:
				return json.NewEncoder(cmd.OutOrStdout()).Encode(struct {
					Version       string `json:"version"`
					ConfigVersion string `json:"config_version"`
				}{version, config.ConfigVersion})
			default:
				return fmt.Errorf("%s flag must be either %q or %q", outputFlagName, outputFlagValHuman, outputFlagValJSON)
			}
		},
	}
	cmd.Flags().String(outputFlagName, outputFlagValHuman, "output format: json,human")
	return cmd
}
