// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/fittrack/fittrack/internal/xdg"
)

// NewRootCmd creates the root command for the FitTrack CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fittrack",
		Short: "FitTrack - activity and profile tracking API",
		Long: `FitTrack serves an HTTP API for accounts, activities and profiles,
keeping every record and its owner's reference list consistent.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: $XDG_CONFIG_HOME/fittrack/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// configPath returns --config, or the XDG config file when the flag is unset.
func configPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil || path == "" {
		return xdg.DefaultConfigFile()
	}
	return path
}
