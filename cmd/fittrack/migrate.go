// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package main

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fittrack/fittrack/internal/config"
	"github.com/fittrack/fittrack/internal/store"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// migrator is the subset of store.Migrator the commands drive.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply, revert or inspect the embedded PostgreSQL migrations.
The database URL comes from --database-url, FITTRACK_DATABASE_URL or the
config file.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert every migration, dropping all data",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return oops.Code(errutil.CodeValidation).Errorf("refusing to drop all data without --yes")
			}
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("All migrations reverted")
			return nil
		}),
	}
	down.Flags().Bool("yes", false, "confirm dropping all data")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := printVersion(cmd, m); err != nil {
				return err
			}
			pending, err := m.Pending()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("Schema is up to date")
				return nil
			}
			cmd.Printf("Pending: %s\n", joinVersions(pending))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced version %d\n", version)
			return nil
		}),
	})

	return cmd
}

// withMigrator resolves the database URL, opens a migrator for the duration
// of fn and closes it afterwards.
func withMigrator(fn func(cmd *cobra.Command, m migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// Validate the arguments before touching the database.
		if cmd.Name() == "force" && len(args) == 1 {
			if _, err := parseForceVersion(args[0]); err != nil {
				return err
			}
		}

		databaseURL, err := config.LoadDatabaseURL(cmd.Flags(), configPath(cmd))
		if err != nil {
			return err
		}
		m, err := newMigrator(databaseURL)
		if err != nil {
			return oops.With("operation", "open migrator").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrln("warning: closing migrator:", closeErr)
			}
		}()
		return fn(cmd, m, args)
	}
}

func printVersion(cmd *cobra.Command, m migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("Schema version %d (dirty, repair then run 'migrate force %d')\n", version, version)
		return nil
	}
	cmd.Printf("Schema version %d\n", version)
	return nil
}

// parseForceVersion accepts a non-negative integer.
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be a non-negative integer, got %q", s)
	}
	return v, nil
}

func joinVersions(versions []uint) string {
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ", ")
}
