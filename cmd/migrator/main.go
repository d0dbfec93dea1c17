// Package main provides the database migration CLI for the aggregator.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/aggregator-io/aggregator/internal/storage/migrations"
)

const cliVersion = "1.0.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "migrator",
		Short:   "Apply and inspect the aggregator's database schema",
		Version: cliVersion,
	}

	root.AddCommand(
		newUpCmd(),
		newDownCmd(),
		newStatusCmd(),
		newVersionCmd(),
		newDropCmd(),
	)

	return root
}

func withRunner(fn func(r *migrations.Runner) error) error {
	config, err := migrations.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runner, err := migrations.NewRunner(config)
	if err != nil {
		return fmt.Errorf("failed to create migration runner: %w", err)
	}

	defer func() {
		if cerr := runner.Close(); cerr != nil {
			log.Printf("error closing migration runner: %v", cerr)
		}
	}()

	return fn(runner)
}

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(r *migrations.Runner) error { return r.Up() })
		},
	}
}

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(r *migrations.Runner) error { return r.Down() })
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(r *migrations.Runner) error { return r.Status() })
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(func(r *migrations.Runner) error { return r.Version() })
		},
	}
}

func newDropCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop all tables (destructive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("WARNING: This will drop all tables. Are you sure? (y/N): ")

				var response string

				_, _ = fmt.Scanln(&response)

				if response != "y" && response != "Y" {
					fmt.Println("Operation cancelled.")

					return nil
				}
			}

			return withRunner(func(r *migrations.Runner) error { return r.Drop() })
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")

	return cmd
}
