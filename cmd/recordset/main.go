// Command recordset manages the database schema for an application's
// registered record types: generate previews pending migration steps,
// migrate applies them, showmigrations reports status.
//
// The binary operates on the sample models in models.go; applications
// embed the same three commands over their own Registry.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tordrt/recordset"
	"github.com/tordrt/recordset/internal/config"
	"github.com/tordrt/recordset/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "recordset",
	Short:         "Manage record schemas and migrations",
	Long:          `recordset keeps the SQLite schema in step with the registered record types: it diffs the declarations against the live database, applies the missing pieces, and tracks every applied step.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Show the migration steps that would be applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *recordset.Store, app string) error {
			steps, err := store.Migrator(app).Generate(ctx)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				cmd.Println("No changes detected.")
				return nil
			}
			for _, step := range steps {
				cmd.Printf("%s (%s)\n", step.Name, step.Model)
				for _, stmt := range step.Statements {
					cmd.Printf("    %s\n", stmt)
				}
			}
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migration steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *recordset.Store, app string) error {
			applied, err := store.Migrator(app).Migrate(ctx)
			for _, step := range applied {
				cmd.Printf("Applied %s\n", step.Name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				cmd.Println("Nothing to apply.")
			}
			return nil
		})
	},
}

var showMigrationsCmd = &cobra.Command{
	Use:   "showmigrations",
	Short: "List applied and pending migration steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *recordset.Store, app string) error {
			applied, pending, err := store.Migrator(app).Status(ctx)
			if err != nil {
				return err
			}
			for _, a := range applied {
				cmd.Printf("[X] %s\n", a.Name)
			}
			for _, step := range pending {
				cmd.Printf("[ ] %s\n", step.Name)
			}
			if len(applied) == 0 && len(pending) == 0 {
				cmd.Println("No migrations.")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "recordset.yaml", "Path to the project configuration file")
	rootCmd.AddCommand(generateCmd, migrateCmd, showMigrationsCmd)
}

// withStore loads the configuration, opens the store over the sample
// registry, and closes it when fn returns.
func withStore(ctx context.Context, fn func(context.Context, *recordset.Store, string) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)

	reg, err := buildRegistry()
	if err != nil {
		return err
	}

	store, err := recordset.Open(ctx, reg, recordset.Config{
		Path:          cfg.Database.Path,
		BusyTimeoutMS: cfg.Database.BusyTimeout * 1000,
		WALMode:       cfg.Database.WALMode,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close database: %v\n", err)
		}
	}()

	return fn(ctx, store, cfg.App.Name)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
