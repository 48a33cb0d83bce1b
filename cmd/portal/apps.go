package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"apk-portal/internal/config"
	"apk-portal/internal/database"
	"apk-portal/internal/registry"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage application types",
}

var appsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or update application types from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()

		inputs, err := registry.ParseSeed(f)
		if err != nil {
			return err
		}

		cfg := config.LoadConfig()
		db, err := database.Open(cfg.Database.URL, newLogger(cfg.Log))
		if err != nil {
			return err
		}
		defer database.Close(db)

		res, err := registry.New(db).Import(cmd.Context(), inputs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d application types (%d created, %d updated)\n",
			res.Created+res.Updated, res.Created, res.Updated)
		return nil
	},
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List application types",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		db, err := database.Open(cfg.Database.URL, newLogger(cfg.Log))
		if err != nil {
			return err
		}
		defer database.Close(db)

		apps, err := registry.New(db).List(cmd.Context(), false)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, app := range apps {
			state := "active"
			if !app.IsActive {
				state = "inactive"
			}
			fmt.Fprintf(out, "%-5d %-30s %-30s %s\n", app.ID, app.Name, app.Slug, state)
		}
		return nil
	},
}

func init() {
	appsCmd.AddCommand(appsImportCmd)
	appsCmd.AddCommand(appsListCmd)
	rootCmd.AddCommand(appsCmd)
}
