package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"apk-portal/internal/auth"
	"apk-portal/internal/config"
	"apk-portal/internal/database"
)

var (
	adminUsername string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator or reset its password",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := newLogger(cfg.Log)

		db, err := database.Open(cfg.Database.URL, log)
		if err != nil {
			return err
		}
		defer database.Close(db)

		created, err := auth.CreateOrResetAdmin(cmd.Context(), db, adminUsername, adminPassword)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s\n", adminUsername)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Reset password of admin %s\n", adminUsername)
		}
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminUsername, "username", "", "admin username")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password (at least 8 characters)")
	createAdminCmd.MarkFlagRequired("username")
	createAdminCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(createAdminCmd)
}
