/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/bookloan/apiserver/config"
	"github.com/bookloan/apiserver/internal/db"
	"github.com/bookloan/apiserver/internal/logging"
	"github.com/bookloan/apiserver/internal/services"
	"github.com/bookloan/apiserver/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	adminUsername string
	adminEmail    string
)

// createAdminCmd bootstraps the first administrator. Further admins are
// provisioned through the API.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create or promote an admin account",
	Long: `Create an admin account, or promote an existing account with the same
username and reset its password. The password is read from ADMIN_PASSWORD
or prompted for on the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.Setup(cfg)

		password, err := readAdminPassword()
		if err != nil {
			return err
		}

		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.MigrateUp(conn, cfg.Database.Driver); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}

		userService := services.NewUserService(store.NewUserRepository(conn))
		user, err := userService.EnsureAdmin(cmd.Context(), services.NewUser{
			Username: adminUsername,
			Email:    adminEmail,
			Password: password,
		})
		if err != nil {
			return err
		}
		logger.Info().Int("user_id", user.ID).Str("username", user.Username).Msg("admin account ready")
		return nil
	},
}

func readAdminPassword() (string, error) {
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		return password, nil
	}
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", errors.New("ADMIN_PASSWORD is not set and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimSpace(string(raw))
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func init() {
	rootCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().StringVar(&adminUsername, "username", "admin", "admin username")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email address")
	_ = createAdminCmd.MarkFlagRequired("email")
}
