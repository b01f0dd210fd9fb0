package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"airsense/internal/auth"
)

var (
	tokenSubject string
	tokenRole    string
)

// tokenCmd mints a status API bearer token
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for the status API",
	Long: `Signs a token with the configured secret. Admin tokens may change MQTT
settings, submit documents and press the virtual button; readonly tokens
can only read.

Example:
  airsense token --subject dashboard --role readonly`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := auth.ParseRole(tokenRole)
		if err != nil {
			return err
		}

		apiCfg := cfg.API()
		token, err := auth.NewJWTManager(apiCfg.JWTSecret, apiCfg.TokenExpiration).
			GenerateToken(&auth.User{Subject: tokenSubject, Role: role})
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleAdmin), "admin or readonly")
}
