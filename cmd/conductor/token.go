package main

import (
	"errors"
	"fmt"
	"time"

	httpAdapter "github.com/aretw0/conductor/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.HTTP.JWTSecret == "" {
			return errors.New("http.jwt_secret is not configured")
		}
		auth, err := httpAdapter.NewAuthenticator(cfg.HTTP.JWTSecret, cfg.HTTP.JWTIssuer)
		if err != nil {
			return err
		}
		roles, _ := cmd.Flags().GetStringSlice("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.Issue(args[0], roles, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringSlice("role", nil, "Role claim, may be repeated")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}
