package main

import (
	"time"

	"github.com/spf13/cobra"

	"pglo/internal/auth"
)

var (
	tokenScope string
	tokenTTL   time.Duration
)

func init() {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.NewAuthenticator(cfg.AdminToken, cfg.JWTSecret).IssueToken(args[0], tokenScope, tokenTTL)
			if err != nil {
				return err
			}
			return printResult(map[string]any{"subject": args[0], "scope": tokenScope, "token": token}, "%s", token)
		},
	}
	cmd.Flags().StringVar(&tokenScope, "scope", auth.ScopeRead, "Token scope: read or write")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime, 0 for no expiry")
	rootCmd.AddCommand(cmd)
}
