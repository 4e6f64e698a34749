package commands

import (
	"fmt"
	"time"

	"tooltool/pkg/auth"
	"tooltool/pkg/config"

	"github.com/spf13/cobra"
)

var (
	tokenScopes   []string
	tokenValidity time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token signed with auth.secret",
	Example: `  tooltool token ci@example.com --scope tooltool/upload/internal --scope tooltool/download/*
  tooltool token admin@example.com --scope tooltool/* --validity 1h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.FromViper()
		if err != nil {
			return err
		}
		if settings.Auth.Secret == "" {
			return fmt.Errorf("auth.secret is not configured")
		}
		tokens, err := auth.NewTokens(settings.Auth.Secret)
		if err != nil {
			return err
		}

		token, err := tokens.Issue(args[0], tokenScopes, tokenValidity)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "permission granted to the token (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenValidity, "validity", 24*time.Hour, "token lifetime (0 = never expires)")
}
