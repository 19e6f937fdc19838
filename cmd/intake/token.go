package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/auth"
	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/core"
)

func newTokenCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "token OPERATOR",
		Short: "Issue a bearer token for an operator",
		Long: `Signs a bearer token with the server's JWT_SECRET, read from the same
configuration the server loads. Useful for scripts and for the case
service token (CASE_API_TOKEN) of another intake server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := auth.New(cfg.Security)
			if err != nil {
				return err
			}

			token, expires, err := a.IssueToken(core.Operator{ID: args[0], Name: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format("2006-01-02 15:04 MST"))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name carried in the token")
	return cmd
}
