package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/auth"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a caller identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return &usageError{fmt.Errorf("--sub is required")}
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			signer, err := auth.NewSigner(cfg.Secret)
			if err != nil {
				return fmt.Errorf("AGENTPAY_SECRET: %w", err)
			}
			tok, err := signer.Issue(subject, ttl, roles...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "caller identity (account address or engine id)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles to embed")
	return cmd
}
