package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

func newAmountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amount",
		Short: "Convert between token quantities and base units",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "parse <tokens>",
		Short: "Convert a token quantity such as 12.5 to base units",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := finance.ParseUnits(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), a.String())
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "format <base-units>",
		Short: "Convert base units to a token quantity",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := finance.ParseBase(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), a.Format())
			return err
		},
	})
	return cmd
}
