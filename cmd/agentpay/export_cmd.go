package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/export"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/observability"
)

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write a verified journal snapshot to the configured export store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sink, err := export.NewStore(ctx, cfg.Export)
			if err != nil {
				return err
			}
			res, err := export.Export(ctx, a.journal, sink, time.Now())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func newVerifyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify [ref]",
		Short: "Verify a journal snapshot by reference or from a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				snap export.Snapshot
				err  error
			)
			switch {
			case file != "":
				data, rerr := os.ReadFile(file) //nolint:gosec // operator-supplied path
				if rerr != nil {
					return rerr
				}
				if snap, err = export.Decode(data); err == nil {
					err = export.Verify(snap)
				}
			case len(args) == 1:
				cfg, cerr := config.Load()
				if cerr != nil {
					return cerr
				}
				sink, serr := export.NewStore(cmd.Context(), cfg.Export)
				if serr != nil {
					return serr
				}
				snap, err = export.Load(cmd.Context(), sink, args[0])
			default:
				return &usageError{fmt.Errorf("a snapshot reference or --file is required")}
			}
			if err != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "INVALID: %v\n", err)
				return fmt.Errorf("snapshot verification failed")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "VALID: %d entries, head %s (format %s)\n",
				len(snap.Entries), snap.Head.Hash, snap.FormatVersion)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "snapshot file to verify")
	return cmd
}
