package main

import (
	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTruncateCmd(logger log.Logger, flags *rootFlags) *cobra.Command {
	var (
		head int64
		tail int64
	)
	cmd := &cobra.Command{
		Use:   "truncate <physical-log-id> <logical-log-id>",
		Short: "Truncate the head or tail of a logical log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("head") == cmd.Flags().Changed("tail") {
				return errors.New("exactly one of --head or --tail must be given")
			}

			ctx := cmd.Context()
			mgr, h, err := openManager(ctx, logger, flags)
			if err != nil {
				return err
			}
			defer mgr.Close(ctx)
			defer h.Close()

			physID, err := parseLogID(args[0])
			if err != nil {
				return err
			}
			logID, err := parseLogID(args[1])
			if err != nil {
				return err
			}

			plHandle, err := mgr.OpenPhysicalLog(ctx, h, physID)
			if err != nil {
				return err
			}
			defer plHandle.Close(ctx)

			ll, err := plHandle.PhysicalLog().OnOpenLogicalLog(ctx, plHandle, logID)
			if err != nil {
				return err
			}
			defer plHandle.PhysicalLog().OnCloseLogicalLog(ctx, logID)

			if cmd.Flags().Changed("head") {
				if err := ll.TruncateHead(ctx, head); err != nil {
					return err
				}
				cmd.Printf("head truncation point now %d\n", ll.HeadTruncationPoint())
				return nil
			}
			if err := ll.TruncateTail(ctx, tail); err != nil {
				return err
			}
			cmd.Printf("next write position now %d\n", ll.NextWritePosition())
			return nil
		},
	}
	cmd.Flags().Int64Var(&head, "head", 0, "discard all bytes at or before this 0-based stream offset")
	cmd.Flags().Int64Var(&tail, "tail", 0, "discard all bytes at or after this 0-based stream offset")
	return cmd
}
