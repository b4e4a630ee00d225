package main

import (
	"github.com/go-kit/log"
	"github.com/spf13/cobra"
)

func newRmCmd(logger log.Logger, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <physical-log-id>",
		Short: "Close and delete a physical log's on-disk state entirely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			// Delete operates on the manager's in-memory table, so the
			// physical log must be tracked first; release the handle
			// acquired to track it immediately, otherwise the wrapper's
			// own close would block forever waiting on this handle's
			// activity to drain.
			plHandle, err := mgr.OpenPhysicalLog(ctx, h, physID)
			if err != nil {
				return err
			}
			if err := plHandle.Close(ctx); err != nil {
				return err
			}
			if err := mgr.DeletePhysicalLog(ctx, h, physID); err != nil {
				return err
			}
			cmd.Printf("deleted physical log %s\n", physID)
			return nil
		},
	}
	return cmd
}
