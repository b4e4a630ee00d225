package main

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"
)

func newAppendCmd(logger log.Logger, flags *rootFlags) *cobra.Command {
	var (
		data   string
		marker bool
	)
	cmd := &cobra.Command{
		Use:   "append <physical-log-id> <logical-log-id>",
		Short: "Append bytes to a logical log and flush them",
		Args:  cobra.ExactArgs(2),
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

			payload := []byte(data)
			if data == "" {
				payload, err = io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
			}

			if len(payload) > 0 {
				if err := ll.Append(ctx, payload, 0, len(payload)); err != nil {
					return err
				}
			}
			if marker {
				if err := ll.FlushWithMarker(ctx); err != nil {
					return err
				}
			} else if err := ll.Flush(ctx); err != nil {
				return err
			}

			cmd.Printf("appended %d bytes, next write position %d\n", len(payload), ll.NextWritePosition())
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "bytes to append (reads stdin if empty)")
	cmd.Flags().BoolVar(&marker, "marker", false, "flush with the barrier (end-of-logical-record) flag set; with no bytes appended this writes an empty barrier record")
	return cmd
}
