package main

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/liftbridge-io/logicallog/internal/logicallog"
)

func newReadCmd(logger log.Logger, flags *rootFlags) *cobra.Command {
	var (
		offset int64
		length int64
	)
	cmd := &cobra.Command{
		Use:   "read <physical-log-id> <logical-log-id>",
		Short: "Read bytes from a logical log starting at an offset and write them to stdout",
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

			rs, err := ll.NewReadStream(offset)
			if err != nil {
				return err
			}
			defer rs.Close()

			remaining := length
			if remaining <= 0 {
				remaining = ll.NextWritePosition() - offset
			}
			buf := make([]byte, 32*1024)
			for remaining > 0 {
				n := int64(len(buf))
				if remaining < n {
					n = remaining
				}
				read, err := rs.Read(ctx, buf[:n])
				if read > 0 {
					if _, werr := os.Stdout.Write(buf[:read]); werr != nil {
						return werr
					}
					remaining -= int64(read)
				}
				if err == io.EOF || err == logicallog.ErrTransientIO {
					break
				}
				if err != nil {
					return err
				}
				if read == 0 {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "0-based stream offset to start reading from")
	cmd.Flags().Int64Var(&length, "length", 0, "number of bytes to read (0 reads to the current write position)")
	return cmd
}
