package main

import (
	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/liftbridge-io/logicallog/internal/codec"
)

func newCreateCmd(logger log.Logger, flags *rootFlags) *cobra.Command {
	var (
		alias        string
		maxSize      int64
		maxBlockSize uint32
	)
	cmd := &cobra.Command{
		Use:   "create <physical-log-id> <logical-log-id>",
		Short: "Create a physical log (if needed) and a logical log stream within it",
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

			plHandle, err := mgr.CreateAndOpenPhysicalLog(ctx, h, physID, maxSize, 0)
			if err != nil {
				return err
			}
			defer plHandle.Close(ctx)

			ll, err := plHandle.PhysicalLog().OnCreateAndOpenLogicalLog(ctx, plHandle, logID, alias, maxSize, maxBlockSize)
			if err != nil {
				return err
			}
			defer plHandle.PhysicalLog().OnCloseLogicalLog(ctx, logID)

			cmd.Printf("created logical log %s in physical log %s\n", logID, physID)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "", "human-readable alias to bind to the new logical log")
	cmd.Flags().Int64Var(&maxSize, "max-size", 64<<20, "maximum physical log size in bytes")
	cmd.Flags().Uint32Var(&maxBlockSize, "max-block-size", uint32(codec.MetadataBlockSize*4), "maximum metadata+extent block size in bytes")
	return cmd
}
