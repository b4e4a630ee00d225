package main

import (
	"github.com/go-kit/log"
	"github.com/spf13/cobra"
)

func newStatusCmd(logger log.Logger, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <physical-log-id>",
		Short: "Print build, usage, and size information for a physical log",
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

			plHandle, err := mgr.OpenPhysicalLog(ctx, h, physID)
			if err != nil {
				return err
			}
			defer plHandle.Close(ctx)
			pl := plHandle.PhysicalLog()

			build, err := pl.QueryBuildInformation(ctx)
			if err != nil {
				return err
			}
			usage, err := pl.QueryLogUsageInformation(ctx)
			if err != nil {
				return err
			}
			size, err := pl.QuerySizeInformation(ctx)
			if err != nil {
				return err
			}
			streamIDs, err := pl.EnumerateStoredLogicalLogIDs(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("build number:    %d (free build: %t)\n", build.BuildNumber, build.IsFreeBuild)
			cmd.Printf("log usage:       %d%%\n", usage.PercentageLogUsage)
			cmd.Printf("log size:        %d bytes (space remaining: %d)\n", size.LogSize, size.SpaceRemaining)
			cmd.Printf("logical logs:    %d\n", len(streamIDs))
			cmd.Printf("open in process: %d\n", len(pl.LogicalLogIDs()))
			return nil
		},
	}
	return cmd
}
