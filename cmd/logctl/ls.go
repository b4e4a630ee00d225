package main

import (
	"os"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newLsCmd(logger log.Logger, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [physical-log-id]",
		Short: "List physical logs under the work directory, or logical logs within one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) == 0 {
				entries, err := os.ReadDir(flags.workDir)
				if os.IsNotExist(err) {
					return nil
				}
				if err != nil {
					return err
				}
				for _, e := range entries {
					if !e.IsDir() {
						continue
					}
					if _, err := uuid.Parse(e.Name()); err != nil {
						continue
					}
					cmd.Println(e.Name())
				}
				return nil
			}

			physID, err := parseLogID(args[0])
			if err != nil {
				return err
			}

			mgr, h, err := openManager(ctx, logger, flags)
			if err != nil {
				return err
			}
			defer mgr.Close(ctx)
			defer h.Close()

			plHandle, err := mgr.OpenPhysicalLog(ctx, h, physID)
			if err != nil {
				return err
			}
			defer plHandle.Close(ctx)

			ids, err := plHandle.PhysicalLog().EnumerateStoredLogicalLogIDs(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				cmd.Println(id)
			}
			return nil
		},
	}
	return cmd
}
