package main

import (
	"context"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liftbridge-io/logicallog/internal/manager"
	"github.com/liftbridge-io/logicallog/internal/metrics"
)

// rootFlags holds the flags shared by every subcommand: where the manager's
// physical logs live on disk and which replica id to open handles under.
type rootFlags struct {
	workDir   string
	replica   string
	outOfProc bool
}

func newRootCmd(logger log.Logger) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "logctl",
		Short:         "Inspect and poke a logical log manager from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.workDir, "workdir", ".logctl", "directory the manager's physical logs are rooted under")
	root.PersistentFlags().StringVar(&flags.replica, "replica-id", "", "replica id handles are opened under (defaults to a random id)")
	root.PersistentFlags().BoolVar(&flags.outOfProc, "outofproc", false, "request the out-of-process driver (downgrades to in-process; see manager.New)")

	root.AddCommand(
		newCreateCmd(logger, flags),
		newAppendCmd(logger, flags),
		newReadCmd(logger, flags),
		newTruncateCmd(logger, flags),
		newLsCmd(logger, flags),
		newRmCmd(logger, flags),
		newStatusCmd(logger, flags),
	)
	return root
}

// openManager constructs a Manager and a Handle scoped to flags.replica, in
// the mode flags.outOfProc selects. Callers are responsible for closing
// both in reverse order.
func openManager(ctx context.Context, logger log.Logger, flags *rootFlags) (*manager.Manager, *manager.Handle, error) {
	mode := manager.InProc
	if flags.outOfProc {
		mode = manager.OutOfProc
	}

	mx := metrics.New(nil)
	mgr, err := manager.New(manager.Config{Mode: mode}, logger, mx)
	if err != nil {
		return nil, nil, err
	}

	replicaID := uuid.Nil
	if flags.replica != "" {
		replicaID, err = uuid.Parse(flags.replica)
		if err != nil {
			_ = mgr.Close(ctx)
			return nil, nil, err
		}
	} else {
		replicaID = uuid.New()
	}

	h, err := mgr.GetHandle(replicaID, flags.workDir)
	if err != nil {
		_ = mgr.Close(ctx)
		return nil, nil, err
	}
	return mgr, h, nil
}

// parseLogID parses a logical/physical log id argument, treating the empty
// string and the literal "default" as the well-known default application
// shared log id (spec.md §4.6).
func parseLogID(s string) (uuid.UUID, error) {
	if s == "" || s == "default" {
		return manager.DefaultApplicationSharedLogID, nil
	}
	return uuid.Parse(s)
}
