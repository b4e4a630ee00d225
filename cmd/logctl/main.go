// Command logctl is a thin operational CLI over a logical log manager: it
// opens a process-local manager rooted at a work directory, and exposes
// create/append/read/truncate/status/ls/rm subcommands for inspecting and
// poking a container from the command line. It is not part of the core
// library surface; it exists to exercise the manager/physicallog API end to
// end and to give an operator something to run by hand.
package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
)

func main() {
	logger := log.NewLogfmtLogger(os.Stderr)
	if err := newRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
