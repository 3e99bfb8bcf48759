// Command sync-engine-server runs the collaborative-state sync server, or
// the operator dashboard against one, depending on the subcommand.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := Run(); err != nil {
		slog.Error("FATAL", "err", err)
		os.Exit(1)
	}
}
