// Command nvs is a host-side harness for the tinynvs store. It keeps the
// flash contents in an image file and exposes the store's operations as
// subcommands, an interactive shell and a gRPC server.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
