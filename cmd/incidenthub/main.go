// Command incidenthub runs the incidenthub server: authentication, the
// REST API, and the real-time session WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/incidenthub/incidenthub/internal/cli"
)

var version = "dev"

func main() {
	root := cli.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
