// Command incidentctl logs in to an incidenthub server and attaches a
// live terminal dashboard of its incidents, presence, and activity.
package main

import (
	"fmt"
	"os"

	"github.com/incidenthub/incidenthub/internal/ctlcli"
)

var version = "dev"

func main() {
	root := ctlcli.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
