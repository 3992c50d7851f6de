// Package ctlcli implements incidentctl's cobra command tree: logging in
// to an incidenthub server and attaching the monitor dashboard to it.
package ctlcli

import (
	"github.com/spf13/cobra"

	"github.com/incidenthub/incidenthub/internal/ctlsession"
)

var version = "dev"

// NewRootCmd creates the root cobra command for incidentctl.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "incidentctl",
		Short:         "incidentctl — operator CLI for incidenthub",
		Long:          "incidentctl logs in to an incidenthub server and attaches a live terminal dashboard of its incidents, presence, and activity.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newLoginCmd())
	root.AddCommand(newMonitorCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().String("session", "", "path to session file (default ~/.incidentctl/session.json)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("incidentctl " + version)
			return nil
		},
	}
}

func sessionPath(cmd *cobra.Command) string {
	if f := cmd.Root().PersistentFlags().Lookup("session"); f != nil && f.Changed {
		return f.Value.String()
	}
	return ctlsession.DefaultPath()
}
