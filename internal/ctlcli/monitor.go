package ctlcli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/incidenthub/incidenthub/internal/ctlsession"
	"github.com/incidenthub/incidenthub/internal/tui/dashboard"
)

func newMonitorCmd() *cobra.Command {
	var insecureTLS bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Attach the live incident monitor dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctlsession.Load(sessionPath(cmd))
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			if sess.Token == "" || sess.BaseURL == "" {
				return fmt.Errorf("not logged in; run `incidentctl login <server-url>` first")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return dashboard.Run(ctx, sess.BaseURL, sess.Token, insecureTLS)
		},
	}

	cmd.Flags().BoolVar(&insecureTLS, "insecure-tls", false, "skip TLS certificate verification")

	return cmd
}
