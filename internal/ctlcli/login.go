package ctlcli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/incidenthub/incidenthub/internal/ctlsession"
	"github.com/incidenthub/incidenthub/internal/restclient"
	promptcli "github.com/incidenthub/incidenthub/pkg/cli"
)

func newLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login <server-url>",
		Short: "Authenticate against an incidenthub server and save the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL := args[0]
			p := promptcli.DefaultPrompter()

			if email == "" {
				email = p.Ask("Email", "")
			}
			if password == "" {
				password = p.AskPassword("Password")
			}

			rc := restclient.New(baseURL)
			token, err := rc.Login(context.Background(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			path := sessionPath(cmd)
			if err := ctlsession.Save(path, ctlsession.Session{BaseURL: baseURL, Token: token}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			cmd.Printf("Logged in to %s. Session saved to %s\n", baseURL, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted if omitted)")

	return cmd
}
