package cmd

import (
	"github.com/spf13/cobra"

	"github.com/julienstroheker/hexagent/gateway/http/handlers"
	"github.com/julienstroheker/hexagent/gateway/management"
)

var (
	gatewayURLFlag  string
	versionFlag     string
	permitMajorFlag bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and control agent sessions of a running gateway",
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.PersistentFlags().StringVar(&gatewayURLFlag, "gateway", "http://localhost:8080", "Base URL of the gateway")

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the ids of connected sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := managementClient()
			if err != nil {
				return err
			}
			ids, err := c.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				cmd.Println(id)
			}
			return nil
		},
	})

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "drop <session-id>",
		Short: "Cut the transport of a session; the agent reconnects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := managementClient()
			if err != nil {
				return err
			}
			return c.Drop(cmd.Context(), args[0])
		},
	})

	for _, name := range []string{management.CommandStop, management.CommandRestart, management.CommandUpdate} {
		command := name
		sub := &cobra.Command{
			Use:   command + " <session-id>",
			Short: "Ask an agent session to " + command,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := managementClient()
				if err != nil {
					return err
				}
				return c.Command(cmd.Context(), args[0], command, &handlers.CommandRequest{
					Version:            versionFlag,
					PermitMajorVersion: permitMajorFlag,
				})
			},
		}
		if command == management.CommandUpdate {
			sub.Flags().StringVar(&versionFlag, "version", "", "Version to update to")
			sub.Flags().BoolVar(&permitMajorFlag, "permit-major", false, "Allow a major version change")
		}
		sessionsCmd.AddCommand(sub)
	}
}

func managementClient() (*management.Client, error) {
	return management.NewClient(&management.Options{
		BaseURL:   gatewayURLFlag,
		Authtoken: GetConfig().Authtoken,
		Logger:    GetLogger(),
	})
}
