package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/nhirsama/rmcs-client/internal/server"
	"github.com/r3labs/sse/v2"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print token events from the server until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv()
		if err != nil {
			return err
		}
		s, err := env.session()
		if err != nil {
			return err
		}
		apiID, err := env.apiID()
		if err != nil {
			return err
		}
		t, ok := s.Token(apiID)
		if !ok {
			return fmt.Errorf("session has no token for api %s", apiID)
		}

		c := sse.NewClient(strings.TrimRight(env.conn.BaseURL(), "/") + "/events")
		c.Headers["Authorization"] = "Bearer " + t.AccessToken

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		out := cmd.OutOrStdout()
		err = c.SubscribeWithContext(ctx, server.EventStream, func(ev *sse.Event) {
			fmt.Fprintf(out, "%s\t%s\n", ev.Event, ev.Data)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	eventsCmd.Flags().StringVarP(&usernameFlag, "username", "u", "", "User name of the cached session")
	eventsCmd.Flags().StringVar(&apiFlag, "api", "", "Auth API id, overrides client.json")
	rootCmd.AddCommand(eventsCmd)
}
