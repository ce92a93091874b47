package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"vale/internal/broker"
	"vale/internal/pubsub"
)

var (
	requestRedisURL string
	requestTimeout  time.Duration
)

var requestCmd = &cobra.Command{
	Use:   "request <user-id> <kind> [params-json]",
	Short: "Issue a native request to a user's device",
	Long: `Publishes an action request on the bus and waits for the correlated
result from the user's device. Prints the resolved string: the device's
message on success, a failure message, or the timeout sentinel when the
device does not answer in time.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		kind := args[1]
		params := "{}"
		if len(args) == 3 {
			params = args[2]
		}

		bus, err := pubsub.NewRedisBus(requestRedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis bus: %w", err)
		}
		defer bus.Close()

		b := broker.NewBroker(bus)
		b.SetTimeout(requestTimeout)
		if err := b.Start(); err != nil {
			return fmt.Errorf("failed to start broker: %w", err)
		}
		defer b.Stop()

		result, err := b.IssueRequest(context.Background(), userID, kind, params)
		if err != nil {
			return err
		}

		cmd.Println(result)
		return nil
	},
}

func init() {
	requestCmd.Flags().StringVarP(&requestRedisURL, "redis", "r", "redis://localhost:6379/0", "redis URL")
	requestCmd.Flags().DurationVarP(&requestTimeout, "timeout", "t", broker.DefaultRequestTimeout, "how long to wait for the device result")
}
