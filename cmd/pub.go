package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/courier/client"
)

var (
	// Reply subject sent with each message
	pubReply string

	// How many times the message is published
	pubCount int

	// Wait for a reply instead of publishing fire and forget
	pubRequest bool
)

func init() {
	flags := PubCmd.Flags()

	flags.StringVarP(&pubReply, "reply", "r", "", "The reply subject to send with the message")
	flags.IntVarP(&pubCount, "count", "c", 1, "How many times to publish the message")
	flags.BoolVar(&pubRequest, "request", false, "Send a request and print the first reply")
}

var PubCmd = &cobra.Command{
	Use:   "pub <subject> [message]",
	Short: "Publish a message",
	Long: `Publish a message and wait for the server to process it

Usage
	courier pub orders.new '{"id": 1}'
	courier pub --request time.now

`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}
		defer log.Sync()

		subject := args[0]

		var payload []byte
		if len(args) > 1 {
			payload = []byte(args[1])
		}

		connectCtx, cancel := context.WithTimeout(ctx, conf.DialTimeout)
		defer cancel()

		conn, err := client.Connect(connectCtx, clientOptions(conf, log))
		if err != nil {
			return err
		}
		defer conn.Close()

		if pubRequest {
			msg, err := conn.Request(ctx, subject, payload)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Received on %q: %s\n", msg.Subject, msg.Data)
			return nil
		}

		for i := 0; i < pubCount; i++ {
			if err := conn.PublishRequest(subject, pubReply, payload); err != nil {
				return err
			}
		}

		// Returns once the server has seen every PUB
		if err := conn.Ping(ctx); err != nil {
			return err
		}

		log.Info("Published",
			zap.String("subject", subject),
			zap.Int("count", pubCount),
			zap.Int("bytes", len(payload)))

		return nil
	},
}
