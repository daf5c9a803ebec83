package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/courier/client"
	"github.com/luma/courier/registry"
)

var (
	// Queue group to join, none when empty
	subQueue string

	// Exit after this many messages, never when zero
	subLimit int

	// The host the debug HTTP server listens on
	host string

	// The port to listen for debug http requests on, disabled when empty
	httpPort string
)

func init() {
	flags := SubCmd.Flags()

	flags.StringVarP(&subQueue, "queue", "q", "", "The queue group to join")
	flags.IntVarP(&subLimit, "limit", "n", 0, "Exit after receiving this many messages")
	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host the debug HTTP server listens on")
	flags.StringVar(&httpPort, "http-port", "", "The port to serve /ping, /stats and /metrics on")
}

var SubCmd = &cobra.Command{
	Use:   "sub <subject>",
	Short: "Subscribe to a subject and print what arrives",
	Long: `Subscribe to a subject and print every message that arrives

Usage
	courier sub 'orders.>'
	courier sub --queue workers --http-port 7362 jobs

`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}
		defer log.Sync()

		connectCtx, cancel := context.WithTimeout(ctx, conf.DialTimeout)
		defer cancel()

		conn, err := client.Connect(connectCtx, clientOptions(conf, log))
		if err != nil {
			return err
		}
		defer conn.Close()

		subject := args[0]
		out := cmd.OutOrStdout()
		limitReached := make(chan struct{})

		var received int64
		handler := registry.HandlerFunc(func(msg *registry.Message) error {
			n := atomic.AddInt64(&received, 1)

			fmt.Fprintf(out, "[#%d] Received on %q", n, msg.Subject)
			if msg.Reply != "" {
				fmt.Fprintf(out, " (reply %q)", msg.Reply)
			}
			fmt.Fprintf(out, ": %s\n", msg.Data)

			if subLimit > 0 && n == int64(subLimit) {
				close(limitReached)
			}

			return nil
		})

		sub, err := conn.QueueSubscribe(subject, subQueue, handler)
		if err != nil {
			return err
		}

		if subLimit > 0 {
			if err := conn.AutoUnsubscribe(sub, subLimit); err != nil {
				return err
			}
		}

		var s *http.Server
		if httpPort != "" {
			router, err := setupRouter(conn, conf.Name, conf.DebugHTTP, log.Named("http"))
			if err != nil {
				return err
			}

			listener, err := reuseport.Listen("tcp", net.JoinHostPort(host, httpPort))
			if err != nil {
				return err
			}

			s = &http.Server{Handler: router}

			// Serving in a goroutine so that it won't block the shutdown
			// handling below
			go func() {
				if err := s.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("Listening",
			zap.String("url", conf.URL),
			zap.String("subject", subject),
			zap.String("queue", subQueue),
			zap.String("httpPort", httpPort))

		select {
		case <-ctx.Done():
			// Restore default behavior on the interrupt signal and notify user of shutdown.
			signalStop()
			log.Info("Shutting down gracefully, press Ctrl+C again to force")

		case <-limitReached:
			log.Info("Message limit reached", zap.Int("limit", subLimit))

		case <-conn.Done():
			err = conn.Err()
			log.Error("Connection lost", zap.Error(err))
		}

		if s != nil {
			// The server has 5 seconds to finish the request it is currently
			// handling
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s.SetKeepAlivesEnabled(false)

			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		log.Info("Exiting", zap.Any("stats", conn.Stats()))
		return err
	},
}
