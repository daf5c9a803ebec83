package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/courier/client"
	"github.com/luma/courier/cmd/gen"
	"github.com/luma/courier/internal/env"
	"github.com/luma/courier/transport"
)

var (
	// Overrides COURIER_URL when set
	serverURL string

	// Overrides COURIER_NAME when set
	connName string
)

var RootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Publish and subscribe over the NATS text protocol",
	Long: `Courier is a small client for servers speaking the NATS text protocol.

Configuration is read from COURIER_* environment variables, and from a
.env.local file in the working directory when there is one.`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&serverURL, "url", "s", "", "The server to connect to, e.g. nats://127.0.0.1:4222")
	flags.StringVar(&connName, "name", "", "The connection name reported to the server")

	RootCmd.AddCommand(PubCmd)
	RootCmd.AddCommand(SubCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and builds the
// logger every command uses.
func setup(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	if serverURL != "" {
		conf.URL = serverURL
	}

	if connName != "" {
		conf.Name = connName
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("Failed to parse log level '%s': %w", conf.LogLevel, err)
	}

	return conf, log, nil
}

func clientOptions(conf *env.Config, log *zap.Logger) client.Options {
	return client.Options{
		URL:          conf.URL,
		Name:         conf.Name,
		User:         conf.User,
		Pass:         conf.Pass,
		Token:        conf.Token,
		Verbose:      conf.Verbose,
		Pedantic:     conf.Pedantic,
		MaxPayload:   conf.MaxPayload,
		PingInterval: conf.PingInterval,
		MaxPingsOut:  conf.MaxPingsOut,
		Transport: transport.Options{
			DialTimeout: conf.DialTimeout,
			Trace:       conf.Trace,
			Log:         log.Named("transport"),
		},
		Log: log.Named("client"),
	}
}
