// Package main implements sabactl, the operator CLI for saba devices. It
// speaks the device topic protocol directly: it lists announced devices,
// invokes tools, writes InPorts, tails traffic and runs port routing tables.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kawaiiTaiga/project-SABA/config"
	"github.com/kawaiiTaiga/project-SABA/controller"
	"github.com/kawaiiTaiga/project-SABA/pkg/retry"
	"github.com/kawaiiTaiga/project-SABA/pkg/security"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

// These variables are set via ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	transport string
	host      string
	port      int
	username  string
	password  string
	clientID  string
	prefix    string
	tls       bool
	caFiles   []string
	timeout   time.Duration
	settle    time.Duration
	logLevel  string
	attempts  int

	stdout io.Writer
	stderr io.Writer

	// dial builds the transport client; tests replace it.
	dial func(o *globalOptions, logger *slog.Logger) (transport.Client, error)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newRootCmdWith(&globalOptions{stdout: stdout, stderr: stderr, dial: dialTransport})
}

func newRootCmdWith(o *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "sabactl",
		Short: "Operate saba devices over MQTT or NATS",
		Long: `sabactl talks to saba devices through the broker they are connected to.

Devices are discovered from their retained announce records, so every
command first connects, waits briefly for retained state and then acts.`,
		SilenceUsage: true,
	}
	root.SetOut(o.stdout)
	root.SetErr(o.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&o.transport, "transport", envOr("SABA_TRANSPORT", config.TransportMQTT), "Transport: mqtt, nats")
	pf.StringVar(&o.host, "host", envOr("SABA_ENDPOINT_HOST", "localhost"), "Broker host")
	pf.IntVar(&o.port, "port", 0, "Broker port (default 1883 for mqtt, 4222 for nats)")
	pf.StringVar(&o.username, "username", os.Getenv("SABA_USERNAME"), "Broker username")
	pf.StringVar(&o.password, "password", os.Getenv("SABA_PASSWORD"), "Broker password")
	pf.StringVar(&o.clientID, "client-id", "", "Client id (default sabactl-<pid>)")
	pf.StringVar(&o.prefix, "prefix", transport.DefaultPrefix, "Topic prefix")
	pf.BoolVar(&o.tls, "tls", false, "Connect with TLS")
	pf.StringSliceVar(&o.caFiles, "ca-file", nil, "CA certificate file for TLS (repeatable)")
	pf.DurationVar(&o.timeout, "timeout", controller.DefaultTimeout, "Time to wait for a tool result")
	pf.DurationVar(&o.settle, "settle", 2*time.Second, "Time to wait for retained device state after connecting")
	pf.StringVar(&o.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	pf.IntVar(&o.attempts, "connect-attempts", 0, "Connect attempts one second apart (default: quick backoff)")

	root.AddCommand(
		newDevicesCmd(o),
		newInvokeCmd(o),
		newSetPortCmd(o),
		newWatchCmd(o),
		newRouteCmd(o),
		newVersionCmd(o),
	)
	return root
}

func (o *globalOptions) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{Level: level}))
}

func (o *globalOptions) clientTLS() security.ClientTLSConfig {
	return security.ClientTLSConfig{Enabled: o.tls || len(o.caFiles) > 0, CAFiles: o.caFiles}
}

// connect dials the broker and starts a controller with opts.
func (o *globalOptions) connect(ctx context.Context, opts ...controller.Option) (*controller.Controller, error) {
	logger := o.logger()
	client, err := o.dial(o, logger)
	if err != nil {
		return nil, err
	}

	base := []controller.Option{
		controller.WithLogger(logger),
		controller.WithPrefix(strings.Trim(o.prefix, "/")),
		controller.WithTimeout(o.timeout),
	}
	if o.attempts > 0 {
		base = append(base, controller.WithRetry(retry.Fixed(time.Second, o.attempts)))
	}
	c, err := controller.New(client, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s broker %s: %w", o.transport, o.host, err)
	}
	return c, nil
}

// waitForDevice waits up to the settle time for id to appear in the store.
func (o *globalOptions) waitForDevice(ctx context.Context, c *controller.Controller, id string) bool {
	deadline := time.Now().Add(o.settle)
	for {
		if _, ok := c.Store().Get(id); ok {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// settleWait sleeps for the settle time so retained records arrive.
func (o *globalOptions) settleWait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(o.settle):
	}
}

func closeController(c *controller.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Close(ctx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newVersionCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(o.stdout, "sabactl version %s\n", Version)
			if Commit != "" && Commit != "unknown" {
				_, _ = fmt.Fprintf(o.stdout, "commit: %s\n", Commit)
			}
			if BuildDate != "" && BuildDate != "unknown" {
				_, _ = fmt.Fprintf(o.stdout, "built at: %s\n", BuildDate)
			}
			return nil
		},
	}
}
