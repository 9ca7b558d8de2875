// Command protorelay runs a relay node that answers IDENTIFY and
// CLUSTER_<id> requests on the configured bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/protorelay"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	conf, err := protorelay.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return 2
	}
	if err := parseFlags(conf, args); err != nil {
		logger.Error("Invalid flags", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := protorelay.NewService(conf, protorelay.NewSlogServiceLogger(logger), protorelay.ServiceDependencies{
		Hooks: protorelay.LoggingHooks(protorelay.NewSlogServiceLogger(logger.With("component", "hooks"))),
	})
	svc.Discover(protorelay.BuiltinEndpoints()...)

	if err := svc.Start(ctx); err != nil {
		var connErr *protorelay.ConnectError
		if errors.As(err, &connErr) {
			logger.Error("Could not connect to the bus", "transport", connErr.Transport, "error", connErr.Err)
			return 1
		}
		logger.Error("Relay exited", "error", err)
		return 1
	}
	return 0
}

// parseFlags overrides environment configuration with command line flags.
func parseFlags(conf *protorelay.Config, args []string) error {
	fs := flag.NewFlagSet("protorelay", flag.ContinueOnError)
	fs.StringVar(&conf.PubSubSystem, "transport", conf.PubSubSystem, "bus to use: redis, nats, rabbitmq or channel")
	fs.StringVar(&conf.ClusterID, "cluster-id", conf.ClusterID, "identifier reported in every reply")
	fs.StringVar(&conf.RedisURL, "redis-url", conf.RedisURL, "redis connection URL")
	fs.StringVar(&conf.RedisAddr, "redis-addr", conf.RedisAddr, "redis host:port, used when no URL is set")
	fs.StringVar(&conf.NATSURL, "nats-url", conf.NATSURL, "NATS server URL")
	fs.StringVar(&conf.RabbitMQURL, "rabbitmq-url", conf.RabbitMQURL, "AMQP connection URL")
	fs.DurationVar(&conf.HandlerTimeout, "handler-timeout", conf.HandlerTimeout, "deadline for a single handler")
	fs.DurationVar(&conf.ShutdownTimeout, "shutdown-timeout", conf.ShutdownTimeout, "how long to drain in-flight handlers")
	fs.IntVar(&conf.MaxInFlight, "max-in-flight", conf.MaxInFlight, "concurrent handler cap, 0 for none")
	fs.BoolVar(&conf.MetricsEnabled, "metrics", conf.MetricsEnabled, "serve /metrics and /healthz")
	fs.IntVar(&conf.MetricsPort, "metrics-port", conf.MetricsPort, "port for /metrics and /healthz")
	fs.BoolVar(&conf.TracingEnabled, "tracing", conf.TracingEnabled, "emit OpenTelemetry spans per request")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return nil
}
