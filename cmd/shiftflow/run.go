package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/shiftflow/pkg/cmd"
	"github.com/dukex/shiftflow/pkg/log"
	"github.com/dukex/shiftflow/pkg/otelhelper"
	"github.com/dukex/shiftflow/pkg/scheduler"
	"github.com/dukex/shiftflow/pkg/sideshift"
	"github.com/dukex/shiftflow/pkg/signals"
	"github.com/dukex/shiftflow/pkg/swap"
	"github.com/gofiber/fiber/v3"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API and the workflow scheduler",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file://<dir>, memory://, postgres://, redis://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "check-interval",
				Usage:   "How often active workflows are checked",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("CHECK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "max-concurrency",
				Usage:   "Workflows checked at once within a tick",
				Value:   scheduler.DefaultMaxConcurrency,
				Sources: cli.EnvVars("MAX_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often a shift status is polled",
				Value:   swap.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "monitor-timeout",
				Usage:   "How long a shift is monitored before giving up",
				Value:   swap.DefaultTimeout,
				Sources: cli.EnvVars("MONITOR_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "signal-cache-ttl",
				Usage:   "Staleness window of cached price, gas and balance readings",
				Value:   signals.DefaultCacheTTL,
				Sources: cli.EnvVars("SIGNAL_CACHE_TTL"),
			},
			&cli.StringFlag{
				Name:    "signal-cache-url",
				Usage:   "Redis URL of a shared signal cache (in-process cache when empty)",
				Sources: cli.EnvVars("SIGNAL_CACHE_URL"),
			},
			&cli.StringFlag{
				Name:    "sideshift-url",
				Usage:   "Swap provider API base URL",
				Value:   sideshift.DefaultBaseURL,
				Sources: cli.EnvVars("SIDESHIFT_URL"),
			},
			&cli.StringFlag{
				Name:    "sideshift-secret",
				Usage:   "Swap provider account secret",
				Sources: cli.EnvVars("SIDESHIFT_SECRET"),
			},
			&cli.StringFlag{
				Name:    "sideshift-affiliate-id",
				Usage:   "Swap provider affiliate id",
				Sources: cli.EnvVars("SIDESHIFT_AFFILIATE_ID"),
			},
			&cli.StringFlag{
				Name:    "coingecko-api-key",
				Usage:   "CoinGecko pro API key",
				Sources: cli.EnvVars("COINGECKO_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "etherscan-api-key",
				Sources: cli.EnvVars("ETHERSCAN_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "polygonscan-api-key",
				Sources: cli.EnvVars("POLYGONSCAN_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "arbiscan-api-key",
				Sources: cli.EnvVars("ARBISCAN_API_KEY"),
			},
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "JSON-RPC endpoint as network=url (a bare url is ethereum)",
				Sources: cli.EnvVars("RPC_URLS"),
			},
			&cli.StringFlag{
				Name:    "safe-service-url",
				Usage:   "Safe transaction service URL; enables multi-sig workflows with --signer-url",
				Sources: cli.EnvVars("SAFE_SERVICE_URL"),
			},
			&cli.StringFlag{
				Name:    "signer-url",
				Usage:   "Signing service holding the Safe owner key",
				Sources: cli.EnvVars("SIGNER_URL"),
			},
			&cli.StringFlag{
				Name:    "signer-address",
				Usage:   "Safe owner address of the signing service",
				Sources: cli.EnvVars("SIGNER_ADDRESS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level"), command.String("log-format"))

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if command.Bool("tracing") {
				tracerProvider, err := otelhelper.InitTracer(ctx, "shiftflow")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					err := tracerProvider.Shutdown(context.WithoutCancel(ctx))
					if err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			logger.InfoContext(ctx, "Initializing shiftflow")

			app, err := newApp(ctx, logger, configFromCommand(command))
			if err != nil {
				return err
			}

			defer app.Close(context.WithoutCancel(ctx))

			err = app.bus.Subscribe(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to execution events: %w", err)
			}

			app.engine.StartMonitoring(ctx, command.Duration("check-interval"))

			server := NewAPI(logger, app.engine).App()
			serveErr := make(chan error, 1)

			go func() {
				serveErr <- server.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{
					DisableStartupMessage: true,
				})
			}()

			logger.InfoContext(ctx, "API listening", "port", command.Int("port"))

			select {
			case <-ctx.Done():
			case err = <-serveErr:
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.ErrorContext(ctx, "API server stopped", "error", err)
				}
			}

			logger.InfoContext(ctx, "Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			err = server.ShutdownWithContext(shutdownCtx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to stop API server", "error", err)
			}

			return app.engine.Shutdown(shutdownCtx)
		},
	}
}

func configFromCommand(command *cli.Command) config {
	return config{
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		Scheduler: scheduler.Config{
			Interval:       command.Duration("check-interval"),
			MaxConcurrency: command.Int("max-concurrency"),
		},
		Swap: swap.Config{
			PollInterval: command.Duration("poll-interval"),
			Timeout:      command.Duration("monitor-timeout"),
		},
		Signals: cmd.SignalOptions{
			CacheTTL:        command.Duration("signal-cache-ttl"),
			CacheURL:        command.String("signal-cache-url"),
			CoinGeckoAPIKey: command.String("coingecko-api-key"),
			EtherscanKey:    command.String("etherscan-api-key"),
			PolygonscanKey:  command.String("polygonscan-api-key"),
			ArbiscanKey:     command.String("arbiscan-api-key"),
			RPCEndpoints:    command.StringSlice("rpc-url"),
		},
		SideShiftURL:         command.String("sideshift-url"),
		SideShiftSecret:      command.String("sideshift-secret"),
		SideShiftAffiliateID: command.String("sideshift-affiliate-id"),
		SafeServiceURL:       command.String("safe-service-url"),
		SignerURL:            command.String("signer-url"),
		SignerAddress:        command.String("signer-address"),
	}
}
