// Package main provides the sweeper process: it wakes due waiting
// executions, times out overrunning runs and fires due schedules.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/vendelabs/fluxo/pkg/cmd"
	"github.com/vendelabs/fluxo/pkg/dispatch"
	"github.com/vendelabs/fluxo/pkg/engine"
	"github.com/vendelabs/fluxo/pkg/log"
	"github.com/vendelabs/fluxo/pkg/scheduler"
	"github.com/vendelabs/fluxo/pkg/triggers"
)

func main() {
	logger := log.WithModule("fluxo-scheduler")

	command := &cli.Command{
		Name:                  "fluxo-scheduler",
		Usage:                 "Run the sweeper for delays, timeouts and cron schedules",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Sweep interval",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "max-execution-duration",
				Usage:   "How long a run may stay non-terminal before it is timed out",
				Value:   scheduler.DefaultMaxExecutionDuration,
				Sources: cli.EnvVars("MAX_EXECUTION_DURATION"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Fluxo Scheduler")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			// The scheduler never dispatches actions itself; the empty
			// registry only serves the engine's Resume and TimeOut paths.
			registry := cmd.NewRegistry(logger, "")
			dispatcher := dispatch.NewDispatcher(logger, registry, persistence.DispatchRepository())
			eng := engine.NewEngine(logger, persistence, dispatcher, eventBus)
			router := triggers.NewRouter(logger, persistence, eventBus)

			sweeper := scheduler.NewSweeper(
				logger,
				persistence,
				eng,
				router,
				command.Duration("interval"),
				command.Duration("max-execution-duration"),
			)

			if err := sweeper.Start(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Scheduler started successfully")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down scheduler...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return sweeper.Stop(shutdownCtx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
