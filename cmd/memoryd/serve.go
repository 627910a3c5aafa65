package main

import (
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/bot"
	"github.com/xaenox/memory-service/internal/scheduler"
)

const serveLongDesc string = `Run the long-lived parts of the memory service: the analytics writer,
the daily aggregation and event pruning jobs and, when a Telegram token is
configured, the operator bot. Stops on SIGINT or SIGTERM.`

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run maintenance jobs and the operator bot",
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(cmd, a)
		},
	}
}

func runServe(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()

	if a.cfg.Scheduler.Enabled {
		sched := scheduler.New(a.tracker, scheduler.Config{
			AggregateSpec: a.cfg.Scheduler.Aggregate,
			CleanupSpec:   a.cfg.Scheduler.Cleanup,
		}, a.logger.Named("scheduler"))
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	var wg sync.WaitGroup
	if a.cfg.Telegram.Token != "" {
		b, err := bot.New(a.cfg.Telegram.Token, a.service, a.cfg.Telegram.AllowedUsers, a.logger.Named("bot"))
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Start(ctx); err != nil {
				a.logger.Error("Bot error", zap.Error(err))
			}
		}()
	} else {
		a.logger.Info("No Telegram token configured, operator bot disabled")
	}

	a.logger.Info("memoryd running")
	<-ctx.Done()
	a.logger.Info("Shutting down")
	wg.Wait()
	return nil
}
