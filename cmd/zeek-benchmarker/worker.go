package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeek/zeek-benchmarker/pkg/config"
	"github.com/zeek/zeek-benchmarker/pkg/queue"
	"github.com/zeek/zeek-benchmarker/pkg/store"
	"github.com/zeek/zeek-benchmarker/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a benchmark job worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Shutting down worker")
		cancel()
	}()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Store stop error")
		}
	}()

	runner, err := worker.NewDockerRunner(log)
	if err != nil {
		return fmt.Errorf("creating container runner: %w", err)
	}

	consumer := queue.NewConsumer(log, &cfg.Redis)
	defer consumer.Close()

	log.WithField("queue", cfg.Redis.Queue).Info("Worker starting")

	processor := worker.NewProcessor(log, cfg, runner, st)

	if err := processor.Run(ctx, consumer); err != nil &&
		!errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
