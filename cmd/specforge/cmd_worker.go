package main

import (
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued chat runs from RabbitMQ",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := amqp.Dial(a.cfg.RabbitURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// prefetch matches the pool size
	concurrency := a.cfg.WorkerConcurrency
	deliveries, err := worker.Consume(ctx, ch, a.cfg.RabbitQueue, concurrency)
	if err != nil {
		return err
	}

	a.logger.Info("worker started", zap.String("queue", a.cfg.RabbitQueue), zap.Int("concurrency", concurrency))
	pool := &worker.Pool{Handler: a.coord.Run, Concurrency: concurrency, Logger: a.logger}
	pool.Serve(ctx, deliveries)
	a.coord.Wait()
	return nil
}
