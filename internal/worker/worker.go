package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/coordinator"
	"github.com/suPer8Hu/specforge/internal/store/rabbitmq"
)

// Handler runs one job. coordinator.Coordinator.Run satisfies it.
type Handler func(ctx context.Context, job coordinator.Job) error

// Delivery is the part of an AMQP delivery the pool needs.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack() error
}

type amqpDelivery struct{ d amqp.Delivery }

func (a amqpDelivery) Body() []byte { return a.d.Body }
func (a amqpDelivery) Ack() error   { return a.d.Ack(false) }

// Nack without requeue routes the message to the dead-letter queue.
func (a amqpDelivery) Nack() error { return a.d.Nack(false, false) }

type Pool struct {
	Handler     Handler
	Concurrency int
	Logger      *zap.Logger
}

// Serve fans deliveries out to Concurrency goroutines until ctx ends or the
// delivery channel closes, then waits for in-flight jobs.
func (p *Pool) Serve(ctx context.Context, deliveries <-chan Delivery) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	n := p.Concurrency
	if n <= 0 {
		n = 1
	}

	jobs := make(chan Delivery, n*2)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				p.handle(ctx, log.With(zap.Int("worker", workerID)), d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (p *Pool) handle(ctx context.Context, log *zap.Logger, d Delivery) {
	var job coordinator.Job
	if err := json.Unmarshal(d.Body(), &job); err != nil || job.RunID == "" || job.ProjectID == "" {
		if err == nil {
			err = errors.New("missing run_id or project_id")
		}
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack()
		return
	}

	start := time.Now()
	if err := p.Handler(ctx, job); err != nil {
		log.Warn("run failed", zap.String("run_id", job.RunID), zap.Duration("cost", time.Since(start)), zap.Error(err))
		_ = d.Nack()
		return
	}
	if err := d.Ack(); err != nil {
		log.Warn("ack failed", zap.String("run_id", job.RunID), zap.Error(err))
	}
	log.Info("run done", zap.String("run_id", job.RunID), zap.Duration("cost", time.Since(start)))
}

// Consume declares the run queues, applies prefetch and adapts the AMQP
// delivery stream for Serve.
func Consume(ctx context.Context, ch *amqp.Channel, queue string, prefetch int) (<-chan Delivery, error) {
	if err := rabbitmq.DeclareTopology(ch, queue); err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for m := range msgs {
			select {
			case out <- amqpDelivery{d: m}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
