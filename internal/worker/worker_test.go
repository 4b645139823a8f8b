package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/suPer8Hu/specforge/internal/coordinator"
)

type fakeDelivery struct {
	body  string
	acked atomic.Bool
	nackd atomic.Bool
}

func (f *fakeDelivery) Body() []byte { return []byte(f.body) }
func (f *fakeDelivery) Ack() error   { f.acked.Store(true); return nil }
func (f *fakeDelivery) Nack() error  { f.nackd.Store(true); return nil }

func feed(ds ...*fakeDelivery) <-chan Delivery {
	ch := make(chan Delivery, len(ds))
	for _, d := range ds {
		ch <- d
	}
	close(ch)
	return ch
}

func TestServe_AcksAndNacks(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var seen []string
	pool := &Pool{
		Concurrency: 3,
		Handler: func(ctx context.Context, job coordinator.Job) error {
			mu.Lock()
			seen = append(seen, job.RunID)
			mu.Unlock()
			if job.RunID == "bad-run" {
				return errors.New("chain failed")
			}
			return nil
		},
	}

	ok := &fakeDelivery{body: `{"run_id":"r1","project_id":"p1","user_id":7,"message":"hi"}`}
	failed := &fakeDelivery{body: `{"run_id":"bad-run","project_id":"p1","user_id":7,"message":"hi"}`}
	garbage := &fakeDelivery{body: `not json`}
	missing := &fakeDelivery{body: `{"message":"hi"}`}

	pool.Serve(context.Background(), feed(ok, failed, garbage, missing))

	assert.True(t, ok.acked.Load())
	assert.False(t, ok.nackd.Load())
	assert.True(t, failed.nackd.Load())
	assert.True(t, garbage.nackd.Load())
	assert.True(t, missing.nackd.Load())
	assert.ElementsMatch(t, []string{"r1", "bad-run"}, seen)
}

func TestServe_BoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	var running, peak atomic.Int32
	pool := &Pool{
		Concurrency: 2,
		Handler: func(ctx context.Context, job coordinator.Job) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		},
	}

	var ds []*fakeDelivery
	for i := 0; i < 8; i++ {
		ds = append(ds, &fakeDelivery{body: `{"run_id":"r","project_id":"p"}`})
	}
	pool.Serve(context.Background(), feed(ds...))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, d := range ds {
		assert.True(t, d.acked.Load())
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan Delivery)
	done := make(chan struct{})
	go func() {
		(&Pool{Concurrency: 1, Handler: func(context.Context, coordinator.Job) error { return nil }}).Serve(ctx, deliveries)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
