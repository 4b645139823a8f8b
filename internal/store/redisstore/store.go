package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/specforge/internal/events"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func eventsChannel(projectID string) string {
	return "specforge:project:" + projectID + ":events"
}

// Publish fans a batch of timeline events out to live subscribers of the
// project. Each event is one message.
func (s *Store) Publish(ctx context.Context, projectID string, evs []events.ChatEvent) error {
	ch := eventsChannel(projectID)
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := s.rdb.Publish(ctx, ch, b).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", ch, err)
		}
	}
	return nil
}

// Subscribe streams a project's events until the returned close func is
// called or ctx ends. It waits for the subscription to be confirmed so no
// event published after it returns is missed.
func (s *Store) Subscribe(ctx context.Context, projectID string) (<-chan events.ChatEvent, func() error, error) {
	ps := s.rdb.Subscribe(ctx, eventsChannel(projectID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan events.ChatEvent, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev events.ChatEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, ps.Close, nil
}
