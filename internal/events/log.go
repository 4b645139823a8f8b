package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Log is an append-only event timeline safe for concurrent readers.
type Log struct {
	mu     sync.RWMutex
	events []ChatEvent
}

func NewLog(initial []ChatEvent) *Log {
	l := &Log{events: make([]ChatEvent, 0, len(initial))}
	l.events = append(l.events, initial...)
	return l
}

func (l *Log) Append(evs ...ChatEvent) {
	if len(evs) == 0 {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, evs...)
	l.mu.Unlock()
}

// Snapshot returns a copy; callers may hold it while the run keeps appending.
func (l *Log) Snapshot() []ChatEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ChatEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *Log) Marshal() (string, error) {
	return MarshalEvents(l.Snapshot())
}

func MarshalEvents(evs []ChatEvent) (string, error) {
	if evs == nil {
		evs = []ChatEvent{}
	}
	b, err := json.Marshal(evs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ParseEvents(data string) ([]ChatEvent, error) {
	if strings.TrimSpace(data) == "" {
		return []ChatEvent{}, nil
	}
	var out []ChatEvent
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("parse agent events: %w", err)
	}
	if out == nil {
		out = []ChatEvent{}
	}
	return out, nil
}
