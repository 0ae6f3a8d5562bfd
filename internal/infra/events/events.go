// Package events delivers reward events to the presentation layer.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/logger"
)

// Publisher drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Options selects the event bus.
type Options struct {
	Driver   string
	Addr     string
	Password string
	DB       int
	Channel  string
}

// New builds the configured publisher.
func New(ctx context.Context, opts Options, log *logger.Logger) (domain.Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverNone:
		return Nop{}, nil
	case DriverMemory:
		return NewMemory(), nil
	case DriverRedis:
		return NewRedis(ctx, opts, log)
	}
	return nil, &domain.ConfigError{Field: "events.driver", Reason: fmt.Sprintf("unsupported driver %q", opts.Driver)}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, domain.RewardEvent) error { return nil }
func (Nop) Close() error                                     { return nil }

// Memory keeps published events in order. Used in development and tests.
type Memory struct {
	mu     sync.Mutex
	events []domain.RewardEvent
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, ev domain.RewardEvent) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []domain.RewardEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RewardEvent, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns published events of type t.
func (m *Memory) OfType(t domain.RewardEventType) []domain.RewardEvent {
	var out []domain.RewardEvent
	for _, ev := range m.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
