package sink

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ngoyal88/reqlog/pkg/storage"
)

// ErrBreakerOpen is returned while the breaker refuses inserts.
var ErrBreakerOpen = gobreaker.ErrOpenState

// BreakerConfig tunes the circuit breaker around an Inserter.
type BreakerConfig struct {
	Name        string
	MaxFailures uint32        // consecutive failures before opening
	Timeout     time.Duration // how long to stay open before probing
}

// Breaker fails fast while the wrapped sink keeps failing.
type Breaker struct {
	next Inserter
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Inserter, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "log-sink"
	}

	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[sink] breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Insert(ctx context.Context, entries []storage.LogEntry) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, SafeInsert(ctx, b.next, entries)
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", b.cb.Name(), err)
	}
	return nil
}

// State reports the breaker state, mostly for health endpoints.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
