package session

import (
	"context"
	"log/slog"
	"time"
)

// CollectionDeleter removes the vector collection backing an expired session.
type CollectionDeleter interface {
	DeleteCollection(name string) error
}

// Sweeper periodically deletes sessions idle longer than the TTL, together
// with their vector collections.
type Sweeper struct {
	store    Store
	vectors  CollectionDeleter
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewSweeper builds a sweeper. vectors may be nil, in which case only the
// session records are removed.
func NewSweeper(store Store, vectors CollectionDeleter, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		vectors:  vectors,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Run sweeps on every tick until ctx is cancelled. It performs one sweep
// immediately so a restart does not postpone cleanup by a full interval.
// A non-positive TTL or interval disables sweeping: sessions are then
// retained forever and Run returns at once.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	if s.ttl <= 0 || s.interval <= 0 {
		s.logger.Info("session expiry disabled", "ttl", s.ttl, "interval", s.interval)
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.ttl)

	ids, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("session sweep failed", "error", err)
		}
		return
	}
	if len(ids) == 0 {
		return
	}

	if s.vectors != nil {
		for _, id := range ids {
			if err := s.vectors.DeleteCollection(CollectionName(id)); err != nil {
				s.logger.Warn("deleting vector collection", "session_id", id, "error", err)
			}
		}
	}
	s.logger.Info("swept expired sessions", "count", len(ids))
}
