// Package service implements the mission-control operations: the task state
// machine, idempotent job runs, memory ingest and search, and the activity
// log. Every mutation runs as one store transaction under a per-entity lock.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mission-control/internal/lock"
	"mission-control/internal/logging"
	"mission-control/internal/store"
)

// ObjectSource fetches document bodies from object storage.
type ObjectSource interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Service is safe for concurrent use.
type Service struct {
	store   store.Store
	locker  lock.Locker
	objects ObjectSource
	log     zerolog.Logger
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLocker replaces the default in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithObjectSource enables IngestObject.
func WithObjectSource(src ObjectSource) Option {
	return func(s *Service) { s.objects = src }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service over st.
func New(st store.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		locker: lock.NewKeyedMutex(),
		log:    logging.Component(logger, "service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend names the active store backend.
func (s *Service) Backend() string { return s.store.Backend() }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// clock returns the current UTC time at millisecond precision, the
// resolution of the ISO timestamps used in run keys.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()
	return fn()
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
