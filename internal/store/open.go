package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Options selects a backend and an optional startup fallback.
type Options struct {
	Backend     string
	Fallback    string
	SQLitePath  string
	PostgresDSN string
}

// Open opens the configured backend. When it fails and a fallback is declared,
// the fallback is opened instead and a warning is logged. Once open, the
// backend never changes.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (Store, error) {
	s, err := openBackend(ctx, opts.Backend, opts)
	if err == nil {
		logger.Info().Str("backend", s.Backend()).Msg("store opened")
		return s, nil
	}
	if opts.Fallback == "" {
		return nil, err
	}
	logger.Warn().Err(err).
		Str("backend", opts.Backend).
		Str("fallback", opts.Fallback).
		Msg("primary store unavailable, opening fallback")

	s, ferr := openBackend(ctx, opts.Fallback, opts)
	if ferr != nil {
		return nil, fmt.Errorf("open fallback %s: %w (primary: %v)", opts.Fallback, ferr, err)
	}
	return s, nil
}

func openBackend(ctx context.Context, backend string, opts Options) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return NewSQLite(ctx, opts.SQLitePath)
	case BackendPostgres:
		return NewPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
