package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"pitilt.dev/server/pkg/metrics"
)

// Store exposes the persistence operations of the service: account
// resolution, reading ingestion, plot/instrument organization, share links
// and plot-scoped queries.
type Store struct {
	logger  *slog.Logger
	db      *gorm.DB
	metrics *metrics.ServerMetrics // Optional metrics
}

// New creates a Store on top of an open database handle.
func New(logger *slog.Logger, db *gorm.DB) (*Store, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	return &Store{
		logger: logger,
		db:     db,
	}, nil
}

// SetMetrics sets the metrics collector for this store.
func (s *Store) SetMetrics(m *metrics.ServerMetrics) {
	s.metrics = m
}

// observe runs one database operation and records its outcome.
func (s *Store) observe(op string, fn func() error) error {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.DBOperationDuration.WithLabelValues(op))
		defer timer.ObserveDuration()
	}

	err := fn()

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.DBOperationsTotal.WithLabelValues(op, status).Inc()
	}
	return err
}

// retryRead runs an idempotent read, retrying once on a transient storage
// failure. Taxonomy errors are caller faults and are never retried.
func (s *Store) retryRead(ctx context.Context, op string, fn func() error) error {
	err := s.observe(op, fn)
	if err == nil || !isTransient(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}

	s.logger.Warn("retrying read after transient storage failure", "operation", op, "error", err)
	return s.observe(op, fn)
}

// isTransient reports whether err could succeed on a retry. Anything from
// the caller-fault taxonomy, a validation failure or a plain missing row is
// deterministic and excluded.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey),
		IsValidation(err):
		return false
	}
	return true
}
