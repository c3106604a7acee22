package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"pitilt.dev/server/pkg/tilt"
)

// ResolveAccount maps a presented API key to its owning account. It is a
// point read on the unique key column; no caching.
func (s *Store) ResolveAccount(ctx context.Context, apiKey string) (*Account, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}

	var account Account
	err := s.retryRead(ctx, "resolve_account", func() error {
		return s.db.WithContext(ctx).Where("key = ?", apiKey).First(&account).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}

	return &account, nil
}

// SaveReadings persists a batch of candidate readings for an authenticated
// account. The batch is atomic: one invalid element rejects the whole
// request with a ValidationError and nothing is written. Rows are inserted
// in submission order with the client's timestamps taken verbatim; duplicate
// submissions are not deduplicated.
func (s *Store) SaveReadings(ctx context.Context, accountID string, batch []tilt.Reading) error {
	for i, r := range batch {
		if err := r.Validate(); err != nil {
			return &ValidationError{Index: i, Reason: err}
		}
	}

	if len(batch) == 0 {
		return nil
	}

	err := s.observe("save_readings", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, r := range batch {
				row := Reading{
					Key:       r.Key,
					Value:     r.Value,
					Timestamp: r.Timestamp.Time,
					AccountID: accountID,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save readings: %w", err)
	}

	s.logger.Debug("saved readings", "account", accountID, "count", len(batch))
	return nil
}
