package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListPlots returns all plots owned by the account.
func (s *Store) ListPlots(ctx context.Context, accountID string) ([]Plot, error) {
	var plots []Plot
	err := s.retryRead(ctx, "list_plots", func() error {
		return s.db.WithContext(ctx).
			Where("login = ?", accountID).
			Order("id").
			Find(&plots).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list plots: %w", err)
	}
	return plots, nil
}

// GetPlot returns one plot with its instruments. Unknown plots yield
// ErrNotFound; plots owned by a different account yield ErrForbidden.
func (s *Store) GetPlot(ctx context.Context, accountID string, plotID uint) (*Plot, error) {
	var plot Plot
	err := s.retryRead(ctx, "get_plot", func() error {
		return s.db.WithContext(ctx).
			Preload("Instruments").
			First(&plot, plotID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch plot: %w", err)
	}

	if plot.AccountID != accountID {
		return nil, ErrForbidden
	}
	return &plot, nil
}

// CreatePlot stores a new plot for the account. A plot with both bounds set
// must have its start before its end.
func (s *Store) CreatePlot(ctx context.Context, accountID string, plot *Plot) error {
	if plot.StartTime != nil && plot.EndTime != nil && !plot.StartTime.Before(*plot.EndTime) {
		return &ValidationError{Index: -1, Reason: errors.New("plot start time must be before end time")}
	}

	plot.AccountID = accountID
	err := s.observe("create_plot", func() error {
		return s.db.WithContext(ctx).Omit("Instruments", "Share").Create(plot).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create plot: %w", err)
	}

	s.logger.Info("plot created", "plot_id", plot.ID, "account", accountID)
	return nil
}

// UpdatePlot changes the name and time bounds of a plot the account owns.
func (s *Store) UpdatePlot(ctx context.Context, accountID string, plot *Plot) (*Plot, error) {
	if plot.StartTime != nil && plot.EndTime != nil && !plot.StartTime.Before(*plot.EndTime) {
		return nil, &ValidationError{Index: -1, Reason: errors.New("plot start time must be before end time")}
	}

	current, err := s.GetPlot(ctx, accountID, plot.ID)
	if err != nil {
		return nil, err
	}

	current.Name = plot.Name
	current.StartTime = plot.StartTime
	current.EndTime = plot.EndTime

	err = s.observe("update_plot", func() error {
		return s.db.WithContext(ctx).Model(current).
			Select("name", "start_time", "end_time").
			Updates(map[string]any{
				"name":       current.Name,
				"start_time": current.StartTime,
				"end_time":   current.EndTime,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update plot: %w", err)
	}
	return current, nil
}

// DeletePlot removes a plot the account owns. The database cascades the
// delete to the plot's instruments and share link; readings are owned by
// the account, not the plot, and stay untouched.
func (s *Store) DeletePlot(ctx context.Context, accountID string, plotID uint) error {
	plot, err := s.GetPlot(ctx, accountID, plotID)
	if err != nil {
		return err
	}

	err = s.observe("delete_plot", func() error {
		return s.db.WithContext(ctx).Delete(plot).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete plot: %w", err)
	}

	s.logger.Info("plot deleted", "plot_id", plotID, "account", accountID)
	return nil
}

// CreateInstrument adds an instrument to a plot the account owns.
func (s *Store) CreateInstrument(ctx context.Context, accountID string, plotID uint, instrument *Instrument) error {
	if _, err := s.GetPlot(ctx, accountID, plotID); err != nil {
		return err
	}

	instrument.PlotID = plotID
	err := s.observe("create_instrument", func() error {
		return s.db.WithContext(ctx).Create(instrument).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create instrument: %w", err)
	}

	s.logger.Info("instrument created",
		"instrument_id", instrument.ID,
		"plot_id", plotID,
		"key", instrument.Key,
	)
	return nil
}

// DeleteInstrument removes an instrument from a plot the account owns.
// The instrument's previously ingested readings stay stored; they merely
// drop out of the plot's view.
func (s *Store) DeleteInstrument(ctx context.Context, accountID string, plotID, instrumentID uint) error {
	if _, err := s.GetPlot(ctx, accountID, plotID); err != nil {
		return err
	}

	var result *gorm.DB
	err := s.observe("delete_instrument", func() error {
		result = s.db.WithContext(ctx).
			Where("id = ? AND plot = ?", instrumentID, plotID).
			Delete(&Instrument{})
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete instrument: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveInstrument finds the instrument a reading key belongs to for an
// account, across all of the account's plots. When several instruments
// share the key, the most recently created one wins.
func (s *Store) ResolveInstrument(ctx context.Context, accountID, key string) (*Instrument, error) {
	var instrument Instrument
	err := s.retryRead(ctx, "resolve_instrument", func() error {
		return s.db.WithContext(ctx).
			Joins("JOIN plot ON plot.id = instrument.plot").
			Where("plot.login = ? AND instrument.key = ?", accountID, key).
			Order("instrument.id DESC").
			First(&instrument).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve instrument: %w", err)
	}
	return &instrument, nil
}

// CreateShareLink mints the share token for a plot the account owns. The
// token is a v4 UUID from crypto/rand: a capability, not a password. The
// unique index on plot_id decides races between concurrent creators; the
// loser gets ErrConflict.
func (s *Store) CreateShareLink(ctx context.Context, accountID string, plotID uint) (*ShareLink, error) {
	if _, err := s.GetPlot(ctx, accountID, plotID); err != nil {
		return nil, err
	}

	link := &ShareLink{
		PlotID: plotID,
		UUID:   uuid.NewString(),
	}
	err := s.observe("create_sharelink", func() error {
		return s.db.WithContext(ctx).Create(link).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create share link: %w", err)
	}

	s.logger.Info("share link created", "plot_id", plotID)
	return link, nil
}

// ResolveShareLink validates an anonymous read token and returns the plot
// it grants access to. Malformed and unknown tokens are indistinguishable
// to the caller: both are ErrNotFound.
func (s *Store) ResolveShareLink(ctx context.Context, token string) (uint, error) {
	if _, err := uuid.Parse(token); err != nil {
		return 0, ErrNotFound
	}

	var link ShareLink
	err := s.retryRead(ctx, "resolve_sharelink", func() error {
		return s.db.WithContext(ctx).Where("uuid = ?", token).First(&link).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to resolve share link: %w", err)
	}
	return link.PlotID, nil
}
