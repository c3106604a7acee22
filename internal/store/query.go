package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Access is the authorization context for a plot-scoped read: either an
// authenticated account (owner reads) or a plot identifier resolved from a
// share token (anonymous reads). Exactly one of the two is set.
type Access struct {
	AccountID   string
	SharePlotID uint
}

// OwnerAccess builds the access context for an authenticated account.
func OwnerAccess(accountID string) Access {
	return Access{AccountID: accountID}
}

// ShareAccess builds the access context for a resolved share token.
func ShareAccess(plotID uint) Access {
	return Access{SharePlotID: plotID}
}

// authorizePlot loads the plot and enforces the access contract: owners
// must own the plot, share tokens must name exactly the plot they resolve
// to. A share token never reaches sibling plots of the same account.
func (s *Store) authorizePlot(ctx context.Context, access Access, plotID uint) (*Plot, error) {
	if access.AccountID == "" && access.SharePlotID != plotID {
		return nil, ErrForbidden
	}

	var plot Plot
	err := s.retryRead(ctx, "get_plot", func() error {
		return s.db.WithContext(ctx).First(&plot, plotID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch plot: %w", err)
	}

	if access.AccountID != "" && plot.AccountID != access.AccountID {
		return nil, ErrForbidden
	}
	return &plot, nil
}

// window resolves the effective time range for a query: explicit bounds win,
// then the plot's stored bounds, else unbounded.
func window(plot *Plot, from, to *time.Time) (*time.Time, *time.Time) {
	if from == nil {
		from = plot.StartTime
	}
	if to == nil {
		to = plot.EndTime
	}
	return from, to
}

// PlotData returns the plot's readings within [from, to], ascending by
// timestamp. A reading belongs to the plot iff its key matches one of the
// plot's instruments; unmatched readings stay invisible here even though
// they are stored. Each call is a fresh query; no cursor state persists.
func (s *Store) PlotData(ctx context.Context, access Access, plotID uint, from, to *time.Time) ([]Reading, error) {
	plot, err := s.authorizePlot(ctx, access, plotID)
	if err != nil {
		return nil, err
	}
	from, to = window(plot, from, to)

	var readings []Reading
	err = s.retryRead(ctx, "plot_data", func() error {
		q := s.dataQuery(ctx, plot, from, to)
		return q.Order("timestamp, id").Find(&readings).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query plot data: %w", err)
	}
	return readings, nil
}

// LatestPlotData returns the readings carrying the most recent timestamp
// within the plot's window, or ErrNotFound when the window is empty.
func (s *Store) LatestPlotData(ctx context.Context, access Access, plotID uint) ([]Reading, error) {
	plot, err := s.authorizePlot(ctx, access, plotID)
	if err != nil {
		return nil, err
	}
	from, to := window(plot, nil, nil)

	var readings []Reading
	err = s.retryRead(ctx, "latest_plot_data", func() error {
		latest := s.dataQuery(ctx, plot, from, to).
			Session(&gorm.Session{}).
			Select("max(timestamp)")
		return s.dataQuery(ctx, plot, from, to).
			Where("timestamp = (?)", latest).
			Order("key").
			Find(&readings).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query latest plot data: %w", err)
	}
	if len(readings) == 0 {
		return nil, ErrNotFound
	}
	return readings, nil
}

// dataQuery builds the reading selection for one plot: the owner's readings
// whose key matches one of the plot's instruments, bounded by the window.
// The key match is a soft join by string, mirroring the schema's decoupling
// of ingestion from organization.
func (s *Store) dataQuery(ctx context.Context, plot *Plot, from, to *time.Time) *gorm.DB {
	keys := s.db.Model(&Instrument{}).Select("key").Where("plot = ?", plot.ID)

	q := s.db.WithContext(ctx).Model(&Reading{}).
		Where("login = ?", plot.AccountID).
		Where("key IN (?)", keys)
	if from != nil {
		q = q.Where("timestamp >= ?", *from)
	}
	if to != nil {
		q = q.Where("timestamp <= ?", *to)
	}
	return q
}
