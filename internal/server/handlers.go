package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pitilt.dev/server/internal/store"
	"pitilt.dev/server/pkg/tilt"
)

// dataPoint is the wire shape of one reading: timestamps travel as unix
// seconds, matching the ingestion format.
type dataPoint struct {
	Key       string        `json:"key"`
	Value     float64       `json:"value"`
	Timestamp tilt.UnixTime `json:"timestamp"`
}

func toDataPoints(readings []store.Reading) []dataPoint {
	points := make([]dataPoint, 0, len(readings))
	for _, r := range readings {
		points = append(points, dataPoint{
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: tilt.NewUnixTime(r.Timestamp),
		})
	}
	return points
}

// authorize resolves the request's API key into an account.
func (s *Server) authorize(r *http.Request) (*store.Account, error) {
	return s.store.ResolveAccount(r.Context(), r.Header.Get(tilt.APIKeyHeader))
}

// handleIngest accepts a JSON array of readings and persists the whole
// batch atomically under the authenticated account.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var batch []tilt.Reading
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.writeError(w, &store.ValidationError{Index: -1, Reason: fmt.Errorf("malformed body: %w", err)})
		return
	}

	if err := s.store.SaveReadings(r.Context(), account.ID, batch); err != nil {
		s.writeError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ReadingsIngested.WithLabelValues("http").Add(float64(len(batch)))
		s.metrics.IngestBatchSize.Observe(float64(len(batch)))
	}

	s.logger.Debug("batch ingested", "account", account.ID, "readings", len(batch))
	w.WriteHeader(http.StatusCreated)
}

// handleListPlots returns all plots owned by the authenticated account.
func (s *Server) handleListPlots(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plots, err := s.store.ListPlots(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, plots)
}

// handleCreatePlot creates a plot for the authenticated account.
func (s *Server) handleCreatePlot(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var plot store.Plot
	if err := json.NewDecoder(r.Body).Decode(&plot); err != nil {
		s.writeError(w, &store.ValidationError{Index: -1, Reason: fmt.Errorf("malformed body: %w", err)})
		return
	}

	if err := s.store.CreatePlot(r.Context(), account.ID, &plot); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, &plot)
}

// handleGetPlot returns one plot with its instruments.
func (s *Server) handleGetPlot(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	plot, err := s.store.GetPlot(r.Context(), account.ID, plotID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, plot)
}

// handleUpdatePlot updates a plot's name and time window.
func (s *Server) handleUpdatePlot(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var plot store.Plot
	if err := json.NewDecoder(r.Body).Decode(&plot); err != nil {
		s.writeError(w, &store.ValidationError{Index: -1, Reason: fmt.Errorf("malformed body: %w", err)})
		return
	}
	plot.ID = plotID

	updated, err := s.store.UpdatePlot(r.Context(), account.ID, &plot)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, updated)
}

// handleDeletePlot deletes a plot. Its readings stay behind; only the
// organization on top of them goes away.
func (s *Server) handleDeletePlot(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.DeletePlot(r.Context(), account.ID, plotID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCreateInstrument attaches an instrument to a plot.
func (s *Server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var instrument store.Instrument
	if err := json.NewDecoder(r.Body).Decode(&instrument); err != nil {
		s.writeError(w, &store.ValidationError{Index: -1, Reason: fmt.Errorf("malformed body: %w", err)})
		return
	}

	if err := s.store.CreateInstrument(r.Context(), account.ID, plotID, &instrument); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, &instrument)
}

// handleDeleteInstrument detaches an instrument from a plot.
func (s *Server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	instrumentID, err := parseID(r, "instrumentId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.DeleteInstrument(r.Context(), account.ID, plotID, instrumentID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePlotData returns the plot's readings in the requested window.
func (s *Server) handlePlotData(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	from, to, err := parseWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	readings, err := s.store.PlotData(r.Context(), store.OwnerAccess(account.ID), plotID, from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toDataPoints(readings))
}

// handleLatestPlotData returns the most recent readings of a plot.
func (s *Server) handleLatestPlotData(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	readings, err := s.store.LatestPlotData(r.Context(), store.OwnerAccess(account.ID), plotID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toDataPoints(readings))
}

// handleCreateShareLink mints the plot's share token.
func (s *Server) handleCreateShareLink(w http.ResponseWriter, r *http.Request) {
	account, err := s.authorize(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	plotID, err := parseID(r, "plotId")
	if err != nil {
		s.writeError(w, err)
		return
	}

	link, err := s.store.CreateShareLink(r.Context(), account.ID, plotID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, link)
}

// handleSharedData serves a shared plot's readings without authentication;
// the token is the capability.
func (s *Server) handleSharedData(w http.ResponseWriter, r *http.Request) {
	plotID, err := s.store.ResolveShareLink(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	from, to, err := parseWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	readings, err := s.store.PlotData(r.Context(), store.ShareAccess(plotID), plotID, from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toDataPoints(readings))
}

// handleSharedLatestData serves a shared plot's most recent readings.
func (s *Server) handleSharedLatestData(w http.ResponseWriter, r *http.Request) {
	plotID, err := s.store.ResolveShareLink(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	readings, err := s.store.LatestPlotData(r.Context(), store.ShareAccess(plotID), plotID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toDataPoints(readings))
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

// parseID extracts a numeric path parameter.
func parseID(r *http.Request, name string) (uint, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, &store.ValidationError{Index: -1, Reason: fmt.Errorf("invalid %s: %q", name, raw)}
	}
	return uint(id), nil
}

// parseWindow extracts the optional from/to RFC 3339 query parameters.
func parseWindow(r *http.Request) (*time.Time, *time.Time, error) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		return nil, nil, err
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &store.ValidationError{Index: -1, Reason: fmt.Errorf("invalid %s: %q", name, raw)}
	}
	return &t, nil
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps storage errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, store.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case store.IsValidation(err):
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
