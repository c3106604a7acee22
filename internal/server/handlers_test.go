package server_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pitilt.dev/server/internal/server"
	"pitilt.dev/server/internal/store"
	"pitilt.dev/server/pkg/tilt"
)

var _ = Describe("Handlers", func() {
	var (
		fake    *fakeStore
		handler http.Handler
	)

	const apiKey = "valid-key"
	account := &store.Account{ID: "account-1", Name: "Brewer", Key: apiKey}

	BeforeEach(func() {
		fake = &fakeStore{
			resolveAccount: func(key string) (*store.Account, error) {
				if key == apiKey {
					return account, nil
				}
				return nil, store.ErrUnauthorized
			},
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		srv, err := server.NewServer(&server.ServerConfig{
			Logger:   logger,
			Store:    fake,
			HTTPPort: 8080,
		})
		Expect(err).NotTo(HaveOccurred())
		handler = srv.Handler()
	})

	do := func(method, target, key, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, target, reader)
		if key != "" {
			req.Header.Set(tilt.APIKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	Describe("authentication", func() {
		It("should reject a missing API key", func() {
			rec := do(http.MethodGet, "/plots", "", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should reject an unknown API key", func() {
			rec := do(http.MethodPost, "/data", "wrong-key", "[]")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("POST /data", func() {
		It("should ingest a batch under the resolved account", func() {
			var gotAccount string
			var gotBatch []tilt.Reading
			fake.saveReadings = func(accountID string, batch []tilt.Reading) error {
				gotAccount = accountID
				gotBatch = batch
				return nil
			}

			rec := do(http.MethodPost, "/data", apiKey,
				`[{"key":"cellar_temp","value":19.2,"timestamp":1709294400}]`)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(gotAccount).To(Equal("account-1"))
			Expect(gotBatch).To(HaveLen(1))
			Expect(gotBatch[0].Key).To(Equal("cellar_temp"))
			Expect(gotBatch[0].Timestamp.Unix()).To(Equal(int64(1709294400)))
		})

		It("should reject a malformed body", func() {
			rec := do(http.MethodPost, "/data", apiKey, `{"not":"an array"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should surface batch validation failures", func() {
			fake.saveReadings = func(string, []tilt.Reading) error {
				return &store.ValidationError{Index: 2, Reason: fmt.Errorf("key must not be empty")}
			}

			rec := do(http.MethodPost, "/data", apiKey, `[{"key":"","value":1,"timestamp":1709294400}]`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("index 2"))
		})
	})

	Describe("plot management", func() {
		It("should list the account's plots", func() {
			fake.listPlots = func(accountID string) ([]store.Plot, error) {
				Expect(accountID).To(Equal("account-1"))
				return []store.Plot{{ID: 1, Name: "batch 12"}}, nil
			}

			rec := do(http.MethodGet, "/plots", apiKey, "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var plots []store.Plot
			Expect(json.Unmarshal(rec.Body.Bytes(), &plots)).To(Succeed())
			Expect(plots).To(HaveLen(1))
			Expect(plots[0].Name).To(Equal("batch 12"))
		})

		It("should create a plot", func() {
			fake.createPlot = func(accountID string, plot *store.Plot) error {
				plot.ID = 42
				return nil
			}

			rec := do(http.MethodPost, "/plots", apiKey, `{"name":"batch 13"}`)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var plot store.Plot
			Expect(json.Unmarshal(rec.Body.Bytes(), &plot)).To(Succeed())
			Expect(plot.ID).To(Equal(uint(42)))
		})

		It("should return the plot with its instruments", func() {
			fake.getPlot = func(accountID string, plotID uint) (*store.Plot, error) {
				Expect(plotID).To(Equal(uint(7)))
				return &store.Plot{ID: 7, Name: "batch 12", Instruments: []store.Instrument{
					{ID: 1, Name: "red tilt", Type: "hydrometer", Key: "red_gravity"},
				}}, nil
			}

			rec := do(http.MethodGet, "/plots/7", apiKey, "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("red_gravity"))
		})

		It("should return 404 for an unknown plot", func() {
			fake.getPlot = func(string, uint) (*store.Plot, error) {
				return nil, store.ErrNotFound
			}

			rec := do(http.MethodGet, "/plots/99", apiKey, "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should return 403 for another account's plot", func() {
			fake.getPlot = func(string, uint) (*store.Plot, error) {
				return nil, store.ErrForbidden
			}

			rec := do(http.MethodGet, "/plots/7", apiKey, "")
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("should reject a non-numeric plot id", func() {
			rec := do(http.MethodGet, "/plots/abc", apiKey, "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should update a plot", func() {
			fake.updatePlot = func(accountID string, plot *store.Plot) (*store.Plot, error) {
				Expect(plot.ID).To(Equal(uint(7)))
				Expect(plot.Name).To(Equal("renamed"))
				return plot, nil
			}

			rec := do(http.MethodPut, "/plots/7", apiKey, `{"name":"renamed"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should delete a plot", func() {
			var deleted uint
			fake.deletePlot = func(_ string, plotID uint) error {
				deleted = plotID
				return nil
			}

			rec := do(http.MethodDelete, "/plots/7", apiKey, "")

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(deleted).To(Equal(uint(7)))
		})
	})

	Describe("instrument management", func() {
		It("should attach an instrument to a plot", func() {
			fake.createInstrument = func(accountID string, plotID uint, instrument *store.Instrument) error {
				Expect(plotID).To(Equal(uint(7)))
				instrument.ID = 3
				return nil
			}

			rec := do(http.MethodPost, "/plots/7/instruments", apiKey,
				`{"name":"red tilt","type":"hydrometer","key":"red_gravity"}`)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var instrument store.Instrument
			Expect(json.Unmarshal(rec.Body.Bytes(), &instrument)).To(Succeed())
			Expect(instrument.ID).To(Equal(uint(3)))
		})

		It("should detach an instrument", func() {
			fake.deleteInstrument = func(_ string, plotID, instrumentID uint) error {
				Expect(plotID).To(Equal(uint(7)))
				Expect(instrumentID).To(Equal(uint(3)))
				return nil
			}

			rec := do(http.MethodDelete, "/plots/7/instruments/3", apiKey, "")
			Expect(rec.Code).To(Equal(http.StatusNoContent))
		})
	})

	Describe("GET /plots/{plotId}/data", func() {
		sample := []store.Reading{
			{Key: "red_gravity", Value: 1042.5, Timestamp: time.Unix(1709294400, 0).UTC()},
		}

		It("should return readings with unix-seconds timestamps", func() {
			fake.plotData = func(access store.Access, plotID uint, from, to *time.Time) ([]store.Reading, error) {
				Expect(access.AccountID).To(Equal("account-1"))
				Expect(plotID).To(Equal(uint(7)))
				Expect(from).To(BeNil())
				Expect(to).To(BeNil())
				return sample, nil
			}

			rec := do(http.MethodGet, "/plots/7/data", apiKey, "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			dec := json.NewDecoder(rec.Body)
			dec.UseNumber()
			var points []map[string]any
			Expect(dec.Decode(&points)).To(Succeed())
			Expect(points).To(HaveLen(1))
			Expect(points[0]["timestamp"].(json.Number).String()).To(Equal("1709294400"))
		})

		It("should pass the parsed window through", func() {
			var gotFrom, gotTo *time.Time
			fake.plotData = func(_ store.Access, _ uint, from, to *time.Time) ([]store.Reading, error) {
				gotFrom, gotTo = from, to
				return nil, nil
			}

			rec := do(http.MethodGet,
				"/plots/7/data?from=2024-03-01T00:00:00Z&to=2024-03-02T00:00:00Z", apiKey, "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(gotFrom).NotTo(BeNil())
			Expect(gotFrom.UTC()).To(Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
			Expect(gotTo).NotTo(BeNil())
			Expect(gotTo.UTC()).To(Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
		})

		It("should reject a malformed window bound", func() {
			rec := do(http.MethodGet, "/plots/7/data?from=yesterday", apiKey, "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should return an empty array for an empty window", func() {
			fake.plotData = func(store.Access, uint, *time.Time, *time.Time) ([]store.Reading, error) {
				return nil, nil
			}

			rec := do(http.MethodGet, "/plots/7/data", apiKey, "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
		})
	})

	Describe("GET /plots/{plotId}/data/latest", func() {
		It("should return 404 when no readings exist", func() {
			fake.latestPlotData = func(store.Access, uint) ([]store.Reading, error) {
				return nil, store.ErrNotFound
			}

			rec := do(http.MethodGet, "/plots/7/data/latest", apiKey, "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("sharing", func() {
		const token = "0b56cbbd-3a4e-43f8-9836-52bc04b6c69f"

		It("should mint a share link", func() {
			fake.createShareLink = func(accountID string, plotID uint) (*store.ShareLink, error) {
				return &store.ShareLink{PlotID: plotID, UUID: token}, nil
			}

			rec := do(http.MethodPost, "/plots/7/share", apiKey, "")

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var link store.ShareLink
			Expect(json.Unmarshal(rec.Body.Bytes(), &link)).To(Succeed())
			Expect(link.UUID).To(Equal(token))
		})

		It("should return 409 when the plot is already shared", func() {
			fake.createShareLink = func(string, uint) (*store.ShareLink, error) {
				return nil, store.ErrConflict
			}

			rec := do(http.MethodPost, "/plots/7/share", apiKey, "")
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("should serve shared data without authentication", func() {
			fake.resolveShareLink = func(got string) (uint, error) {
				Expect(got).To(Equal(token))
				return 7, nil
			}
			fake.plotData = func(access store.Access, plotID uint, _, _ *time.Time) ([]store.Reading, error) {
				Expect(access.AccountID).To(BeEmpty())
				Expect(access.SharePlotID).To(Equal(uint(7)))
				Expect(plotID).To(Equal(uint(7)))
				return nil, nil
			}

			rec := do(http.MethodGet, "/shared/"+token+"/data", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should return 404 for an unknown token", func() {
			fake.resolveShareLink = func(string) (uint, error) {
				return 0, store.ErrNotFound
			}

			rec := do(http.MethodGet, "/shared/"+token+"/data", "", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /health", func() {
		It("should report ok without authentication", func() {
			rec := do(http.MethodGet, "/health", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("ok"))
		})
	})
})
