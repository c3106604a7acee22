package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pitilt.dev/server/internal/store"
)

var _ = Describe("Share Links E2E", func() {
	Context("minting", func() {
		It("should mint a version-4 UUID token for the plot", func() {
			account := seedAccount("share-mint")
			plot := createPlot(account, `{"name":"shared"}`)

			resp, body := apiRequest(http.MethodPost, fmt.Sprintf("/plots/%d/share", plot.ID), account.Key, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var link store.ShareLink
			Expect(json.Unmarshal([]byte(body), &link)).To(Succeed())
			Expect(link.PlotID).To(Equal(plot.ID))

			parsed, err := uuid.Parse(link.UUID)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Version()).To(Equal(uuid.Version(4)))
		})

		It("should refuse a second link for the same plot", func() {
			account := seedAccount("share-dup")
			plot := createPlot(account, `{"name":"shared twice"}`)

			resp, _ := apiRequest(http.MethodPost, fmt.Sprintf("/plots/%d/share", plot.ID), account.Key, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp, _ = apiRequest(http.MethodPost, fmt.Sprintf("/plots/%d/share", plot.ID), account.Key, "")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should refuse to share another account's plot", func() {
			owner := seedAccount("share-owner")
			other := seedAccount("share-other")
			plot := createPlot(owner, `{"name":"not yours"}`)

			resp, _ := apiRequest(http.MethodPost, fmt.Sprintf("/plots/%d/share", plot.ID), other.Key, "")
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("should allow exactly one winner under concurrent minting", func() {
			account := seedAccount("share-race")
			plot := createPlot(account, `{"name":"contested"}`)
			ctx := context.Background()

			const attempts = 8
			results := make([]error, attempts)
			var wg sync.WaitGroup
			wg.Add(attempts)
			for i := 0; i < attempts; i++ {
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := st.CreateShareLink(ctx, account.ID, plot.ID)
					results[i] = err
				}(i)
			}
			wg.Wait()

			var successes, conflicts int
			for _, err := range results {
				switch {
				case err == nil:
					successes++
				case errors.Is(err, store.ErrConflict):
					conflicts++
				default:
					Fail(fmt.Sprintf("unexpected error: %v", err))
				}
			}
			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(attempts - 1))
		})
	})

	Context("anonymous access", func() {
		It("should serve the shared plot's data without an API key", func() {
			account := seedAccount("share-read")
			now := time.Now().UTC().Truncate(time.Second)

			plot := createPlot(account, `{"name":"public"}`)
			attachInstrument(account, plot.ID, "pub_key")
			ingestOne(account, "pub_key", 1042, now)

			resp, body := apiRequest(http.MethodPost, fmt.Sprintf("/plots/%d/share", plot.ID), account.Key, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var link store.ShareLink
			Expect(json.Unmarshal([]byte(body), &link)).To(Succeed())

			resp, body = apiRequest(http.MethodGet, fmt.Sprintf("/shared/%s/data", link.UUID), "", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("pub_key"))

			resp, _ = apiRequest(http.MethodGet, fmt.Sprintf("/shared/%s/data/latest", link.UUID), "", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should return 404 for an unknown token", func() {
			resp, _ := apiRequest(http.MethodGet, fmt.Sprintf("/shared/%s/data", uuid.NewString()), "", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 404 for a malformed token", func() {
			resp, _ := apiRequest(http.MethodGet, "/shared/not-a-uuid/data", "", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should confine a share token to its own plot", func() {
			account := seedAccount("share-confine")
			ctx := context.Background()

			shared := createPlot(account, `{"name":"shared"}`)
			sibling := createPlot(account, `{"name":"sibling"}`)

			link, err := st.CreateShareLink(ctx, account.ID, shared.ID)
			Expect(err).NotTo(HaveOccurred())

			plotID, err := st.ResolveShareLink(ctx, link.UUID)
			Expect(err).NotTo(HaveOccurred())
			Expect(plotID).To(Equal(shared.ID))

			_, err = st.PlotData(ctx, store.ShareAccess(plotID), sibling.ID, nil, nil)
			Expect(err).To(MatchError(store.ErrForbidden))
		})

		It("should drop anonymous access when the plot is deleted", func() {
			account := seedAccount("share-revoke")
			plot := createPlot(account, `{"name":"short lived"}`)

			resp, body := apiRequest(http.MethodPost, fmt.Sprintf("/plots/%d/share", plot.ID), account.Key, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var link store.ShareLink
			Expect(json.Unmarshal([]byte(body), &link)).To(Succeed())

			resp, _ = apiRequest(http.MethodDelete, fmt.Sprintf("/plots/%d", plot.ID), account.Key, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _ = apiRequest(http.MethodGet, fmt.Sprintf("/shared/%s/data", link.UUID), "", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
