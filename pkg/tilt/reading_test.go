package tilt_test

import (
	"encoding/json"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pitilt.dev/server/pkg/tilt"
)

var _ = Describe("Reading", func() {
	Describe("UnixTime", func() {
		It("should marshal as integer seconds", func() {
			ts := tilt.UnixTime{time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

			b, err := json.Marshal(ts)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(Equal("1709294400"))
		})

		It("should unmarshal integer seconds", func() {
			var ts tilt.UnixTime
			err := json.Unmarshal([]byte("1709294400"), &ts)
			Expect(err).NotTo(HaveOccurred())
			Expect(ts.Time).To(Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
		})

		It("should reject non-integer timestamps", func() {
			var ts tilt.UnixTime
			err := json.Unmarshal([]byte(`"2024-03-01T12:00:00Z"`), &ts)
			Expect(err).To(HaveOccurred())
		})

		It("should reject fractional seconds", func() {
			var ts tilt.UnixTime
			err := json.Unmarshal([]byte("1709294400.5"), &ts)
			Expect(err).To(HaveOccurred())
		})

		It("should survive a round trip", func() {
			before := tilt.NewUnixTime(time.Now())

			b, err := json.Marshal(before)
			Expect(err).NotTo(HaveOccurred())

			var after tilt.UnixTime
			Expect(json.Unmarshal(b, &after)).To(Succeed())
			Expect(after.Time).To(Equal(before.Time))
		})
	})

	Describe("NewUnixTime", func() {
		It("should truncate to second precision", func() {
			t := time.Date(2024, 3, 1, 12, 0, 0, 987654321, time.UTC)
			Expect(tilt.NewUnixTime(t).Time).To(Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
		})
	})

	Describe("Validate", func() {
		valid := func() tilt.Reading {
			return tilt.Reading{
				Key:       "cellar_gravity",
				Value:     1042.5,
				Timestamp: tilt.NewUnixTime(time.Now()),
			}
		}

		It("should accept a well-formed reading", func() {
			Expect(valid().Validate()).To(Succeed())
		})

		DescribeTable("should reject malformed readings",
			func(mutate func(*tilt.Reading)) {
				r := valid()
				mutate(&r)
				Expect(r.Validate()).To(HaveOccurred())
			},
			Entry("empty key", func(r *tilt.Reading) { r.Key = "" }),
			Entry("NaN value", func(r *tilt.Reading) { r.Value = math.NaN() }),
			Entry("positive infinity", func(r *tilt.Reading) { r.Value = math.Inf(1) }),
			Entry("negative infinity", func(r *tilt.Reading) { r.Value = math.Inf(-1) }),
			Entry("zero timestamp", func(r *tilt.Reading) { r.Timestamp = tilt.UnixTime{} }),
		)

		It("should accept a zero value", func() {
			r := valid()
			r.Value = 0
			Expect(r.Validate()).To(Succeed())
		})

		It("should accept a negative value", func() {
			r := valid()
			r.Value = -12.5
			Expect(r.Validate()).To(Succeed())
		})
	})

	Describe("Submission", func() {
		It("should decode the AMQP message format", func() {
			payload := []byte(`{"api_key":"secret","readings":[{"key":"k","value":20.5,"timestamp":1709294400}]}`)

			var sub tilt.Submission
			Expect(json.Unmarshal(payload, &sub)).To(Succeed())
			Expect(sub.APIKey).To(Equal("secret"))
			Expect(sub.Readings).To(HaveLen(1))
			Expect(sub.Readings[0].Key).To(Equal("k"))
			Expect(sub.Readings[0].Timestamp.Unix()).To(Equal(int64(1709294400)))
		})
	})
})
