// Package tilt defines the wire format shared by sensor clients and the
// ingestion service: timestamped key/value readings encoded as JSON with
// unix-seconds timestamps.
package tilt

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// UnixTime is a point in time encoded on the wire as integer seconds since
// the epoch, the format the hardware clients send.
type UnixTime struct {
	time.Time
}

// NewUnixTime truncates t to second precision, matching what survives a
// round trip through the wire encoding.
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime{time.Unix(t.Unix(), 0).UTC()}
}

// MarshalJSON encodes the time as integer seconds since the epoch.
func (t UnixTime) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, t.Unix(), 10), nil
}

// UnmarshalJSON decodes integer seconds since the epoch.
func (t *UnixTime) UnmarshalJSON(b []byte) error {
	secs, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp must be unix seconds: %w", err)
	}
	t.Time = time.Unix(secs, 0).UTC()
	return nil
}

// Reading is one candidate sensor observation as submitted by a client.
type Reading struct {
	Key       string   `json:"key"`
	Value     float64  `json:"value"`
	Timestamp UnixTime `json:"timestamp"`
}

// Validate reports why a single reading is unacceptable, or nil.
// A reading needs a non-empty key, a finite value and a timestamp.
func (r Reading) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("value must be a finite number")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is missing")
	}
	return nil
}

// Submission is the message format used on the AMQP ingestion path, where
// there is no header to carry the API key.
type Submission struct {
	APIKey   string    `json:"api_key"`
	Readings []Reading `json:"readings"`
}
