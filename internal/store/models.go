// Package store implements the relational data model and the ingestion,
// attribution, share-access and query operations on top of PostgreSQL.
package store

import (
	"time"
)

// Account is an owner entity. The API key is the sole bearer credential for
// ingestion and owner-level reads; provisioning of accounts happens outside
// this service.
type Account struct {
	ID    string `gorm:"column:id;primaryKey" json:"id"`
	Name  string `gorm:"column:name" json:"name"`
	Email string `gorm:"column:email" json:"email"`
	Key   string `gorm:"column:key;uniqueIndex;not null" json:"-"`
}

// TableName specifies the table name for the Account model.
func (Account) TableName() string {
	return "login"
}

// Reading is one timestamped numeric observation tagged with a free-form
// key, owned directly by an account. Readings are immutable once written;
// nothing updates or deduplicates them.
type Reading struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Key       string    `gorm:"column:key;not null;index:idx_measurement_login_key,priority:2" json:"key"`
	Value     float64   `gorm:"column:value;not null" json:"value"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
	AccountID string    `gorm:"column:login;not null;index:idx_measurement_login_key,priority:1" json:"-"`
	Account   Account   `gorm:"foreignKey:AccountID" json:"-"`
}

// TableName specifies the table name for the Reading model.
func (Reading) TableName() string {
	return "measurement"
}

// Plot is a named, optionally time-bounded grouping of instruments owned by
// an account. Readings are not attached to a plot at write time; membership
// is derived at query time by matching reading keys against the plot's
// instruments.
type Plot struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	StartTime   *time.Time   `gorm:"column:start_time" json:"startTime"`
	EndTime     *time.Time   `gorm:"column:end_time" json:"endTime"`
	Name        string       `gorm:"column:name" json:"name"`
	AccountID   string       `gorm:"column:login;not null;index" json:"-"`
	Account     Account      `gorm:"foreignKey:AccountID" json:"-"`
	Instruments []Instrument `gorm:"foreignKey:PlotID;constraint:OnDelete:CASCADE" json:"instruments,omitempty"`
	Share       *ShareLink   `gorm:"foreignKey:PlotID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for the Plot model.
func (Plot) TableName() string {
	return "plot"
}

// Instrument is a single logical sensor feeding into a plot, identified by
// the key it stamps onto readings. The key relationship to measurement is a
// soft string match, not a foreign key: renaming an instrument's key orphans
// its history.
type Instrument struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"column:name" json:"name"`
	Type   string `gorm:"column:type" json:"type"`
	PlotID uint   `gorm:"column:plot;not null;index" json:"-"`
	Key    string `gorm:"column:key;index" json:"key"`
}

// TableName specifies the table name for the Instrument model.
func (Instrument) TableName() string {
	return "instrument"
}

// ShareLink grants anonymous read-only access to one plot via an
// unguessable UUID token. At most one share link exists per plot; deleting
// the plot cascades to its link. There is no expiry or revocation.
type ShareLink struct {
	PlotID uint   `gorm:"column:plot_id;primaryKey;uniqueIndex;not null" json:"plotId"`
	UUID   string `gorm:"column:uuid;uniqueIndex;not null" json:"uuid"`
}

// TableName specifies the table name for the ShareLink model.
func (ShareLink) TableName() string {
	return "sharelink"
}
