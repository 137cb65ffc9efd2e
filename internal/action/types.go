// Package action holds the submission records and their pending → approved|rejected lifecycle.
package action

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ecocredit.org/internal/ids"
)

type Category string

const (
	CategoryTransport   Category = "transport"
	CategoryRecycling   Category = "recycling"
	CategoryEnergy      Category = "energy"
	CategoryGeoTracking Category = "geo_tracking"
)

// co2ByCategory is kilograms of CO2 credited per approved action.
var co2ByCategory = map[Category]decimal.Decimal{
	CategoryTransport:   decimal.RequireFromString("2.5"),
	CategoryRecycling:   decimal.RequireFromString("1.8"),
	CategoryEnergy:      decimal.RequireFromString("3.0"),
	CategoryGeoTracking: decimal.RequireFromString("4.0"),
}

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryTransport, CategoryRecycling, CategoryEnergy, CategoryGeoTracking}
}

func (c Category) Valid() bool {
	_, ok := co2ByCategory[c]
	return ok
}

// CO2Saved returns the fixed saving for c.
func (c Category) CO2Saved() (decimal.Decimal, error) {
	v, ok := co2ByCategory[c]
	if !ok {
		return decimal.Decimal{}, ErrUnknownCategory
	}
	return v, nil
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// GeoPoint is a submitter-supplied coordinate. Both halves are pointers so an
// omitted value is distinguishable from zero.
type GeoPoint struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// NewGeoPoint returns a complete coordinate.
func NewGeoPoint(lat, lon float64) *GeoPoint {
	return &GeoPoint{Latitude: &lat, Longitude: &lon}
}

// Complete reports whether both coordinates are present.
func (g *GeoPoint) Complete() bool {
	return g != nil && g.Latitude != nil && g.Longitude != nil
}

// Payload carries data supplied directly by the submitter.
type Payload struct {
	EnergySaved *float64  `json:"energySaved,omitempty"`
	Location    *GeoPoint `json:"geoLocation,omitempty"`
}

// Action is one submission. CO2Saved is fixed at creation; Status changes at most once.
type Action struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Category    Category        `json:"category"`
	Description string          `json:"description"`
	EvidenceRef string          `json:"evidenceRef,omitempty"`
	Fingerprint string          `json:"extractedFingerprint,omitempty"`
	Payload     Payload         `json:"rawPayload"`
	CO2Saved    decimal.Decimal `json:"co2Saved"`
	Status      Status          `json:"status"`
	ReviewedBy  string          `json:"reviewedBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	DecidedAt   *time.Time      `json:"decidedAt,omitempty"`
}

// New builds a pending action with its CO2 saving taken from the category table.
func New(accountID string, category Category, description string, payload Payload) (Action, error) {
	co2, err := category.CO2Saved()
	if err != nil {
		return Action{}, err
	}
	return Action{
		ID:          ids.WithPrefix("act"),
		AccountID:   accountID,
		Category:    category,
		Description: description,
		Payload:     payload,
		CO2Saved:    co2,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Decision is an approve/reject verdict on a pending action.
type Decision struct {
	Approve    bool
	ReviewerID string
	At         time.Time
}

func (d Decision) Status() Status {
	if d.Approve {
		return StatusApproved
	}
	return StatusRejected
}

var (
	ErrNotFound          = errors.New("action not found")
	ErrInvalidTransition = errors.New("action is not pending")
	ErrUnknownCategory   = errors.New("unknown category")
)
