package models

import "time"

// ScenarioKind is the closed set of agent action types.
type ScenarioKind string

const (
	KindProduct ScenarioKind = "product"
	KindHotel   ScenarioKind = "hotel"
	KindFlight  ScenarioKind = "flight"
)

// Valid reports whether k is a known kind.
func (k ScenarioKind) Valid() bool {
	switch k {
	case KindProduct, KindHotel, KindFlight:
		return true
	}
	return false
}

// ScenarioStatus is the scenario lifecycle state. Transitions are monotonic
// and one-directional:
//
//	created → awaiting_payment | rejected
//	awaiting_payment → completed | rejected
type ScenarioStatus string

const (
	StatusCreated         ScenarioStatus = "created"
	StatusAwaitingPayment ScenarioStatus = "awaiting_payment"
	StatusCompleted       ScenarioStatus = "completed"
	StatusRejected        ScenarioStatus = "rejected"
)

// Terminal reports whether no further transitions are legal from s.
func (s ScenarioStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Rejection reason codes. These are user-visible and recorded in the
// workflow log; the two creation-time paths carry distinct codes so audits
// can tell a price rejection from simulated unavailability.
const (
	ReasonPriceExceedsCeiling  = "price_exceeds_ceiling"
	ReasonRandomUnavailability = "random_unavailability"
	ReasonChargeDeclined       = "charge_declined"
)

// Scenario is one proposed agent action with its price constraint.
// Amounts are fixed-point cents. OfferCents is fixed once the market
// simulation records it and is the exact amount later authorized.
type Scenario struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"-"`
	Kind         ScenarioKind   `json:"kind"`
	CeilingCents int64          `json:"ceiling_cents"`
	Currency     string         `json:"currency"`
	OfferCents   int64          `json:"offer_cents"`
	Status       ScenarioStatus `json:"status"`
	RejectReason string         `json:"reject_reason,omitempty"`
	VaultToken   string         `json:"vault_token"`
	Location     string         `json:"location,omitempty"`
	StartDate    *time.Time     `json:"start_date,omitempty"`
	EndDate      *time.Time     `json:"end_date,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
