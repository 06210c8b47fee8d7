package store

import (
	"fmt"

	"github.com/roach88/repairsync/internal/ledger"
)

// Position orders writes to the projection: ledger timestamp first, then
// block and log index for events that share a timestamp.
type Position struct {
	Timestamp uint64 `json:"timestamp"`
	Block     uint64 `json:"block"`
	Index     uint   `json:"index"`
}

// PositionOf returns the ledger position of e.
func PositionOf(e ledger.Event) Position {
	return Position{Timestamp: e.Timestamp, Block: e.Block, Index: e.Index}
}

// Less reports whether p comes before q.
func (p Position) Less(q Position) bool {
	if p.Timestamp != q.Timestamp {
		return p.Timestamp < q.Timestamp
	}
	if p.Block != q.Block {
		return p.Block < q.Block
	}
	return p.Index < q.Index
}

func (p Position) String() string {
	return fmt.Sprintf("%d/%d.%d", p.Timestamp, p.Block, p.Index)
}

// Ref identifies the request a projection write targets. Initiator and
// Landlord travel with every repair event so a row can be created by
// whichever event arrives first.
type Ref struct {
	ID        uint64
	Initiator ledger.Address
	Landlord  ledger.Address
}

// RefOf returns the request reference carried by e.
func RefOf(e ledger.Event) Ref {
	return Ref{ID: e.RequestID, Initiator: e.Initiator, Landlord: e.Landlord}
}

// Urgency is a locally-owned priority hint.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// Valid reports whether u is a known urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyEmergency:
		return true
	}
	return false
}

// Record is one projected repair request: the ledger fields, the position
// that last wrote each mutable one, and the locally-owned details.
type Record struct {
	ledger.RepairRequest

	StatusAt      Position `json:"status_at"`
	DescriptionAt Position `json:"description_at"`
	WorkDetailsAt Position `json:"work_details_at"`

	LocalDetails
}

// LocalDetails are fields the application owns. Event application never
// writes them.
type LocalDetails struct {
	Description string   `json:"description"`
	Urgency     Urgency  `json:"urgency"`
	Attachments []string `json:"attachments"`
}

// AppliedEvent is a row of the applied-event ledger.
type AppliedEvent struct {
	Key       string           `json:"key"`
	RequestID uint64           `json:"request_id"`
	Type      ledger.EventType `json:"type"`
	At        Position         `json:"at"`
	TxHash    string           `json:"tx_hash"`
	Payload   string           `json:"payload"`
}
