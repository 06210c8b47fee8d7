package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/repairsync/internal/ir"
)

// EventType names an event emitted by the contract.
type EventType string

const (
	EventCreated            EventType = "RepairRequestCreated"
	EventStatusChanged      EventType = "RepairRequestStatusChanged"
	EventDescriptionUpdated EventType = "RepairRequestDescriptionUpdated"
	EventWorkDetailsUpdated EventType = "RepairRequestWorkDetailsUpdated"

	EventPaused      EventType = "Paused"
	EventUnpaused    EventType = "Unpaused"
	EventRoleGranted EventType = "RoleGranted"
	EventRoleRevoked EventType = "RoleRevoked"
	EventUpgraded    EventType = "Upgraded"
)

// RepairEventTypes are the events that describe a repair request. Only these
// reach the projection.
var RepairEventTypes = []EventType{
	EventCreated, EventStatusChanged, EventDescriptionUpdated, EventWorkDetailsUpdated,
}

// ErrMalformedEvent marks log data that could not be decoded into an Event.
var ErrMalformedEvent = errors.New("malformed event")

// Event is an immutable fact emitted by the contract. Which fields are set
// depends on Type.
type Event struct {
	Type            EventType
	RequestID       uint64
	Initiator       Address
	Landlord        Address
	PropertyID      string
	DescriptionHash string
	OldStatus       Status
	NewStatus       Status
	OldHash         string
	NewHash         string

	Role           Role
	Account        Address
	Implementation string

	// Timestamp is the ledger timestamp of the block that included the event.
	Timestamp uint64

	// Position in the ledger, set when the event is read back from a log.
	Block  uint64
	Index  uint
	TxHash string
}

// IsRepairEvent reports whether e describes a repair request.
func (e Event) IsRepairEvent() bool {
	switch e.Type {
	case EventCreated, EventStatusChanged, EventDescriptionUpdated, EventWorkDetailsUpdated:
		return true
	}
	return false
}

// Payload returns the typed fields that identify e, excluding its timestamp
// and ledger position.
func (e Event) Payload() ir.Object {
	obj := ir.Object{}
	switch e.Type {
	case EventCreated:
		obj["request_id"] = ir.Int(int64(e.RequestID))
		obj["initiator"] = ir.String(e.Initiator)
		obj["landlord"] = ir.String(e.Landlord)
		obj["property_id"] = ir.String(e.PropertyID)
		obj["description_hash"] = ir.String(e.DescriptionHash)
	case EventStatusChanged:
		obj["request_id"] = ir.Int(int64(e.RequestID))
		obj["initiator"] = ir.String(e.Initiator)
		obj["landlord"] = ir.String(e.Landlord)
		obj["old_status"] = ir.String(e.OldStatus.String())
		obj["new_status"] = ir.String(e.NewStatus.String())
	case EventDescriptionUpdated, EventWorkDetailsUpdated:
		obj["request_id"] = ir.Int(int64(e.RequestID))
		obj["initiator"] = ir.String(e.Initiator)
		obj["landlord"] = ir.String(e.Landlord)
		obj["old_hash"] = ir.String(e.OldHash)
		obj["new_hash"] = ir.String(e.NewHash)
	case EventRoleGranted, EventRoleRevoked:
		obj["role"] = ir.String(e.Role)
		obj["account"] = ir.String(e.Account)
	case EventPaused, EventUnpaused:
		obj["account"] = ir.String(e.Account)
	case EventUpgraded:
		obj["implementation"] = ir.String(e.Implementation)
	}
	return obj
}

// Key is the deduplication key of e.
func (e Event) Key() (string, error) {
	return ir.EventKey(string(e.Type), e.Timestamp, e.Payload())
}

// Wire shapes of event data.
type createdData struct {
	ID              uint64  `json:"id"`
	Initiator       Address `json:"initiator"`
	Landlord        Address `json:"landlord"`
	PropertyID      string  `json:"property_id"`
	DescriptionHash string  `json:"description_hash"`
	Timestamp       uint64  `json:"timestamp"`
}

type statusData struct {
	ID        uint64  `json:"id"`
	Initiator Address `json:"initiator"`
	Landlord  Address `json:"landlord"`
	OldStatus *Status `json:"old_status"`
	NewStatus *Status `json:"new_status"`
	Timestamp uint64  `json:"timestamp"`
}

type hashData struct {
	ID        uint64  `json:"id"`
	Initiator Address `json:"initiator"`
	Landlord  Address `json:"landlord"`
	OldHash   string  `json:"old_hash"`
	NewHash   string  `json:"new_hash"`
	Timestamp uint64  `json:"timestamp"`
}

type adminData struct {
	Role           Role    `json:"role,omitempty"`
	Account        Address `json:"account,omitempty"`
	Implementation string  `json:"implementation,omitempty"`
	Timestamp      uint64  `json:"timestamp"`
}

// EncodeData serializes the event's data section as written to a log.
func EncodeData(e Event) ([]byte, error) {
	var v any
	switch e.Type {
	case EventCreated:
		v = createdData{e.RequestID, e.Initiator, e.Landlord, e.PropertyID, e.DescriptionHash, e.Timestamp}
	case EventStatusChanged:
		oldS, newS := e.OldStatus, e.NewStatus
		v = statusData{e.RequestID, e.Initiator, e.Landlord, &oldS, &newS, e.Timestamp}
	case EventDescriptionUpdated, EventWorkDetailsUpdated:
		v = hashData{e.RequestID, e.Initiator, e.Landlord, e.OldHash, e.NewHash, e.Timestamp}
	case EventPaused, EventUnpaused, EventRoleGranted, EventRoleRevoked, EventUpgraded:
		v = adminData{e.Role, e.Account, e.Implementation, e.Timestamp}
	default:
		return nil, fmt.Errorf("encode event: unknown type %q", e.Type)
	}
	return json.Marshal(v)
}

// DecodeEvent parses the data section of a log emitted under topic.
// Failures wrap ErrMalformedEvent.
func DecodeEvent(topic EventType, data []byte) (Event, error) {
	e := Event{Type: topic}
	switch topic {
	case EventCreated:
		var d createdData
		if err := decodeStrict(data, &d); err != nil {
			return Event{}, malformed(topic, err)
		}
		if err := requireRequest(d.ID, d.Initiator, d.Landlord, d.Timestamp); err != nil {
			return Event{}, malformed(topic, err)
		}
		if !validField(d.PropertyID) || !validField(d.DescriptionHash) {
			return Event{}, malformed(topic, errors.New("property_id and description_hash are required"))
		}
		e.RequestID, e.Initiator, e.Landlord = d.ID, d.Initiator, d.Landlord
		e.PropertyID, e.DescriptionHash, e.Timestamp = d.PropertyID, d.DescriptionHash, d.Timestamp

	case EventStatusChanged:
		var d statusData
		if err := decodeStrict(data, &d); err != nil {
			return Event{}, malformed(topic, err)
		}
		if err := requireRequest(d.ID, d.Initiator, d.Landlord, d.Timestamp); err != nil {
			return Event{}, malformed(topic, err)
		}
		if d.OldStatus == nil || d.NewStatus == nil {
			return Event{}, malformed(topic, errors.New("old_status and new_status are required"))
		}
		e.RequestID, e.Initiator, e.Landlord = d.ID, d.Initiator, d.Landlord
		e.OldStatus, e.NewStatus, e.Timestamp = *d.OldStatus, *d.NewStatus, d.Timestamp

	case EventDescriptionUpdated, EventWorkDetailsUpdated:
		var d hashData
		if err := decodeStrict(data, &d); err != nil {
			return Event{}, malformed(topic, err)
		}
		if err := requireRequest(d.ID, d.Initiator, d.Landlord, d.Timestamp); err != nil {
			return Event{}, malformed(topic, err)
		}
		if !validField(d.NewHash) {
			return Event{}, malformed(topic, errors.New("new_hash is required"))
		}
		e.RequestID, e.Initiator, e.Landlord = d.ID, d.Initiator, d.Landlord
		e.OldHash, e.NewHash, e.Timestamp = d.OldHash, d.NewHash, d.Timestamp

	case EventPaused, EventUnpaused, EventRoleGranted, EventRoleRevoked, EventUpgraded:
		var d adminData
		if err := decodeStrict(data, &d); err != nil {
			return Event{}, malformed(topic, err)
		}
		e.Role, e.Account, e.Implementation, e.Timestamp = d.Role, d.Account, d.Implementation, d.Timestamp

	default:
		return Event{}, malformed(topic, errors.New("unknown event type"))
	}
	return e, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func requireRequest(id uint64, initiator, landlord Address, ts uint64) error {
	switch {
	case id == 0:
		return errors.New("id is required")
	case initiator.IsZero() || landlord.IsZero():
		return errors.New("initiator and landlord are required")
	case ts == 0:
		return errors.New("timestamp is required")
	}
	return nil
}

func malformed(topic EventType, err error) error {
	return fmt.Errorf("%w: decode %s: %v", ErrMalformedEvent, topic, err)
}
