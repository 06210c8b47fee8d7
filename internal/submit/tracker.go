package submit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/metrics"
)

// ErrActionInFlight is returned by Begin when the request already has an
// unresolved action.
var ErrActionInFlight = errors.New("an action for this repair request is already in flight")

// PendingAction is a submitted mutation whose event has not been observed.
type PendingAction struct {
	ID            string        `json:"id"`
	RequestID     uint64        `json:"request_id"`
	Kind          ledger.Method `json:"kind"`
	ExpectedValue string        `json:"expected_value"`
	TxHash        string        `json:"tx_hash,omitempty"`
	SubmittedAt   time.Time     `json:"submitted_at"`
}

// Tracker holds at most one PendingAction per request id.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	byRequest map[uint64]*PendingAction
	ids       IDGenerator
	now       func() time.Time
	metrics   *metrics.Metrics
}

// NewTracker creates a tracker. A nil ids uses UUIDv7Generator.
func NewTracker(ids IDGenerator, m *metrics.Metrics) *Tracker {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Tracker{
		byRequest: make(map[uint64]*PendingAction),
		ids:       ids,
		now:       time.Now,
		metrics:   m,
	}
}

// Begin registers an action on requestID expecting the ledger to end up
// holding expected. Fails with ErrActionInFlight if one is already pending.
func (t *Tracker) Begin(requestID uint64, kind ledger.Method, expected string) (PendingAction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.byRequest[requestID]; ok {
		return PendingAction{}, fmt.Errorf("%w: request %d has %s pending (action %s)", ErrActionInFlight, requestID, p.Kind, p.ID)
	}
	p := &PendingAction{
		ID:            t.ids.Generate(),
		RequestID:     requestID,
		Kind:          kind,
		ExpectedValue: expected,
		SubmittedAt:   t.now(),
	}
	t.byRequest[requestID] = p
	t.metrics.SetInFlight(len(t.byRequest))
	return *p, nil
}

// Attach records the transaction hash of action id.
func (t *Tracker) Attach(id, txHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.find(id); p != nil {
		p.TxHash = txHash
	}
}

// Resolve clears action id. Unknown ids are ignored.
func (t *Tracker) Resolve(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.find(id); p != nil {
		delete(t.byRequest, p.RequestID)
		t.metrics.SetInFlight(len(t.byRequest))
	}
}

// Observe clears the action that e confirms: same request, an event of the
// kind the action produces, and the expected resulting value. It reports
// whether an action was cleared.
func (t *Tracker) Observe(e ledger.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byRequest[e.RequestID]
	if !ok {
		return false
	}
	typ, value := Expectation(p.Kind, p.ExpectedValue)
	if e.Type != typ || observedValue(e) != value {
		return false
	}
	delete(t.byRequest, e.RequestID)
	t.metrics.SetInFlight(len(t.byRequest))
	return true
}

// Pending returns the action in flight for requestID, if any.
func (t *Tracker) Pending(requestID uint64) (PendingAction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byRequest[requestID]
	if !ok {
		return PendingAction{}, false
	}
	return *p, true
}

// List returns every pending action ordered by request id.
func (t *Tracker) List() []PendingAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingAction, 0, len(t.byRequest))
	for _, p := range t.byRequest {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

func (t *Tracker) find(id string) *PendingAction {
	for _, p := range t.byRequest {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Expectation returns the event type a successful call of kind emits and
// the value that event will carry.
func Expectation(kind ledger.Method, expected string) (ledger.EventType, string) {
	switch kind {
	case ledger.MethodUpdateDescription:
		return ledger.EventDescriptionUpdated, expected
	case ledger.MethodUpdateWorkDetails:
		return ledger.EventWorkDetailsUpdated, expected
	case ledger.MethodWithdraw:
		return ledger.EventStatusChanged, ledger.StatusCancelled.String()
	}
	return ledger.EventStatusChanged, expected
}

func observedValue(e ledger.Event) string {
	switch e.Type {
	case ledger.EventDescriptionUpdated, ledger.EventWorkDetailsUpdated:
		return e.NewHash
	case ledger.EventStatusChanged:
		return e.NewStatus.String()
	}
	return ""
}
