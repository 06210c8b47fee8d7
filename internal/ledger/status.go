package ledger

import "fmt"

// Status is the lifecycle position of a repair request. The numeric order
// matches the ledger enum.
type Status uint8

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusAccepted
	StatusRefused
	StatusRejected
	StatusCancelled
)

var statusNames = [...]string{
	StatusPending:    "Pending",
	StatusInProgress: "InProgress",
	StatusCompleted:  "Completed",
	StatusAccepted:   "Accepted",
	StatusRefused:    "Refused",
	StatusRejected:   "Rejected",
	StatusCancelled:  "Cancelled",
}

// AllStatuses lists every status in enum order.
var AllStatuses = []Status{
	StatusPending, StatusInProgress, StatusCompleted,
	StatusAccepted, StatusRefused, StatusRejected, StatusCancelled,
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is one of the seven defined statuses.
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

// ParseStatus maps a status name back to its value.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusAccepted, StatusRefused:
		return true
	}
	return false
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// landlordTransition reports whether the landlord may move a request from
// one status to the other through updateStatus.
func landlordTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusRejected
	case StatusInProgress:
		return to == StatusCompleted
	}
	return false
}

// CanTransition reports whether from→to is an edge of the lifecycle graph,
// regardless of which party drives it.
func CanTransition(from, to Status) bool {
	if landlordTransition(from, to) {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusCancelled
	case StatusCompleted:
		return to == StatusAccepted || to == StatusRefused
	}
	return false
}
