package ledger

// Call carries the transaction context of a contract invocation.
type Call struct {
	Caller    Address
	Value     uint64
	Timestamp uint64
}

// Contract is the repair request state machine. It is the sole owner and
// mutator of the records it holds; reads hand out copies.
//
// Every mutator either commits its full change and returns the event it
// emits, or returns a *Revert and leaves the contract untouched. Contract is
// not safe for concurrent use; the ledger serializes calls.
type Contract struct {
	gate           *Gate
	implementation string

	records []RepairRequest
	index   map[uint64]int
	nextID  uint64
}

// NewContract deploys a contract administered by admin, running the given
// implementation label.
func NewContract(admin Address, implementation string) *Contract {
	return &Contract{
		gate:           NewGate(admin),
		implementation: implementation,
		index:          make(map[uint64]int),
	}
}

// Create opens a new request owned by the caller. The first id is 1.
func (c *Contract) Create(call Call, propertyID, descriptionHash string, landlord Address) (Event, error) {
	if err := c.guard(call); err != nil {
		return Event{}, err
	}
	if landlord.IsZero() {
		return Event{}, ErrZeroAddress
	}
	if !validField(propertyID) {
		return Event{}, ErrInvalidPropertyID
	}
	if !validField(descriptionHash) {
		return Event{}, ErrInvalidDescriptionHash
	}

	c.nextID++
	r := RepairRequest{
		ID:              c.nextID,
		Initiator:       call.Caller,
		Landlord:        landlord,
		PropertyID:      propertyID,
		DescriptionHash: descriptionHash,
		Status:          StatusPending,
		CreatedAt:       call.Timestamp,
		UpdatedAt:       call.Timestamp,
	}
	c.index[r.ID] = len(c.records)
	c.records = append(c.records, r)

	return Event{
		Type:            EventCreated,
		RequestID:       r.ID,
		Initiator:       r.Initiator,
		Landlord:        r.Landlord,
		PropertyID:      r.PropertyID,
		DescriptionHash: r.DescriptionHash,
		Timestamp:       call.Timestamp,
	}, nil
}

// UpdateDescription replaces the description hash. Initiator only.
func (c *Contract) UpdateDescription(call Call, id uint64, newHash string) (Event, error) {
	r, err := c.editable(call, id, CanUpdateDescription, ErrCallerIsNotTenant)
	if err != nil {
		return Event{}, err
	}
	if !validField(newHash) {
		return Event{}, ErrInvalidDescriptionHash
	}

	old := r.DescriptionHash
	r.DescriptionHash = newHash
	r.UpdatedAt = call.Timestamp
	return hashEvent(EventDescriptionUpdated, r, old, newHash), nil
}

// UpdateWorkDetails replaces the work details hash. Landlord only.
func (c *Contract) UpdateWorkDetails(call Call, id uint64, newHash string) (Event, error) {
	r, err := c.editable(call, id, CanUpdateWorkDetails, ErrCallerIsNotLandlord)
	if err != nil {
		return Event{}, err
	}
	if !validField(newHash) {
		return Event{}, ErrInvalidWorkDetailsHash
	}

	old := r.WorkDetailsHash
	r.WorkDetailsHash = newHash
	r.UpdatedAt = call.Timestamp
	return hashEvent(EventWorkDetailsUpdated, r, old, newHash), nil
}

// UpdateStatus drives the landlord edges of the lifecycle:
// Pending→InProgress, InProgress→Completed and Pending→Rejected.
func (c *Contract) UpdateStatus(call Call, id uint64, to Status) (Event, error) {
	r, err := c.authorized(call, id, CanUpdateStatus, ErrCallerIsNotLandlord)
	if err != nil {
		return Event{}, err
	}
	if r.Status == StatusCancelled {
		return Event{}, ErrRequestIsCancelled
	}
	if !landlordTransition(r.Status, to) {
		return Event{}, ErrInvalidStatusTransition
	}
	return c.transition(r, to, call.Timestamp), nil
}

// Withdraw cancels a pending request. Initiator only.
func (c *Contract) Withdraw(call Call, id uint64) (Event, error) {
	r, err := c.authorized(call, id, CanWithdraw, ErrCallerIsNotTenant)
	if err != nil {
		return Event{}, err
	}
	if r.Status != StatusPending {
		return Event{}, ErrRequestIsNotPending
	}
	return c.transition(r, StatusCancelled, call.Timestamp), nil
}

// ApproveWork settles completed work as Accepted or Refused. Initiator only.
func (c *Contract) ApproveWork(call Call, id uint64, accepted bool) (Event, error) {
	r, err := c.authorized(call, id, CanApproveWork, ErrCallerIsNotTenant)
	if err != nil {
		return Event{}, err
	}
	if r.Status == StatusCancelled {
		return Event{}, ErrRequestIsCancelled
	}
	if r.Status != StatusCompleted {
		return Event{}, ErrRequestNotCompleted
	}
	to := StatusRefused
	if accepted {
		to = StatusAccepted
	}
	return c.transition(r, to, call.Timestamp), nil
}

// Get returns a copy of the record.
func (c *Contract) Get(id uint64) (RepairRequest, error) {
	i, ok := c.index[id]
	if !ok {
		return RepairRequest{}, ErrRepairRequestDoesNotExist
	}
	return c.records[i], nil
}

// Count returns the number of requests ever created.
func (c *Contract) Count() int {
	return len(c.records)
}

// Pause engages the emergency stop. Admin only.
func (c *Contract) Pause(call Call) (Event, error) {
	if call.Value > 0 {
		return Event{}, ErrPaymentsRejected
	}
	if err := c.gate.pause(call.Caller); err != nil {
		return Event{}, err
	}
	return Event{Type: EventPaused, Account: call.Caller, Timestamp: call.Timestamp}, nil
}

// Unpause releases the emergency stop. Admin only.
func (c *Contract) Unpause(call Call) (Event, error) {
	if call.Value > 0 {
		return Event{}, ErrPaymentsRejected
	}
	if err := c.gate.unpause(call.Caller); err != nil {
		return Event{}, err
	}
	return Event{Type: EventUnpaused, Account: call.Caller, Timestamp: call.Timestamp}, nil
}

// GrantRole adds account to role. Admin only. Granting a role already held
// succeeds without an event.
func (c *Contract) GrantRole(call Call, role Role, account Address) ([]Event, error) {
	if call.Value > 0 {
		return nil, ErrPaymentsRejected
	}
	changed, err := c.gate.grant(call.Caller, role, account)
	if err != nil || !changed {
		return nil, err
	}
	return []Event{{Type: EventRoleGranted, Role: role, Account: account, Timestamp: call.Timestamp}}, nil
}

// RevokeRole removes account from role. Admin only. Revoking a role not held
// succeeds without an event.
func (c *Contract) RevokeRole(call Call, role Role, account Address) ([]Event, error) {
	if call.Value > 0 {
		return nil, ErrPaymentsRejected
	}
	changed, err := c.gate.revoke(call.Caller, role, account)
	if err != nil || !changed {
		return nil, err
	}
	return []Event{{Type: EventRoleRevoked, Role: role, Account: account, Timestamp: call.Timestamp}}, nil
}

// Upgrade swaps the implementation. Records, role memberships and the
// admin role identifier carry over unchanged. Admin only.
func (c *Contract) Upgrade(call Call, implementation string) (Event, error) {
	if call.Value > 0 {
		return Event{}, ErrPaymentsRejected
	}
	if err := c.gate.onlyAdmin(call.Caller); err != nil {
		return Event{}, err
	}
	if implementation == "" {
		return Event{}, ErrInvalidImplementation
	}
	c.implementation = implementation
	return Event{Type: EventUpgraded, Implementation: implementation, Timestamp: call.Timestamp}, nil
}

// Receive handles a plain value transfer. It always rejects.
func (c *Contract) Receive(Call) error {
	return ErrPaymentsRejected
}

// Fallback handles calls to unknown methods. It always rejects.
func (c *Contract) Fallback(Call) error {
	return ErrPaymentsRejected
}

// Implementation returns the active implementation label.
func (c *Contract) Implementation() string {
	return c.implementation
}

// Paused reports whether the emergency stop is engaged.
func (c *Contract) Paused() bool {
	return c.gate.Paused()
}

// HasRole reports whether account holds role.
func (c *Contract) HasRole(role Role, account Address) bool {
	return c.gate.HasRole(role, account)
}

// Clone returns an independent copy, used to simulate a call without
// committing it.
func (c *Contract) Clone() *Contract {
	cp := &Contract{
		gate:           c.gate.clone(),
		implementation: c.implementation,
		records:        make([]RepairRequest, len(c.records)),
		index:          make(map[uint64]int, len(c.index)),
		nextID:         c.nextID,
	}
	copy(cp.records, c.records)
	for k, v := range c.index {
		cp.index[k] = v
	}
	return cp
}

// guard applies the checks shared by every request mutator.
func (c *Contract) guard(call Call) error {
	if call.Value > 0 {
		return ErrPaymentsRejected
	}
	return c.gate.whenNotPaused()
}

// authorized resolves the record and checks the caller's role against it.
func (c *Contract) authorized(call Call, id uint64, allowed Predicate, denied *Revert) (*RepairRequest, error) {
	if err := c.guard(call); err != nil {
		return nil, err
	}
	i, ok := c.index[id]
	if !ok {
		return nil, ErrRepairRequestDoesNotExist
	}
	r := &c.records[i]
	if !allowed(call.Caller, *r) {
		return nil, denied
	}
	return r, nil
}

// editable is authorized plus the rule that terminal records never change.
func (c *Contract) editable(call Call, id uint64, allowed Predicate, denied *Revert) (*RepairRequest, error) {
	r, err := c.authorized(call, id, allowed, denied)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusCancelled {
		return nil, ErrRequestIsCancelled
	}
	if r.Status.IsTerminal() {
		return nil, ErrInvalidStatusTransition
	}
	return r, nil
}

func (c *Contract) transition(r *RepairRequest, to Status, ts uint64) Event {
	old := r.Status
	r.Status = to
	r.UpdatedAt = ts
	return Event{
		Type:      EventStatusChanged,
		RequestID: r.ID,
		Initiator: r.Initiator,
		Landlord:  r.Landlord,
		OldStatus: old,
		NewStatus: to,
		Timestamp: ts,
	}
}

func hashEvent(t EventType, r *RepairRequest, oldHash, newHash string) Event {
	return Event{
		Type:      t,
		RequestID: r.ID,
		Initiator: r.Initiator,
		Landlord:  r.Landlord,
		OldHash:   oldHash,
		NewHash:   newHash,
		Timestamp: r.UpdatedAt,
	}
}
