// Package harness runs scripted repair request scenarios end to end.
//
// Every scenario gets its own in-process ledger on a manual clock, an
// in-memory projection store, the real submission pipeline and a real
// synchronization session. Steps go through the actions service as the
// named account, one ledger second apart. Once all steps ran, the session
// backfills again so the projection has caught up, and the assertions are
// checked against the ledger, the projection and the event stream the
// session saw.
//
// # Scenario Format
//
//	name: approve_lifecycle
//	description: "Tenant accepts completed work"
//	accounts: [plumber]          # extra names; admin, tenant, landlord are built in
//	sync: { initiator: tenant }  # or { request: 1 }; defaults to tenant
//	steps:
//	  - as: tenant
//	    call: create
//	    args: { property_id: P1, description_hash: H1, landlord: landlord }
//	  - as: landlord
//	    call: updateStatus
//	    args: { id: 1, status: InProgress }
//	    faults: { throttle: { eth_estimateGas: 2 } }
//	  - as: tenant
//	    call: approveWork
//	    args: { id: 1, accepted: true }
//	    expect: { error: RequestNotCompleted, kind: INVALID_STATE }
//	assertions:
//	  - type: ledger_state
//	    request: 1
//	    expect: { status: InProgress }
//	  - type: converged
//
// # Assertion Types
//
//   - ledger_state: fields of a record read straight from the ledger
//   - projection_state: fields of the projected record
//   - converged: every in-scope ledger record equals its projection
//   - event_count: the session saw an event type exactly N times
//   - event_order: the session saw event types in this relative order
//
// # Determinism
//
// Block timestamps come from a manual clock starting at testutil.Epoch,
// action ids from a sequential generator, and the session view is sorted
// by ledger position. Golden snapshots leave out transaction hashes, so
// two runs of one scenario produce identical bytes.
package harness
