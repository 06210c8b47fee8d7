package store

import (
	"context"
	"fmt"

	"github.com/roach88/repairsync/internal/ir"
	"github.com/roach88/repairsync/internal/ledger"
)

// Each upsert creates the row if this is the first event seen for the
// request, otherwise overwrites its field only when the incoming position is
// newer than the one stored. The boolean result reports whether the field
// changed.

const upsertStatusSQL = `
	INSERT INTO repair_requests
	(id, initiator, landlord, status, status_ts, status_block, status_index, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		status_ts = excluded.status_ts,
		status_block = excluded.status_block,
		status_index = excluded.status_index,
		updated_at = MAX(repair_requests.updated_at, excluded.updated_at)
	WHERE (excluded.status_ts, excluded.status_block, excluded.status_index)
	    > (repair_requests.status_ts, repair_requests.status_block, repair_requests.status_index)
`

const upsertDescriptionSQL = `
	INSERT INTO repair_requests
	(id, initiator, landlord, description_hash, description_ts, description_block, description_index, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		description_hash = excluded.description_hash,
		description_ts = excluded.description_ts,
		description_block = excluded.description_block,
		description_index = excluded.description_index,
		updated_at = MAX(repair_requests.updated_at, excluded.updated_at)
	WHERE (excluded.description_ts, excluded.description_block, excluded.description_index)
	    > (repair_requests.description_ts, repair_requests.description_block, repair_requests.description_index)
`

const upsertWorkDetailsSQL = `
	INSERT INTO repair_requests
	(id, initiator, landlord, work_details_hash, work_details_ts, work_details_block, work_details_index, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		work_details_hash = excluded.work_details_hash,
		work_details_ts = excluded.work_details_ts,
		work_details_block = excluded.work_details_block,
		work_details_index = excluded.work_details_index,
		updated_at = MAX(repair_requests.updated_at, excluded.updated_at)
	WHERE (excluded.work_details_ts, excluded.work_details_block, excluded.work_details_index)
	    > (repair_requests.work_details_ts, repair_requests.work_details_block, repair_requests.work_details_index)
`

// Immutable fields are filled by the creation event whenever it arrives.
const upsertCreatedSQL = `
	INSERT INTO repair_requests
	(id, initiator, landlord, property_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		initiator = excluded.initiator,
		landlord = excluded.landlord,
		property_id = excluded.property_id,
		created_at = excluded.created_at,
		updated_at = MAX(repair_requests.updated_at, excluded.updated_at)
`

// UpsertStatus writes the status of a request observed at position at.
func (s *Store) UpsertStatus(ctx context.Context, ref Ref, status ledger.Status, at Position) (bool, error) {
	return upsertField(ctx, s.db, upsertStatusSQL, ref, int64(status), at)
}

// UpsertDescriptionHash writes the description hash of a request observed at
// position at.
func (s *Store) UpsertDescriptionHash(ctx context.Context, ref Ref, hash string, at Position) (bool, error) {
	return upsertField(ctx, s.db, upsertDescriptionSQL, ref, hash, at)
}

// UpsertWorkDetailsHash writes the work details hash of a request observed
// at position at.
func (s *Store) UpsertWorkDetailsHash(ctx context.Context, ref Ref, hash string, at Position) (bool, error) {
	return upsertField(ctx, s.db, upsertWorkDetailsSQL, ref, hash, at)
}

func upsertField(ctx context.Context, db execer, query string, ref Ref, value any, at Position) (bool, error) {
	res, err := db.ExecContext(ctx, query,
		ref.ID, ref.Initiator.String(), ref.Landlord.String(), value,
		at.Timestamp, at.Block, at.Index, at.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("upsert request %d: %w", ref.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert request %d: rows affected: %w", ref.ID, err)
	}
	return n > 0, nil
}

// Apply projects one repair event. The event is recorded in the applied-event
// ledger and written to the projection in a single transaction; an event
// whose key is already recorded is a no-op and Apply returns false.
// Non-repair events are ignored.
func (s *Store) Apply(ctx context.Context, e ledger.Event) (bool, error) {
	if !e.IsRepairEvent() {
		return false, nil
	}

	key, err := e.Key()
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", e.Type, err)
	}
	payload, err := ir.MarshalCanonical(e.Payload())
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", e.Type, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("apply %s: begin: %w", e.Type, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO applied_events
		(event_key, request_id, event_type, timestamp, block, log_index, tx_hash, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_key) DO NOTHING
	`, key, e.RequestID, string(e.Type), e.Timestamp, e.Block, e.Index, e.TxHash, string(payload))
	if err != nil {
		return false, fmt.Errorf("apply %s: record event: %w", e.Type, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply %s: rows affected: %w", e.Type, err)
	}
	if n == 0 {
		return false, nil
	}

	ref, at := RefOf(e), PositionOf(e)
	switch e.Type {
	case ledger.EventCreated:
		_, err = tx.ExecContext(ctx, upsertCreatedSQL,
			ref.ID, ref.Initiator.String(), ref.Landlord.String(), e.PropertyID, e.Timestamp, e.Timestamp)
		if err == nil {
			_, err = upsertField(ctx, tx, upsertStatusSQL, ref, int64(ledger.StatusPending), at)
		}
		if err == nil {
			_, err = upsertField(ctx, tx, upsertDescriptionSQL, ref, e.DescriptionHash, at)
		}
	case ledger.EventStatusChanged:
		_, err = upsertField(ctx, tx, upsertStatusSQL, ref, int64(e.NewStatus), at)
	case ledger.EventDescriptionUpdated:
		_, err = upsertField(ctx, tx, upsertDescriptionSQL, ref, e.NewHash, at)
	case ledger.EventWorkDetailsUpdated:
		_, err = upsertField(ctx, tx, upsertWorkDetailsSQL, ref, e.NewHash, at)
	}
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", e.Type, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("apply %s: commit: %w", e.Type, err)
	}
	return true, nil
}

// IsApplied reports whether an event with key has been applied.
func (s *Store) IsApplied(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applied_events WHERE event_key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is applied: %w", err)
	}
	return n > 0, nil
}
