package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/repairsync/internal/ledger"
)

const recordColumns = `
	id, initiator, landlord, property_id, created_at, updated_at,
	status, status_ts, status_block, status_index,
	description_hash, description_ts, description_block, description_index,
	work_details_hash, work_details_ts, work_details_block, work_details_index,
	description, urgency, attachments
`

// ReadByID returns the projected record for id, or ErrNotFound.
func (s *Store) ReadByID(ctx context.Context, id uint64) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM repair_requests WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("read request %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read request %d: %w", id, err)
	}
	return r, nil
}

// ListByInitiator returns every record initiated by account, ordered by id.
func (s *Store) ListByInitiator(ctx context.Context, account ledger.Address) ([]Record, error) {
	return s.list(ctx, `WHERE initiator = ?`, account.String())
}

// ListByLandlord returns every record assigned to account, ordered by id.
func (s *Store) ListByLandlord(ctx context.Context, account ledger.Address) ([]Record, error) {
	return s.list(ctx, `WHERE landlord = ?`, account.String())
}

// ListAll returns every record, ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	return s.list(ctx, ``)
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM repair_requests `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list requests: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return records, nil
}

// History returns the events applied for a request in ledger order.
func (s *Store) History(ctx context.Context, id uint64) ([]AppliedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_key, request_id, event_type, timestamp, block, log_index, tx_hash, payload
		FROM applied_events
		WHERE request_id = ?
		ORDER BY timestamp ASC, block ASC, log_index ASC, event_key COLLATE BINARY ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("history %d: %w", id, err)
	}
	defer rows.Close()

	events := []AppliedEvent{}
	for rows.Next() {
		var e AppliedEvent
		var typ string
		if err := rows.Scan(&e.Key, &e.RequestID, &typ, &e.At.Timestamp, &e.At.Block, &e.At.Index, &e.TxHash, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan applied event: %w", err)
		}
		e.Type = ledger.EventType(typ)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                   Record
		initiator, landlord string
		status              int64
		urgency             string
		attachments         string
	)
	err := sc.Scan(
		&r.ID, &initiator, &landlord, &r.PropertyID, &r.CreatedAt, &r.UpdatedAt,
		&status, &r.StatusAt.Timestamp, &r.StatusAt.Block, &r.StatusAt.Index,
		&r.DescriptionHash, &r.DescriptionAt.Timestamp, &r.DescriptionAt.Block, &r.DescriptionAt.Index,
		&r.WorkDetailsHash, &r.WorkDetailsAt.Timestamp, &r.WorkDetailsAt.Block, &r.WorkDetailsAt.Index,
		&r.Description, &urgency, &attachments,
	)
	if err != nil {
		return Record{}, err
	}

	r.Initiator = ledger.Address(initiator)
	r.Landlord = ledger.Address(landlord)
	r.Status = ledger.Status(status)
	r.Urgency = Urgency(urgency)
	if err := json.Unmarshal([]byte(attachments), &r.Attachments); err != nil {
		return Record{}, fmt.Errorf("decode attachments of request %d: %w", r.ID, err)
	}
	return r, nil
}
