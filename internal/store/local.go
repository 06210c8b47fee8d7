package store

import (
	"context"
	"fmt"

	"github.com/roach88/repairsync/internal/ir"
)

// SetLocalDetails replaces the locally-owned fields of a projected request.
// Ledger-owned fields are left alone. Returns ErrNotFound if the request has
// not been projected yet.
func (s *Store) SetLocalDetails(ctx context.Context, id uint64, d LocalDetails) error {
	if d.Urgency == "" {
		d.Urgency = UrgencyNormal
	}
	if !d.Urgency.Valid() {
		return fmt.Errorf("set local details %d: invalid urgency %q", id, d.Urgency)
	}
	if d.Attachments == nil {
		d.Attachments = []string{}
	}
	attachments, err := ir.MarshalCanonical(d.Attachments)
	if err != nil {
		return fmt.Errorf("set local details %d: %w", id, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE repair_requests
		SET description = ?, urgency = ?, attachments = ?
		WHERE id = ?
	`, d.Description, string(d.Urgency), string(attachments), id)
	if err != nil {
		return fmt.Errorf("set local details %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set local details %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("set local details %d: %w", id, ErrNotFound)
	}
	return nil
}
