package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Checkpoint returns the last synchronized position for scope. ok is false
// when the scope has never been synchronized.
func (s *Store) Checkpoint(ctx context.Context, scope string) (pos Position, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT timestamp, block, log_index FROM sync_checkpoints WHERE scope = ?
	`, scope).Scan(&pos.Timestamp, &pos.Block, &pos.Index)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("read checkpoint %q: %w", scope, err)
	}
	return pos, true, nil
}

// SaveCheckpoint records pos for scope. The checkpoint only moves forward.
func (s *Store) SaveCheckpoint(ctx context.Context, scope string, pos Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (scope, timestamp, block, log_index)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			timestamp = excluded.timestamp,
			block = excluded.block,
			log_index = excluded.log_index
		WHERE (excluded.timestamp, excluded.block, excluded.log_index)
		    > (sync_checkpoints.timestamp, sync_checkpoints.block, sync_checkpoints.log_index)
	`, scope, pos.Timestamp, pos.Block, pos.Index)
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", scope, err)
	}
	return nil
}
