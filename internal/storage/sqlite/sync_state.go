package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/steveyegge/mpsync/internal/storage"
)

// GetWatermark implements storage.IdentityStore.
func (s *Store) GetWatermark(ctx context.Context, projectID string) (time.Time, bool, error) {
	if err := s.checkOpen(); err != nil {
		return time.Time{}, false, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_sync FROM sync_state WHERE project_id = ?`, projectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapDBErrorf(err, "get watermark of project %s", projectID)
	}

	t, err := storage.ParseTime(raw)
	if err != nil {
		return time.Time{}, false, wrapDBErrorf(err, "parse watermark of project %s", projectID)
	}
	return t, true, nil
}

// SetWatermark implements storage.IdentityStore.
func (s *Store) SetWatermark(ctx context.Context, projectID string, t time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (project_id, last_sync) VALUES (?, ?)
		ON CONFLICT (project_id) DO UPDATE SET last_sync = excluded.last_sync
	`, projectID, storage.FormatTime(t))
	return wrapDBErrorf(err, "set watermark of project %s", projectID)
}

// ListWatermarks implements storage.IdentityStore.
func (s *Store) ListWatermarks(ctx context.Context) (map[string]time.Time, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT project_id, last_sync FROM sync_state ORDER BY project_id`)
	if err != nil {
		return nil, wrapDBError("list watermarks", err)
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var projectID, raw string
		if err := rows.Scan(&projectID, &raw); err != nil {
			return nil, wrapDBError("scan watermark", err)
		}
		t, err := storage.ParseTime(raw)
		if err != nil {
			return nil, wrapDBErrorf(err, "parse watermark of project %s", projectID)
		}
		result[projectID] = t
	}
	return result, wrapDBError("iterate watermarks", rows.Err())
}
