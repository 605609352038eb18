package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// The Store is the durable tier behind internal/hive/idem.Guard.

func (s *Store) InsertIdempotencyKey(ctx context.Context, key, serverID string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys(key,server_id,created_at) VALUES(?,?,?)`,
		key, serverID, fmtTime(createdAt))
	return err
}

func (s *Store) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT server_id FROM idempotency_keys WHERE key=?`, key)
	var serverID string
	if err := row.Scan(&serverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return serverID, true, nil
}

func (s *Store) DeleteIdempotencyKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key=?`, key)
	return err
}

// SweepIdempotencyKeys deletes records older than the cutoff. Run by an
// operator or cron, never by a background goroutine in-process.
func (s *Store) SweepIdempotencyKeys(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < ?`, fmtTime(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
