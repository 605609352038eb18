package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hivesync.gg/internal/hive/tickets"
)

const ticketCols = `id,character_id,source_server_id,target_server_id,status,expires_at,created_at,redeemed_at`

func (s *Store) InsertTicket(ctx context.Context, t *tickets.Ticket) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO move_tickets(`+ticketCols+`) VALUES(?,?,?,?,?,?,?,?)`,
		t.ID, t.CharacterID, nullStr(t.SourceServerID), nullStr(t.TargetServerID),
		string(t.Status), fmtTime(t.ExpiresAt), fmtTime(t.CreatedAt), nullTimePtr(t.RedeemedAt))
	return err
}

func (s *Store) GetTicket(ctx context.Context, id string) (*tickets.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketCols+` FROM move_tickets WHERE id=?`, id)
	return scanTicket(row)
}

// IssuedTicketForCharacter returns the character's ticket currently in
// status issued, if any. The schema-level invariant is at most one.
func (s *Store) IssuedTicketForCharacter(ctx context.Context, characterID string) (*tickets.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketCols+` FROM move_tickets WHERE character_id=? AND status='issued' ORDER BY created_at DESC LIMIT 1`,
		characterID)
	return scanTicket(row)
}

// CancelIssuedTickets supersedes every issued ticket for the character and
// reports how many were cancelled.
func (s *Store) CancelIssuedTickets(ctx context.Context, characterID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE move_tickets SET status='cancelled' WHERE character_id=? AND status='issued'`, characterID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RedeemTicketAndTransfer flips issued→redeemed and moves ownership in one
// transaction, so the ticket is never consumed without the transfer landing.
// The status flip is a compare-and-swap: exactly one of two concurrent
// redeems observes true, and a loss leaves both rows untouched.
func (s *Store) RedeemTicketAndTransfer(ctx context.Context, ticketID, characterID, serverID string, redeemedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE move_tickets SET status='redeemed', redeemed_at=? WHERE id=? AND status='issued'`,
		fmtTime(redeemedAt), ticketID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE characters SET owned_by_server=? WHERE id=?`, serverID, characterID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// MarkTicketExpired records a lazily observed expiry. Only an issued ticket
// can expire; a concurrent redeem winning the race leaves it redeemed.
func (s *Store) MarkTicketExpired(ctx context.Context, ticketID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE move_tickets SET status='expired' WHERE id=? AND status='issued'`, ticketID)
	return err
}

// LastTransferAt returns the redeemed_at of the character's most recent
// completed transfer.
func (s *Store) LastTransferAt(ctx context.Context, characterID string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT redeemed_at FROM move_tickets WHERE character_id=? AND status='redeemed' AND redeemed_at IS NOT NULL ORDER BY redeemed_at DESC LIMIT 1`,
		characterID)
	var at string
	if err := row.Scan(&at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return parseTime(at), true, nil
}

func (s *Store) TicketsForCharacter(ctx context.Context, characterID string, limit int) ([]tickets.Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketCols+` FROM move_tickets WHERE character_id=? ORDER BY created_at DESC LIMIT ?`,
		characterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tickets.Ticket
	for rows.Next() {
		t, err := scanTicketRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTicket(row *sql.Row) (*tickets.Ticket, error) {
	var t tickets.Ticket
	var source, target, redeemed sql.NullString
	var status, expires, created string
	if err := row.Scan(&t.ID, &t.CharacterID, &source, &target, &status, &expires, &created, &redeemed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	fillTicket(&t, source, target, status, expires, created, redeemed)
	return &t, nil
}

func scanTicketRows(rows *sql.Rows) (*tickets.Ticket, error) {
	var t tickets.Ticket
	var source, target, redeemed sql.NullString
	var status, expires, created string
	if err := rows.Scan(&t.ID, &t.CharacterID, &source, &target, &status, &expires, &created, &redeemed); err != nil {
		return nil, err
	}
	fillTicket(&t, source, target, status, expires, created, redeemed)
	return &t, nil
}

func fillTicket(t *tickets.Ticket, source, target sql.NullString, status, expires, created string, redeemed sql.NullString) {
	t.SourceServerID = strOrEmpty(source)
	t.TargetServerID = strOrEmpty(target)
	t.Status = tickets.Status(status)
	t.ExpiresAt = parseTime(expires)
	t.CreatedAt = parseTime(created)
	if redeemed.Valid {
		at := parseTime(redeemed.String)
		t.RedeemedAt = &at
	}
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
