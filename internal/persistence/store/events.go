package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one immutable audit record. Rows are only ever inserted;
// retention is an external concern.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Actor    string    `json:"actor,omitempty"`
	ObjectID string    `json:"object_id,omitempty"`
	ServerID string    `json:"server_id,omitempty"`
	Payload  string    `json:"payload"` // JSON
	TS       time.Time `json:"ts"`
}

func (s *Store) AppendEvent(ctx context.Context, e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id,type,actor,object_id,server_id,payload_json,ts) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.Type, nullStr(e.Actor), nullStr(e.ObjectID), nullStr(e.ServerID), e.Payload, fmtTime(e.TS))
	return e, err
}

type EventFilter struct {
	Limit    int
	Type     string
	ServerID string
	ObjectID string
}

// RecentEvents returns events newest-first with optional filters.
func (s *Store) RecentEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	var (
		conds []string
		args  []any
	)
	if f.Type != "" {
		conds = append(conds, "type=?")
		args = append(args, f.Type)
	}
	if f.ServerID != "" {
		conds = append(conds, "server_id=?")
		args = append(args, f.ServerID)
	}
	if f.ObjectID != "" {
		conds = append(conds, "object_id=?")
		args = append(args, f.ObjectID)
	}
	q := `SELECT id,type,actor,object_id,server_id,payload_json,ts FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY rowid_seq DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var actor, object, server sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.Type, &actor, &object, &server, &e.Payload, &ts); err != nil {
			return nil, err
		}
		e.Actor = strOrEmpty(actor)
		e.ObjectID = strOrEmpty(object)
		e.ServerID = strOrEmpty(server)
		e.TS = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

type Overview struct {
	Players      int64 `json:"players"`
	Characters   int64 `json:"characters"`
	Servers      int64 `json:"servers"`
	RecentEvents int64 `json:"recent_events"`
}

// Overview counts the main entities plus events from the last 24 hours.
func (s *Store) Overview(ctx context.Context) (Overview, error) {
	var o Overview
	counts := []struct {
		q    string
		dst  *int64
		args []any
	}{
		{`SELECT COUNT(*) FROM players`, &o.Players, nil},
		{`SELECT COUNT(*) FROM characters`, &o.Characters, nil},
		{`SELECT COUNT(*) FROM servers`, &o.Servers, nil},
		{`SELECT COUNT(*) FROM events WHERE ts >= ?`, &o.RecentEvents, []any{fmtTime(time.Now().UTC().Add(-24 * time.Hour))}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.q, c.args...).Scan(c.dst); err != nil {
			return Overview{}, err
		}
	}
	return o, nil
}
