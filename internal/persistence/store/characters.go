package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Character struct {
	ID            string
	PlayerID      string
	ClusterID     string
	OwnedByServer string // empty when unowned
	LifeState     string
	Position      string // JSON, empty when unset
	Stats         string // JSON
	Inventory     string // canonical JSON, empty when never set
	Checksum      string // digest of Inventory as last persisted
	CreatedAt     time.Time
	LastSeenAt    time.Time
}

const characterCols = `id,player_id,cluster_id,owned_by_server,life_state,position_json,stats_json,inventory_json,inventory_checksum,created_at,last_seen_at`

func (s *Store) CreateCharacter(ctx context.Context, c Character) error {
	if c.Stats == "" {
		c.Stats = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO characters(`+characterCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.PlayerID, c.ClusterID, nullStr(c.OwnedByServer), c.LifeState,
		nullStr(c.Position), c.Stats, nullStr(c.Inventory), nullStr(c.Checksum),
		fmtTime(c.CreatedAt), nullTime(c.LastSeenAt))
	return err
}

func (s *Store) GetCharacter(ctx context.Context, id string) (*Character, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+characterCols+` FROM characters WHERE id=?`, id)
	return scanCharacter(row)
}

// FindAliveCharacter returns the player's alive character in a cluster, if
// one exists.
func (s *Store) FindAliveCharacter(ctx context.Context, playerID, clusterID string) (*Character, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+characterCols+` FROM characters WHERE player_id=? AND cluster_id=? AND life_state='alive' ORDER BY created_at LIMIT 1`,
		playerID, clusterID)
	return scanCharacter(row)
}

func scanCharacter(row *sql.Row) (*Character, error) {
	var c Character
	var owned, position, inventory, checksum, lastSeen sql.NullString
	var created string
	if err := row.Scan(&c.ID, &c.PlayerID, &c.ClusterID, &owned, &c.LifeState,
		&position, &c.Stats, &inventory, &checksum, &created, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.OwnedByServer = strOrEmpty(owned)
	c.Position = strOrEmpty(position)
	c.Inventory = strOrEmpty(inventory)
	c.Checksum = strOrEmpty(checksum)
	c.CreatedAt = parseTime(created)
	c.LastSeenAt = parseTime(strOrEmpty(lastSeen))
	return &c, nil
}

// SaveInventory persists a character's new inventory and its checksum as one
// atomic write; the two never diverge in the store.
func (s *Store) SaveInventory(ctx context.Context, characterID, inventory, checksum string, seen time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET inventory_json=?, inventory_checksum=?, last_seen_at=? WHERE id=?`,
		inventory, checksum, fmtTime(seen), characterID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *Store) SetCharacterOwner(ctx context.Context, characterID, serverID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET owned_by_server=? WHERE id=?`, nullStr(serverID), characterID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// UpdateCharacterVitals merges heartbeat data: position replaces, stats are
// pre-merged by the caller, last seen advances.
func (s *Store) UpdateCharacterVitals(ctx context.Context, characterID, position, stats string, seen time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET position_json=?, stats_json=?, last_seen_at=? WHERE id=?`,
		nullStr(position), stats, fmtTime(seen), characterID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
