package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Tenant struct {
	ID        string
	Name      string
	OwnerID   string
	Settings  string // JSON
	CreatedAt time.Time
}

type Cluster struct {
	ID        string
	TenantID  string
	Name      string
	Policy    string // JSON
	CreatedAt time.Time
}

type Server struct {
	ID              string
	ClusterID       string
	Name            string
	HostFingerprint string
	Status          string
	CreatedAt       time.Time
	LastSeenAt      time.Time
}

type Player struct {
	ID          string
	PlatformUID string
	Reputation  int
	Meta        string // JSON
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

func (s *Store) CreateTenant(ctx context.Context, t Tenant) error {
	if t.Settings == "" {
		t.Settings = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(id,name,owner_id,settings_json,created_at) VALUES(?,?,?,?,?)`,
		t.ID, t.Name, t.OwnerID, t.Settings, fmtTime(t.CreatedAt))
	return err
}

func (s *Store) FirstTenant(ctx context.Context) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,name,owner_id,settings_json,created_at FROM tenants ORDER BY created_at LIMIT 1`)
	var t Tenant
	var created string
	if err := row.Scan(&t.ID, &t.Name, &t.OwnerID, &t.Settings, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func (s *Store) CreateCluster(ctx context.Context, c Cluster) error {
	if c.Policy == "" {
		c.Policy = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clusters(id,tenant_id,name,policy_json,created_at) VALUES(?,?,?,?,?)`,
		c.ID, c.TenantID, c.Name, c.Policy, fmtTime(c.CreatedAt))
	return err
}

func (s *Store) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,tenant_id,name,policy_json,created_at FROM clusters WHERE id=?`, id)
	return scanCluster(row)
}

func (s *Store) FirstClusterForTenant(ctx context.Context, tenantID string) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,tenant_id,name,policy_json,created_at FROM clusters WHERE tenant_id=? ORDER BY created_at LIMIT 1`,
		tenantID)
	return scanCluster(row)
}

func scanCluster(row *sql.Row) (*Cluster, error) {
	var c Cluster
	var created string
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Policy, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func (s *Store) CreateServer(ctx context.Context, sv Server) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers(id,cluster_id,name,host_fingerprint,status,created_at,last_seen_at) VALUES(?,?,?,?,?,?,?)`,
		sv.ID, sv.ClusterID, sv.Name, sv.HostFingerprint, sv.Status, fmtTime(sv.CreatedAt), nullTime(sv.LastSeenAt))
	return err
}

func (s *Store) GetServer(ctx context.Context, id string) (*Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,cluster_id,name,host_fingerprint,status,created_at,last_seen_at FROM servers WHERE id=?`, id)
	var sv Server
	var created string
	var lastSeen sql.NullString
	if err := row.Scan(&sv.ID, &sv.ClusterID, &sv.Name, &sv.HostFingerprint, &sv.Status, &created, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sv.CreatedAt = parseTime(created)
	sv.LastSeenAt = parseTime(strOrEmpty(lastSeen))
	return &sv, nil
}

func (s *Store) ListServersForCluster(ctx context.Context, clusterID string) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,cluster_id,name,host_fingerprint,status,created_at,last_seen_at FROM servers WHERE cluster_id=? ORDER BY created_at`,
		clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Server
	for rows.Next() {
		var sv Server
		var created string
		var lastSeen sql.NullString
		if err := rows.Scan(&sv.ID, &sv.ClusterID, &sv.Name, &sv.HostFingerprint, &sv.Status, &created, &lastSeen); err != nil {
			return nil, err
		}
		sv.CreatedAt = parseTime(created)
		sv.LastSeenAt = parseTime(strOrEmpty(lastSeen))
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (s *Store) TouchServer(ctx context.Context, id string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE servers SET last_seen_at=? WHERE id=?`, fmtTime(seen), id)
	return err
}

func (s *Store) CreatePlayer(ctx context.Context, p Player) error {
	if p.Meta == "" {
		p.Meta = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players(id,platform_uid,reputation,meta_json,created_at,last_seen_at) VALUES(?,?,?,?,?,?)`,
		p.ID, p.PlatformUID, p.Reputation, p.Meta, fmtTime(p.CreatedAt), nullTime(p.LastSeenAt))
	return err
}

func (s *Store) GetPlayerByPlatformUID(ctx context.Context, uid string) (*Player, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,platform_uid,reputation,meta_json,created_at,last_seen_at FROM players WHERE platform_uid=?`, uid)
	var p Player
	var created string
	var lastSeen sql.NullString
	if err := row.Scan(&p.ID, &p.PlatformUID, &p.Reputation, &p.Meta, &created, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	p.LastSeenAt = parseTime(strOrEmpty(lastSeen))
	return &p, nil
}

func (s *Store) TouchPlayer(ctx context.Context, id string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET last_seen_at=? WHERE id=?`, fmtTime(seen), id)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}
