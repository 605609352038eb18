// Package protocol defines the JSON wire types of the hive HTTP API and the
// error codes servers can rely on programmatically.
package protocol

import "time"

// ApplyOpsRequest is an incremental inventory mutation: an ordered op batch
// against a base checksum.
type ApplyOpsRequest struct {
	CharacterID    string   `json:"character_id"`
	ServerID       string   `json:"server_id"`
	Ops            []WireOp `json:"ops"`
	BaseChecksum   string   `json:"base_checksum"`
	IdempotencyKey string   `json:"idempotency_key"`
}

// WireOp mirrors internal/hive/state.Op for schema validation. Item carries
// any state value: scalar, object or array.
type WireOp struct {
	Op   string `json:"op"`
	Path string `json:"path"`
	Item any    `json:"item,omitempty"`
}

// SetInventoryRequest replaces the whole inventory tree. ClientChecksum, when
// present, must match the server-side digest of Slots or the write is refused.
type SetInventoryRequest struct {
	CharacterID    string         `json:"character_id"`
	ServerID       string         `json:"server_id"`
	Slots          map[string]any `json:"slots"`
	ClientChecksum string         `json:"client_checksum,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// MutationResponse is shared by apply and set. Checksum is always the stored
// checksum after the call: the new digest on success, the current one on
// conflict or duplicate.
type MutationResponse struct {
	CharacterID     string           `json:"character_id"`
	Checksum        string           `json:"checksum"`
	Conflict        bool             `json:"conflict"`
	ConflictDetails *ConflictDetails `json:"conflict_details,omitempty"`
	Duplicate       bool             `json:"duplicate,omitempty"`
	Skipped         []SkippedOp      `json:"skipped,omitempty"`
}

type ConflictDetails struct {
	Reason           string `json:"reason"`
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
	CurrentChecksum  string `json:"current_checksum,omitempty"`
}

// SkippedOp reports a malformed or failed op that was skipped while the rest
// of the batch proceeded.
type SkippedOp struct {
	Index   int    `json:"index"`
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ClaimRequest struct {
	PlatformUID string         `json:"platform_uid"`
	ClusterID   string         `json:"cluster_id"`
	ServerID    string         `json:"server_id"`
	Position    map[string]any `json:"position,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
}

type ClaimResponse struct {
	CharacterID string `json:"character_id"`
	PlayerID    string `json:"player_id"`
	Checksum    string `json:"checksum"`
	Created     bool   `json:"created"`
}

type HeartbeatRequest struct {
	CharacterID string         `json:"character_id"`
	ServerID    string         `json:"server_id"`
	Position    map[string]any `json:"position,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
}

type HeartbeatResponse struct {
	CharacterID string    `json:"character_id"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// CharacterView is the read model returned by GET /v1/characters/{id}. The
// checksum is the stored value, never recomputed at read time.
type CharacterView struct {
	ID            string         `json:"id"`
	PlayerID      string         `json:"player_id"`
	ClusterID     string         `json:"cluster_id"`
	OwnedByServer string         `json:"owned_by_server,omitempty"`
	LifeState     string         `json:"life_state"`
	Position      map[string]any `json:"position,omitempty"`
	Stats         map[string]any `json:"stats,omitempty"`
	Inventory     map[string]any `json:"inventory,omitempty"`
	Checksum      string         `json:"checksum,omitempty"`
	LastSeenAt    *time.Time     `json:"last_seen_at,omitempty"`
}

type IssueTicketRequest struct {
	CharacterID    string `json:"character_id"`
	SourceServerID string `json:"source_server_id"`
	TargetServerID string `json:"target_server_id"`
}

type IssueTicketResponse struct {
	TicketID  string    `json:"ticket_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RedeemTicketRequest struct {
	TicketID string `json:"ticket_id"`
	ServerID string `json:"server_id"`
}

type RedeemTicketResponse struct {
	Status      string `json:"status"`
	CharacterID string `json:"character_id,omitempty"`
}

type BootstrapResponse struct {
	TenantID  string   `json:"tenant_id"`
	ClusterID string   `json:"cluster_id"`
	ServerIDs []string `json:"server_ids"`
	Created   bool     `json:"created"`
}

// ErrorEnvelope is the uniform error response body.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
