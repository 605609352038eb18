package hive

import (
	"context"
	"encoding/json"
	"fmt"

	"hivesync.gg/internal/hive/state"
)

type ApplyRequest struct {
	CharacterID    string
	ServerID       string
	Ops            []state.Op
	BaseChecksum   string
	IdempotencyKey string
}

type SetRequest struct {
	CharacterID    string
	ServerID       string
	Slots          map[string]any
	ClientChecksum string
	IdempotencyKey string
}

// MutationResult is the outcome of apply and set. Checksum is always the
// checksum stored after the call: the new digest on success, the unchanged
// one on conflict or duplicate.
type MutationResult struct {
	CharacterID string
	Checksum    string
	Conflict    bool
	Details     *ConflictInfo
	Duplicate   bool
	Skipped     []state.Diagnostic
}

type ConflictInfo struct {
	Reason           string
	ExpectedChecksum string
	CurrentChecksum  string
}

// ApplyOps runs an incremental op batch through the full mutation gauntlet.
// A checksum mismatch is an in-band conflict result, not an error; the caller
// refetches and resubmits against the reported current checksum.
func (s *Service) ApplyOps(ctx context.Context, req ApplyRequest) (*MutationResult, error) {
	mu := s.locks.lock(req.CharacterID)
	defer mu.Unlock()

	outcome, err := s.guard.EnsureFresh(ctx, req.IdempotencyKey, req.ServerID)
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency: %v", ErrStorage, err)
	}
	if outcome.Duplicate() {
		return s.duplicateResult(ctx, req.CharacterID)
	}

	c, err := s.store.GetCharacter(ctx, req.CharacterID)
	if err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	if err := s.authorize(c, req.ServerID); err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}

	// Optimistic concurrency gate. An empty stored checksum means the
	// inventory was never written; any base is accepted then.
	if c.Checksum != "" && c.Checksum != req.BaseChecksum {
		s.metrics.Conflicts.Add(1)
		return &MutationResult{
			CharacterID: c.ID,
			Checksum:    c.Checksum,
			Conflict:    true,
			Details: &ConflictInfo{
				Reason:           "checksum_mismatch",
				ExpectedChecksum: req.BaseChecksum,
				CurrentChecksum:  c.Checksum,
			},
		}, nil
	}

	tree, err := s.loadInventory(c.Inventory)
	if err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	merged, diags := state.Apply(tree, req.Ops)
	canonical, err := json.Marshal(merged)
	if err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	digest := state.Digest(merged)

	if err := s.store.SaveInventory(ctx, c.ID, string(canonical), digest, s.now().UTC()); err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	s.metrics.Applied.Add(1)
	s.emitEvent(ctx, "inventory_updated", "", c.ID, req.ServerID, map[string]any{
		"checksum": digest,
		"ops":      len(req.Ops),
		"skipped":  len(diags),
	})
	return &MutationResult{CharacterID: c.ID, Checksum: digest, Skipped: diags}, nil
}

// SetInventory replaces the whole tree. When the client sends its own
// checksum it must match the server-side digest of the submitted slots;
// otherwise the write is refused as a conflict and nothing changes.
func (s *Service) SetInventory(ctx context.Context, req SetRequest) (*MutationResult, error) {
	mu := s.locks.lock(req.CharacterID)
	defer mu.Unlock()

	outcome, err := s.guard.EnsureFresh(ctx, req.IdempotencyKey, req.ServerID)
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency: %v", ErrStorage, err)
	}
	if outcome.Duplicate() {
		return s.duplicateResult(ctx, req.CharacterID)
	}

	c, err := s.store.GetCharacter(ctx, req.CharacterID)
	if err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	if err := s.authorize(c, req.ServerID); err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}

	tree, err := state.TreeFromAny(req.Slots)
	if err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	digest := state.Digest(tree)
	if req.ClientChecksum != "" && req.ClientChecksum != digest {
		s.metrics.Conflicts.Add(1)
		return &MutationResult{
			CharacterID: c.ID,
			Checksum:    c.Checksum,
			Conflict:    true,
			Details: &ConflictInfo{
				Reason:           "client_checksum_mismatch",
				ExpectedChecksum: req.ClientChecksum,
				CurrentChecksum:  digest,
			},
		}, nil
	}

	canonical, err := json.Marshal(tree)
	if err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	if err := s.store.SaveInventory(ctx, c.ID, string(canonical), digest, s.now().UTC()); err != nil {
		s.dropKey(ctx, req.IdempotencyKey)
		return nil, err
	}
	s.metrics.Applied.Add(1)
	s.emitEvent(ctx, "inventory_set", "", c.ID, req.ServerID, map[string]any{
		"checksum": digest,
	})
	return &MutationResult{CharacterID: c.ID, Checksum: digest}, nil
}

// duplicateResult answers a replayed request: current stored checksum, no
// second mutation, no second event.
func (s *Service) duplicateResult(ctx context.Context, characterID string) (*MutationResult, error) {
	s.metrics.Duplicates.Add(1)
	c, err := s.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	return &MutationResult{CharacterID: c.ID, Checksum: c.Checksum, Duplicate: true}, nil
}

// dropKey releases an idempotency key after a rejected mutation so a
// corrected retry is not mistaken for a replay. Best effort.
func (s *Service) dropKey(ctx context.Context, key string) {
	if err := s.guard.Remove(ctx, key); err != nil {
		s.log.Printf("idempotency: release key %s: %v", key, err)
	}
}

func (s *Service) loadInventory(raw string) (state.Tree, error) {
	if raw == "" {
		return state.Tree{}, nil
	}
	return state.Decode([]byte(raw))
}
