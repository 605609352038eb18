package hive

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"hivesync.gg/internal/persistence/store"
)

type ClaimRequest struct {
	PlatformUID string
	ClusterID   string
	ServerID    string
	Position    map[string]any
	Stats       map[string]any
}

type ClaimResult struct {
	CharacterID string
	PlayerID    string
	Checksum    string
	Created     bool
}

// Claim binds a player's alive character in a cluster to the calling server,
// creating player and character on first contact. The claiming server becomes
// the owner; subsequent writes from elsewhere fail the ownership check until
// a move ticket transfers authority.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if _, err := s.store.GetCluster(ctx, req.ClusterID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetServer(ctx, req.ServerID); err != nil {
		return nil, err
	}

	p, c, created, err := s.resolveClaim(ctx, req)
	if err != nil {
		return nil, err
	}

	// The ownership check-then-write and the vitals merge serialize with
	// every other mutator of this character.
	mu := s.locks.lock(c.ID)
	defer mu.Unlock()

	c, err = s.store.GetCharacter(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	// A character stays locked to its last server for the logout grace
	// window; takeover without a ticket is only possible once the session
	// has visibly lapsed (no heartbeat past the grace).
	if s.cfg.Strict() && c.OwnedByServer != "" && c.OwnedByServer != req.ServerID {
		if !c.LastSeenAt.IsZero() && now.Sub(c.LastSeenAt) < s.cfg.LogoutGrace() {
			s.metrics.OwnershipRejections.Add(1)
			return nil, &OwnershipError{CharacterID: c.ID, OwnedBy: c.OwnedByServer, Requesting: req.ServerID}
		}
	}

	if err := s.store.SetCharacterOwner(ctx, c.ID, req.ServerID); err != nil {
		return nil, err
	}
	if err := s.saveVitals(ctx, c, req.Position, req.Stats, now); err != nil {
		return nil, err
	}
	_ = s.store.TouchPlayer(ctx, p.ID, now)
	_ = s.store.TouchServer(ctx, req.ServerID, now)

	s.emitEvent(ctx, "character_claimed", p.ID, c.ID, req.ServerID, map[string]any{
		"created": created,
	})
	return &ClaimResult{CharacterID: c.ID, PlayerID: p.ID, Checksum: c.Checksum, Created: created}, nil
}

// resolveClaim finds or creates the player and their alive character. The
// uid-scoped lock keeps two first-contact claims from creating duplicates; it
// is released before the character lock is taken, never held together.
func (s *Service) resolveClaim(ctx context.Context, req ClaimRequest) (*store.Player, *store.Character, bool, error) {
	mu := s.locks.lock("claim/" + req.PlatformUID + "/" + req.ClusterID)
	defer mu.Unlock()
	now := s.now().UTC()

	p, err := s.store.GetPlayerByPlatformUID(ctx, req.PlatformUID)
	if errors.Is(err, store.ErrNotFound) {
		p = &store.Player{ID: uuid.NewString(), PlatformUID: req.PlatformUID, CreatedAt: now}
		if err := s.store.CreatePlayer(ctx, *p); err != nil {
			return nil, nil, false, err
		}
	} else if err != nil {
		return nil, nil, false, err
	}

	c, err := s.store.FindAliveCharacter(ctx, p.ID, req.ClusterID)
	if errors.Is(err, store.ErrNotFound) {
		c = &store.Character{
			ID:        uuid.NewString(),
			PlayerID:  p.ID,
			ClusterID: req.ClusterID,
			LifeState: "alive",
			CreatedAt: now,
		}
		if err := s.store.CreateCharacter(ctx, *c); err != nil {
			return nil, nil, false, err
		}
		return p, c, true, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return p, c, false, nil
}

type HeartbeatRequest struct {
	CharacterID string
	ServerID    string
	Position    map[string]any
	Stats       map[string]any
}

// Heartbeat merges position and stats for an owned character and advances
// last-seen.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (time.Time, error) {
	mu := s.locks.lock(req.CharacterID)
	defer mu.Unlock()

	c, err := s.store.GetCharacter(ctx, req.CharacterID)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.authorize(c, req.ServerID); err != nil {
		return time.Time{}, err
	}
	now := s.now().UTC()
	if err := s.saveVitals(ctx, c, req.Position, req.Stats, now); err != nil {
		return time.Time{}, err
	}
	_ = s.store.TouchServer(ctx, req.ServerID, now)
	s.emitEvent(ctx, "character_heartbeat", "", c.ID, req.ServerID, nil)
	return now, nil
}

// GetCharacter is the read model. The returned checksum is whatever was
// stored with the last inventory write, never recomputed here.
func (s *Service) GetCharacter(ctx context.Context, id string) (*store.Character, error) {
	return s.store.GetCharacter(ctx, id)
}

// saveVitals replaces position and shallow-merges stats over the stored
// ones, leaving either untouched when the request omits it.
func (s *Service) saveVitals(ctx context.Context, c *store.Character, position, stats map[string]any, now time.Time) error {
	posJSON := c.Position
	if position != nil {
		b, err := json.Marshal(position)
		if err != nil {
			return err
		}
		posJSON = string(b)
	}
	statsJSON := c.Stats
	if len(stats) > 0 {
		merged := map[string]any{}
		if c.Stats != "" {
			if err := json.Unmarshal([]byte(c.Stats), &merged); err != nil {
				merged = map[string]any{}
			}
		}
		for k, v := range stats {
			merged[k] = v
		}
		b, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		statsJSON = string(b)
	}
	if statsJSON == "" {
		statsJSON = "{}"
	}
	return s.store.UpdateCharacterVitals(ctx, c.ID, posJSON, statsJSON, now)
}
