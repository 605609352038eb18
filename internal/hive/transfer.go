package hive

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"hivesync.gg/internal/hive/tickets"
	"hivesync.gg/internal/persistence/store"
)

type IssueRequest struct {
	CharacterID    string
	SourceServerID string
	TargetServerID string
}

// IssueTicket grants a time-bounded, single-use right to take ownership of a
// character. Issuing supersedes any still-issued ticket; the most recent
// grant is the only live one. A character fresh out of a completed transfer
// is in cooldown and cannot be moved again yet.
func (s *Service) IssueTicket(ctx context.Context, req IssueRequest) (*tickets.Ticket, error) {
	mu := s.locks.lock(req.CharacterID)
	defer mu.Unlock()

	if _, err := s.store.GetCharacter(ctx, req.CharacterID); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	lastAt, ok, err := s.store.LastTransferAt(ctx, req.CharacterID)
	if err != nil {
		return nil, err
	}
	if ok && tickets.CooldownActive(lastAt, s.cfg.SwitchCooldown(), now) {
		return nil, &CooldownError{CharacterID: req.CharacterID, Until: lastAt.Add(s.cfg.SwitchCooldown())}
	}

	if _, err := s.store.CancelIssuedTickets(ctx, req.CharacterID); err != nil {
		return nil, err
	}

	t := &tickets.Ticket{
		ID:             uuid.NewString(),
		CharacterID:    req.CharacterID,
		SourceServerID: req.SourceServerID,
		TargetServerID: req.TargetServerID,
		Status:         tickets.StatusIssued,
		ExpiresAt:      now.Add(s.cfg.MoveTicketTTL()),
		CreatedAt:      now,
	}
	if err := s.store.InsertTicket(ctx, t); err != nil {
		return nil, err
	}
	s.metrics.TicketsIssued.Add(1)
	s.emitEvent(ctx, "move_ticket_issued", "", req.CharacterID, req.SourceServerID, map[string]any{
		"ticket_id":  t.ID,
		"target":     req.TargetServerID,
		"expires_at": t.ExpiresAt,
	})
	return t, nil
}

type RedeemRequest struct {
	TicketID string
	ServerID string
}

type RedeemResult struct {
	CharacterID string
}

// RedeemTicket transfers ownership to the claimant. The issued→redeemed flip
// and the ownership write commit as one store transaction, so of two racing
// redeems exactly one wins and a consumed ticket always means a completed
// transfer; expiry is judged lazily against the clock at redeem time.
func (s *Service) RedeemTicket(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	t, err := s.store.GetTicket(ctx, req.TicketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &TicketError{TicketID: req.TicketID, Verdict: tickets.TicketNotFound}
	}
	if err != nil {
		return nil, err
	}

	mu := s.locks.lock(t.CharacterID)
	defer mu.Unlock()

	// Re-read under the lock; a concurrent redeem or cancel may have won.
	t, err = s.store.GetTicket(ctx, req.TicketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &TicketError{TicketID: req.TicketID, Verdict: tickets.TicketNotFound}
	}
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	verdict := tickets.EvaluateRedeem(t, req.ServerID, now)
	if verdict == tickets.TicketExpired && t.Status == tickets.StatusIssued {
		if err := s.store.MarkTicketExpired(ctx, t.ID); err != nil {
			s.log.Printf("tickets: mark %s expired: %v", t.ID, err)
		}
	}
	if verdict != tickets.OwnershipGranted {
		return nil, &TicketError{TicketID: t.ID, Verdict: verdict}
	}

	won, err := s.store.RedeemTicketAndTransfer(ctx, t.ID, t.CharacterID, req.ServerID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &TicketError{TicketID: t.ID, Verdict: tickets.TicketAlreadyRedeemed}
	}
	s.metrics.TicketsRedeemed.Add(1)
	s.emitEvent(ctx, "move_ticket_redeemed", "", t.CharacterID, req.ServerID, map[string]any{
		"ticket_id": t.ID,
		"source":    t.SourceServerID,
	})
	return &RedeemResult{CharacterID: t.CharacterID}, nil
}
