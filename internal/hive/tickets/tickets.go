// Package tickets holds the move-ticket state machine that transfers write
// authority over a character between servers. Transitions are one-way and
// expiry is lazy: a ticket is never flipped by a timer, only judged against
// the clock when someone looks at it.
package tickets

import "time"

type Status string

const (
	StatusIssued    Status = "issued"
	StatusRedeemed  Status = "redeemed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Ticket is a time-bounded, single-use grant. Retained forever for audit.
type Ticket struct {
	ID             string     `json:"id"`
	CharacterID    string     `json:"character_id"`
	SourceServerID string     `json:"source_server_id"`
	TargetServerID string     `json:"target_server_id"`
	Status         Status     `json:"status"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	RedeemedAt     *time.Time `json:"redeemed_at,omitempty"`
}

// RedeemVerdict is the outcome of evaluating a redemption attempt.
type RedeemVerdict int

const (
	OwnershipGranted RedeemVerdict = iota
	TicketNotFound
	TicketExpired
	TicketAlreadyRedeemed
	WrongClaimant
)

func (v RedeemVerdict) String() string {
	switch v {
	case OwnershipGranted:
		return "granted"
	case TicketNotFound:
		return "not_found"
	case TicketExpired:
		return "expired"
	case TicketAlreadyRedeemed:
		return "already_redeemed"
	case WrongClaimant:
		return "wrong_claimant"
	default:
		return "unknown"
	}
}

// EvaluateRedeem judges one redemption attempt. It is pure; the caller is
// responsible for making the issued→redeemed flip an atomic compare-and-swap
// in the store. A cancelled ticket was superseded and reads as not found.
func EvaluateRedeem(t *Ticket, claimant string, now time.Time) RedeemVerdict {
	if t == nil {
		return TicketNotFound
	}
	switch t.Status {
	case StatusRedeemed:
		return TicketAlreadyRedeemed
	case StatusExpired:
		return TicketExpired
	case StatusCancelled:
		return TicketNotFound
	case StatusIssued:
		// fall through
	default:
		return TicketNotFound
	}
	if now.After(t.ExpiresAt) {
		return TicketExpired
	}
	if claimant != t.TargetServerID {
		return WrongClaimant
	}
	return OwnershipGranted
}

// Live reports whether the ticket still blocks a new issuance: issued and not
// yet past its deadline.
func (t *Ticket) Live(now time.Time) bool {
	return t != nil && t.Status == StatusIssued && !now.After(t.ExpiresAt)
}

// CooldownActive reports whether a completed transfer at redeemedAt still
// forbids issuing a new ticket at now.
func CooldownActive(redeemedAt time.Time, cooldown time.Duration, now time.Time) bool {
	if redeemedAt.IsZero() || cooldown <= 0 {
		return false
	}
	return now.Sub(redeemedAt) < cooldown
}
