package tickets

import (
	"testing"
	"time"
)

func issuedTicket(expiresAt time.Time) *Ticket {
	return &Ticket{
		ID:             "t1",
		CharacterID:    "c1",
		SourceServerID: "srv-a",
		TargetServerID: "srv-b",
		Status:         StatusIssued,
		ExpiresAt:      expiresAt,
	}
}

func TestEvaluateRedeem(t *testing.T) {
	now := time.Unix(5000, 0)
	redeemedAt := now.Add(-time.Minute)

	cases := []struct {
		name     string
		ticket   *Ticket
		claimant string
		want     RedeemVerdict
	}{
		{"granted", issuedTicket(now.Add(time.Minute)), "srv-b", OwnershipGranted},
		{"missing", nil, "srv-b", TicketNotFound},
		{"expired by clock", issuedTicket(now.Add(-time.Second)), "srv-b", TicketExpired},
		{"wrong claimant", issuedTicket(now.Add(time.Minute)), "srv-a", WrongClaimant},
		{"already redeemed", &Ticket{Status: StatusRedeemed, TargetServerID: "srv-b", ExpiresAt: now.Add(time.Minute), RedeemedAt: &redeemedAt}, "srv-b", TicketAlreadyRedeemed},
		{"expired status", &Ticket{Status: StatusExpired, TargetServerID: "srv-b"}, "srv-b", TicketExpired},
		{"cancelled reads as gone", &Ticket{Status: StatusCancelled, TargetServerID: "srv-b", ExpiresAt: now.Add(time.Minute)}, "srv-b", TicketNotFound},
	}
	for _, c := range cases {
		if got := EvaluateRedeem(c.ticket, c.claimant, now); got != c.want {
			t.Fatalf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEvaluateRedeem_ExpiryBeforeClaimant(t *testing.T) {
	// A stale ticket is expired even for the wrong claimant.
	now := time.Unix(5000, 0)
	tk := issuedTicket(now.Add(-time.Second))
	if got := EvaluateRedeem(tk, "srv-z", now); got != TicketExpired {
		t.Fatalf("got %v, want TicketExpired", got)
	}
}

func TestLive(t *testing.T) {
	now := time.Unix(5000, 0)
	if !issuedTicket(now.Add(time.Second)).Live(now) {
		t.Fatalf("issued unexpired ticket must be live")
	}
	if issuedTicket(now.Add(-time.Second)).Live(now) {
		t.Fatalf("expired ticket must not be live")
	}
	cancelled := issuedTicket(now.Add(time.Second))
	cancelled.Status = StatusCancelled
	if cancelled.Live(now) {
		t.Fatalf("cancelled ticket must not be live")
	}
	var nilTicket *Ticket
	if nilTicket.Live(now) {
		t.Fatalf("nil ticket must not be live")
	}
}

func TestCooldownActive(t *testing.T) {
	now := time.Unix(5000, 0)
	cooldown := 180 * time.Second
	if !CooldownActive(now.Add(-time.Minute), cooldown, now) {
		t.Fatalf("transfer one minute ago must still cool down")
	}
	if CooldownActive(now.Add(-181*time.Second), cooldown, now) {
		t.Fatalf("transfer outside the window must not cool down")
	}
	if CooldownActive(time.Time{}, cooldown, now) {
		t.Fatalf("zero redeemedAt means no prior transfer")
	}
	if CooldownActive(now.Add(-time.Second), 0, now) {
		t.Fatalf("zero cooldown disables the check")
	}
}
