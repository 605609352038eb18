package hive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"hivesync.gg/internal/hive/idem"
	"hivesync.gg/internal/hive/settings"
	"hivesync.gg/internal/hive/state"
	"hivesync.gg/internal/hive/tickets"
	"hivesync.gg/internal/persistence/store"
)

type fixture struct {
	svc       *Service
	st        *store.Store
	clusterID string
	serverA   string
	serverB   string
	clock     *time.Time
}

func newFixture(t *testing.T, cfg settings.Settings) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hive.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.New(io.Discard, "", 0)
	guard := idem.NewGuard(idem.NewMemoryStore(), st, cfg.IdempotencyTTL(), logger)
	svc := New(Options{Store: st, Guard: guard, Settings: cfg, Logger: logger})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }

	boot, err := svc.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !boot.Created || len(boot.ServerIDs) != 2 {
		t.Fatalf("unexpected bootstrap: %+v", boot)
	}
	return &fixture{
		svc:       svc,
		st:        st,
		clusterID: boot.ClusterID,
		serverA:   boot.ServerIDs[0],
		serverB:   boot.ServerIDs[1],
		clock:     clock,
	}
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func (f *fixture) claim(t *testing.T, uid, serverID string) *ClaimResult {
	t.Helper()
	res, err := f.svc.Claim(context.Background(), ClaimRequest{
		PlatformUID: uid,
		ClusterID:   f.clusterID,
		ServerID:    serverID,
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return res
}

func opsFromJSON(t *testing.T, raw string) []state.Op {
	t.Helper()
	var ops []state.Op
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		t.Fatalf("ops: %v", err)
	}
	return ops
}

func TestBootstrapIdempotent(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	again, err := f.svc.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if again.Created || again.ClusterID != f.clusterID {
		t.Fatalf("bootstrap not idempotent: %+v", again)
	}
}

func TestClaimFindOrCreate(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	first := f.claim(t, "steam:100", f.serverA)
	if !first.Created {
		t.Fatalf("expected created on first claim")
	}
	second := f.claim(t, "steam:100", f.serverA)
	if second.Created || second.CharacterID != first.CharacterID {
		t.Fatalf("expected existing character, got %+v", second)
	}

	c, err := f.svc.GetCharacter(context.Background(), first.CharacterID)
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	if c.OwnedByServer != f.serverA {
		t.Fatalf("claim did not take ownership: %+v", c)
	}
}

func TestClaimLockedUntilLogoutGrace(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	first := f.claim(t, "steam:150", f.serverA)

	// Session still warm: another server cannot take the character.
	_, err := f.svc.Claim(context.Background(), ClaimRequest{
		PlatformUID: "steam:150", ClusterID: f.clusterID, ServerID: f.serverB,
	})
	var oe *OwnershipError
	if !errors.As(err, &oe) || oe.OwnedBy != f.serverA {
		t.Fatalf("expected ownership error during grace, got %v", err)
	}

	// Once the grace has lapsed the claim goes through and ownership moves.
	f.advance(settings.Defaults().LogoutGrace() + time.Second)
	res := f.claim(t, "steam:150", f.serverB)
	if res.Created || res.CharacterID != first.CharacterID {
		t.Fatalf("expected takeover of existing character, got %+v", res)
	}
	c, err := f.svc.GetCharacter(context.Background(), first.CharacterID)
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	if c.OwnedByServer != f.serverB {
		t.Fatalf("ownership did not move: %+v", c)
	}
}

func TestClaimSerializedPerCharacter(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	first := f.claim(t, "steam:160", f.serverA)
	f.advance(settings.Defaults().LogoutGrace() + time.Second)

	// Hold the character's lock the way an in-flight heartbeat or apply
	// would; the takeover must wait for it.
	mu := f.svc.locks.lock(first.CharacterID)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Claim(context.Background(), ClaimRequest{
			PlatformUID: "steam:160", ClusterID: f.clusterID, ServerID: f.serverB,
		})
		done <- err
	}()

	select {
	case <-done:
		t.Fatalf("claim mutated ownership while the character was locked")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Unlock()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("claim after unlock: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("claim never completed")
	}

	c, err := f.svc.GetCharacter(context.Background(), first.CharacterID)
	if err != nil || c.OwnedByServer != f.serverB {
		t.Fatalf("takeover not applied: c=%+v err=%v", c, err)
	}
}

func TestClaimUnknownTopology(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	_, err := f.svc.Claim(context.Background(), ClaimRequest{
		PlatformUID: "steam:1", ClusterID: "nope", ServerID: f.serverA,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyOpsLifecycle(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:200", f.serverA)
	ctx := context.Background()

	ops := opsFromJSON(t, `[
		{"op":"add","path":"backpack.items","item":{"id":"i1","cls":"bandage"}},
		{"op":"update","path":"backpack.items","item":{"id":"i1","qty":2}}
	]`)

	// Bootstrap write: empty stored checksum accepts any base.
	res, err := f.svc.ApplyOps(ctx, ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: ops, BaseChecksum: "anything", IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("ApplyOps: %v", err)
	}
	if res.Conflict || res.Checksum == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	first := res.Checksum

	// Replay of the same key: no second mutation, current checksum reported.
	dup, err := f.svc.ApplyOps(ctx, ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: ops, BaseChecksum: first, IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !dup.Duplicate || dup.Checksum != first {
		t.Fatalf("expected duplicate with checksum %s, got %+v", first, dup)
	}
	if got := f.svc.Metrics().Duplicates.Load(); got != 1 {
		t.Fatalf("duplicates counter = %d", got)
	}

	// Stale base: in-band conflict carrying the current checksum.
	conflict, err := f.svc.ApplyOps(ctx, ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: ops, BaseChecksum: "stale", IdempotencyKey: "k2",
	})
	if err != nil {
		t.Fatalf("conflict path: %v", err)
	}
	if !conflict.Conflict || conflict.Details == nil || conflict.Details.CurrentChecksum != first {
		t.Fatalf("expected checksum conflict, got %+v", conflict)
	}

	// Correct base succeeds and changes the checksum.
	more := opsFromJSON(t, `[{"op":"remove","path":"backpack.items","item":{"id":"i1"}}]`)
	res2, err := f.svc.ApplyOps(ctx, ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: more, BaseChecksum: first, IdempotencyKey: "k3",
	})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if res2.Conflict || res2.Checksum == first {
		t.Fatalf("expected new checksum, got %+v", res2)
	}
}

func TestApplyOpsOwnershipRejected(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:300", f.serverA)
	ctx := context.Background()

	ops := opsFromJSON(t, `[{"op":"add","path":"belt","item":{"id":"knife"}}]`)
	_, err := f.svc.ApplyOps(ctx, ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverB,
		Ops: ops, BaseChecksum: "", IdempotencyKey: "k1",
	})
	var oe *OwnershipError
	if !errors.As(err, &oe) || oe.OwnedBy != f.serverA {
		t.Fatalf("expected ownership error, got %v", err)
	}

	// The rejected request released its key: the owner can reuse it.
	res, err := f.svc.ApplyOps(ctx, ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: ops, BaseChecksum: "", IdempotencyKey: "k1",
	})
	if err != nil || res.Duplicate {
		t.Fatalf("key not released after rejection: res=%+v err=%v", res, err)
	}
}

func TestApplyOpsStrictOwnershipOff(t *testing.T) {
	cfg := settings.Defaults()
	off := false
	cfg.StrictOwnership = &off
	f := newFixture(t, cfg)
	cl := f.claim(t, "steam:400", f.serverA)

	ops := opsFromJSON(t, `[{"op":"add","path":"belt","item":{"id":"knife"}}]`)
	res, err := f.svc.ApplyOps(context.Background(), ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverB,
		Ops: ops, BaseChecksum: "", IdempotencyKey: "k1",
	})
	if err != nil || res.Conflict {
		t.Fatalf("non-strict write rejected: res=%+v err=%v", res, err)
	}
}

func TestApplyOpsSkippedDiagnostics(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:500", f.serverA)

	ops := opsFromJSON(t, `[
		{"op":"teleport","path":"x","item":{}},
		{"op":"add","path":"belt","item":{"id":"knife"}}
	]`)
	res, err := f.svc.ApplyOps(context.Background(), ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: ops, BaseChecksum: "", IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("ApplyOps: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Code != state.DiagUnknownOp {
		t.Fatalf("expected one unknown_op diagnostic, got %+v", res.Skipped)
	}
}

func TestSetInventoryClientChecksum(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:600", f.serverA)
	ctx := context.Background()

	slots := map[string]any{"backpack": map[string]any{"items": []any{}}}
	digest, err := state.DigestAny(slots)
	if err != nil {
		t.Fatalf("DigestAny: %v", err)
	}

	res, err := f.svc.SetInventory(ctx, SetRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Slots: slots, ClientChecksum: digest, IdempotencyKey: "k1",
	})
	if err != nil || res.Conflict || res.Checksum != digest {
		t.Fatalf("set with matching checksum failed: res=%+v err=%v", res, err)
	}

	bad, err := f.svc.SetInventory(ctx, SetRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Slots: map[string]any{"belt": map[string]any{}}, ClientChecksum: "wrong", IdempotencyKey: "k2",
	})
	if err != nil {
		t.Fatalf("set mismatch: %v", err)
	}
	if !bad.Conflict || bad.Details.Reason != "client_checksum_mismatch" {
		t.Fatalf("expected client checksum conflict, got %+v", bad)
	}
	// Nothing changed.
	c, _ := f.svc.GetCharacter(ctx, cl.CharacterID)
	if c.Checksum != digest {
		t.Fatalf("conflicting set mutated state: %+v", c)
	}
}

func TestHeartbeatMergesVitals(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:700", f.serverA)
	ctx := context.Background()

	if _, err := f.svc.Heartbeat(ctx, HeartbeatRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Position: map[string]any{"x": 1.0, "z": 2.0},
		Stats:    map[string]any{"health": 80.0, "thirst": 30.0},
	}); err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	if _, err := f.svc.Heartbeat(ctx, HeartbeatRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Stats: map[string]any{"health": 75.0},
	}); err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}

	c, err := f.svc.GetCharacter(ctx, cl.CharacterID)
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	var stats map[string]any
	if err := json.Unmarshal([]byte(c.Stats), &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["health"] != 75.0 || stats["thirst"] != 30.0 {
		t.Fatalf("stats not merged: %v", stats)
	}
	if c.Position == "" {
		t.Fatalf("position dropped by stats-only heartbeat")
	}

	_, err = f.svc.Heartbeat(ctx, HeartbeatRequest{CharacterID: cl.CharacterID, ServerID: f.serverB})
	var oe *OwnershipError
	if !errors.As(err, &oe) {
		t.Fatalf("expected ownership error, got %v", err)
	}
}

func TestTicketTransferFlow(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:800", f.serverA)
	ctx := context.Background()

	tk, err := f.svc.IssueTicket(ctx, IssueRequest{
		CharacterID: cl.CharacterID, SourceServerID: f.serverA, TargetServerID: f.serverB,
	})
	if err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}
	if tk.Status != tickets.StatusIssued {
		t.Fatalf("unexpected ticket: %+v", tk)
	}

	// Wrong claimant bounces, ticket stays live.
	_, err = f.svc.RedeemTicket(ctx, RedeemRequest{TicketID: tk.ID, ServerID: f.serverA})
	var te *TicketError
	if !errors.As(err, &te) || te.Verdict != tickets.WrongClaimant {
		t.Fatalf("expected wrong claimant, got %v", err)
	}

	res, err := f.svc.RedeemTicket(ctx, RedeemRequest{TicketID: tk.ID, ServerID: f.serverB})
	if err != nil || res.CharacterID != cl.CharacterID {
		t.Fatalf("redeem: res=%+v err=%v", res, err)
	}
	c, _ := f.svc.GetCharacter(ctx, cl.CharacterID)
	if c.OwnedByServer != f.serverB {
		t.Fatalf("ownership not transferred: %+v", c)
	}

	// Single use.
	_, err = f.svc.RedeemTicket(ctx, RedeemRequest{TicketID: tk.ID, ServerID: f.serverB})
	if !errors.As(err, &te) || te.Verdict != tickets.TicketAlreadyRedeemed {
		t.Fatalf("expected already redeemed, got %v", err)
	}

	// The old owner lost write access.
	ops := opsFromJSON(t, `[{"op":"add","path":"belt","item":{"id":"knife"}}]`)
	_, err = f.svc.ApplyOps(ctx, ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: ops, BaseChecksum: "", IdempotencyKey: "k1",
	})
	var oe *OwnershipError
	if !errors.As(err, &oe) {
		t.Fatalf("expected ownership error for old owner, got %v", err)
	}

	// Fresh transfer puts the character in cooldown.
	_, err = f.svc.IssueTicket(ctx, IssueRequest{
		CharacterID: cl.CharacterID, SourceServerID: f.serverB, TargetServerID: f.serverA,
	})
	var ce *CooldownError
	if !errors.As(err, &ce) {
		t.Fatalf("expected cooldown error, got %v", err)
	}

	f.advance(settings.Defaults().SwitchCooldown() + time.Second)
	if _, err := f.svc.IssueTicket(ctx, IssueRequest{
		CharacterID: cl.CharacterID, SourceServerID: f.serverB, TargetServerID: f.serverA,
	}); err != nil {
		t.Fatalf("issue after cooldown: %v", err)
	}
}

func TestTicketExpiryLazy(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:900", f.serverA)
	ctx := context.Background()

	tk, err := f.svc.IssueTicket(ctx, IssueRequest{
		CharacterID: cl.CharacterID, SourceServerID: f.serverA, TargetServerID: f.serverB,
	})
	if err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}

	f.advance(settings.Defaults().MoveTicketTTL() + time.Second)
	_, err = f.svc.RedeemTicket(ctx, RedeemRequest{TicketID: tk.ID, ServerID: f.serverB})
	var te *TicketError
	if !errors.As(err, &te) || te.Verdict != tickets.TicketExpired {
		t.Fatalf("expected expired, got %v", err)
	}

	got, err := f.st.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != tickets.StatusExpired {
		t.Fatalf("lazy expiry not persisted: %+v", got)
	}
	// Owner unchanged.
	c, _ := f.svc.GetCharacter(ctx, cl.CharacterID)
	if c.OwnedByServer != f.serverA {
		t.Fatalf("expired redeem moved ownership: %+v", c)
	}
}

func TestIssueSupersedesIssued(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:1000", f.serverA)
	ctx := context.Background()

	first, err := f.svc.IssueTicket(ctx, IssueRequest{
		CharacterID: cl.CharacterID, SourceServerID: f.serverA, TargetServerID: f.serverB,
	})
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := f.svc.IssueTicket(ctx, IssueRequest{
		CharacterID: cl.CharacterID, SourceServerID: f.serverA, TargetServerID: f.serverB,
	})
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	// The superseded ticket reads as not found.
	_, err = f.svc.RedeemTicket(ctx, RedeemRequest{TicketID: first.ID, ServerID: f.serverB})
	var te *TicketError
	if !errors.As(err, &te) || te.Verdict != tickets.TicketNotFound {
		t.Fatalf("expected not found for superseded ticket, got %v", err)
	}
	if _, err := f.svc.RedeemTicket(ctx, RedeemRequest{TicketID: second.ID, ServerID: f.serverB}); err != nil {
		t.Fatalf("redeem live ticket: %v", err)
	}
}

func TestDuplicateEmitsNoSecondEvent(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	cl := f.claim(t, "steam:1100", f.serverA)
	ctx := context.Background()

	ops := opsFromJSON(t, `[{"op":"add","path":"belt","item":{"id":"knife"}}]`)
	req := ApplyRequest{
		CharacterID: cl.CharacterID, ServerID: f.serverA,
		Ops: ops, BaseChecksum: "", IdempotencyKey: "k1",
	}
	if _, err := f.svc.ApplyOps(ctx, req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := f.svc.ApplyOps(ctx, req); err != nil {
		t.Fatalf("replay: %v", err)
	}

	evs, err := f.st.RecentEvents(ctx, store.EventFilter{Type: "inventory_updated"})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected one inventory_updated event, got %d", len(evs))
	}
}

func TestBrokerFanOut(t *testing.T) {
	f := newFixture(t, settings.Defaults())
	ch, cancel := f.svc.Broker().Subscribe()
	defer cancel()

	f.claim(t, "steam:1200", f.serverA)

	select {
	case e := <-ch:
		if e.Type != "character_claimed" {
			t.Fatalf("unexpected event: %+v", e)
		}
		// Events carry the service clock, not the wall clock.
		if !e.TS.Equal(*f.clock) {
			t.Fatalf("event ts %v, want %v", e.TS, *f.clock)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
}
