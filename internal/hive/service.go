// Package hive orchestrates character state mutations: every write runs the
// same gauntlet of idempotency guard, ownership authority, checksum gate and
// merge engine, under a per-character lock, with a best-effort event trail.
package hive

import (
	"errors"
	"fmt"
	"log"
	"time"

	"hivesync.gg/internal/hive/idem"
	"hivesync.gg/internal/hive/settings"
	"hivesync.gg/internal/hive/tickets"
	"hivesync.gg/internal/persistence/store"
)

// ErrStorage marks infrastructure failures (durable tier unreachable) as
// opposed to domain rejections.
var ErrStorage = errors.New("storage unavailable")

// EventSink receives a copy of every committed event. Write failures are
// counted, never propagated.
type EventSink interface {
	WriteEvent(v any) error
}

type Options struct {
	Store    *store.Store
	Guard    *idem.Guard
	Settings settings.Settings
	Logger   *log.Logger
	Mirror   EventSink // optional
}

type Service struct {
	store  *store.Store
	guard  *idem.Guard
	cfg    settings.Settings
	log    *log.Logger
	mirror EventSink

	locks   keyedLocks
	metrics Metrics
	broker  *Broker

	now func() time.Time
}

func New(opts Options) *Service {
	return &Service{
		store:  opts.Store,
		guard:  opts.Guard,
		cfg:    opts.Settings,
		log:    opts.Logger,
		mirror: opts.Mirror,
		broker: NewBroker(),
		now:    time.Now,
	}
}

func (s *Service) Metrics() *Metrics { return &s.metrics }
func (s *Service) Broker() *Broker   { return s.broker }

// authorize enforces the single-writer rule. An unowned character accepts
// writes from anyone; claim and redeem are how ownership gets set.
func (s *Service) authorize(c *store.Character, serverID string) error {
	if !s.cfg.Strict() {
		return nil
	}
	if c.OwnedByServer == "" || c.OwnedByServer == serverID {
		return nil
	}
	s.metrics.OwnershipRejections.Add(1)
	return &OwnershipError{CharacterID: c.ID, OwnedBy: c.OwnedByServer, Requesting: serverID}
}

// OwnershipError reports a write from a server that does not own the
// character.
type OwnershipError struct {
	CharacterID string
	OwnedBy     string
	Requesting  string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("character %s owned by %s, not %s", e.CharacterID, e.OwnedBy, e.Requesting)
}

// CooldownError reports a transfer attempted before the switch cooldown from
// the previous redeem has elapsed.
type CooldownError struct {
	CharacterID string
	Until       time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("character %s in transfer cooldown until %s", e.CharacterID, e.Until.UTC().Format(time.RFC3339))
}

// TicketError carries the verdict of a failed redemption.
type TicketError struct {
	TicketID string
	Verdict  tickets.RedeemVerdict
}

func (e *TicketError) Error() string {
	return fmt.Sprintf("ticket %s: %s", e.TicketID, e.Verdict)
}
