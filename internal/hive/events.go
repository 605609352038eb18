package hive

import (
	"context"
	"encoding/json"
	"sync"

	"hivesync.gg/internal/persistence/store"
)

// emitEvent appends to the durable event log, mirrors to disk and fans out to
// live subscribers. Strictly best-effort: the mutation that triggered it has
// already committed, so failures are counted and logged, never returned.
func (s *Service) emitEvent(ctx context.Context, typ, actor, objectID, serverID string, payload map[string]any) {
	body := "{}"
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			s.metrics.EventLogErrors.Add(1)
			s.log.Printf("eventlog: marshal %s payload: %v", typ, err)
			return
		}
		body = string(b)
	}
	e, err := s.store.AppendEvent(ctx, store.Event{
		Type:     typ,
		Actor:    actor,
		ObjectID: objectID,
		ServerID: serverID,
		Payload:  body,
		TS:       s.now().UTC(),
	})
	if err != nil {
		s.metrics.EventLogErrors.Add(1)
		s.log.Printf("eventlog: append %s: %v", typ, err)
		return
	}
	if s.mirror != nil {
		if err := s.mirror.WriteEvent(e); err != nil {
			s.metrics.EventLogErrors.Add(1)
			s.log.Printf("eventlog: mirror %s: %v", typ, err)
		}
	}
	s.broker.Publish(e)
}

// Broker fans committed events out to live subscribers. Slow subscribers
// drop events rather than stall the writer.
type Broker struct {
	mu   sync.Mutex
	subs map[chan store.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan store.Event]struct{})}
}

func (b *Broker) Subscribe() (<-chan store.Event, func()) {
	ch := make(chan store.Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Broker) Publish(e store.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
