package hive

import "sync/atomic"

// Metrics are plain counters; the HTTP layer renders them as Prometheus text.
type Metrics struct {
	Applied             atomic.Int64
	Conflicts           atomic.Int64
	Duplicates          atomic.Int64
	OwnershipRejections atomic.Int64
	TicketsIssued       atomic.Int64
	TicketsRedeemed     atomic.Int64
	EventLogErrors      atomic.Int64
}
