package statestore

import (
	"context"
	"time"
)

// Status is the lifecycle state of a queue entry. Values other than the
// ones below are preserved as-is so that future states survive a round-trip
// through the store.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusAllowed Status = "ALLOWED"
)

// QueueEntry is one admitted-or-waiting client, keyed by its opaque token.
type QueueEntry struct {
	Token        string    `json:"token"`
	Status       Status    `json:"status"`
	TicketNumber uint64    `json:"ticketNumber"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// PromoteOutcome is the terminal result of a conditional promotion attempt.
// A transient store failure is reported through the error return instead,
// so callers can tell "retry later" apart from the two terminal outcomes.
type PromoteOutcome int

const (
	// OutcomePromoted means the entry is now ALLOWED. Re-promoting an
	// already-ALLOWED entry also reports OutcomePromoted.
	OutcomePromoted PromoteOutcome = iota
	// OutcomeNotFound means the entry expired out of the store; there is
	// nothing left to promote.
	OutcomeNotFound
)

type Store interface {
	// NextTicket issues the next globally unique, strictly increasing
	// ticket number. The first ticket ever issued is 1.
	NextTicket(ctx context.Context) (uint64, error)
	CreateEntry(ctx context.Context, entry *QueueEntry, ttl time.Duration) error
	GetEntry(ctx context.Context, token string) (*QueueEntry, error)
	DeleteEntry(ctx context.Context, token string) error
	// PromoteEntry transitions an entry to ALLOWED if it still exists and
	// advances the now-serving watermark. Promotion is idempotent: an entry
	// never moves backward from ALLOWED.
	PromoteEntry(ctx context.Context, token string) (PromoteOutcome, error)
	// NowServing reads the watermark used for position math. It returns 0
	// before the first promotion.
	NowServing(ctx context.Context) (uint64, error)
}
