package drive

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts entry id generation so tests are deterministic.
// Generated ids must be globally unique, time-ordered, and sortable as
// strings: entry ids double as tree-walk anchors and sync cursors.
type IDGenerator interface {
	New() string
}

// UUIDv7Generator produces time-ordered UUIDs.
type UUIDv7Generator struct{}

func (UUIDv7Generator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 fails only when the entropy source does; fall back to
		// random rather than propagate an error through every caller.
		return uuid.New().String()
	}
	return id.String()
}
