package price

import (
	"fmt"
	"time"
)

// Missing is one unresolved price lookup.
type Missing struct {
	Platform string
	Coin     string
	Time     time.Time
}

func (m Missing) String() string {
	return fmt.Sprintf("%s %s at %s", m.Platform, m.Coin, m.Time.Format(time.RFC3339))
}

// MissingTracker accumulates unresolved price lookups for the end-of-run
// summary. Single-threaded, like the rest of the evaluation.
type MissingTracker struct {
	entries []Missing
}

func NewMissingTracker() *MissingTracker {
	return &MissingTracker{}
}

func (t *MissingTracker) Record(platform, coin string, ts time.Time) {
	t.entries = append(t.entries, Missing{Platform: platform, Coin: coin, Time: ts})
}

func (t *MissingTracker) Entries() []Missing {
	return t.entries
}
