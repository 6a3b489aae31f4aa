package vector

import "time"

// Persistence operations reported to an Observer.
const (
	OpSave = "save"
	OpLoad = "load"
)

// Observer receives index events. Implementations must be safe for concurrent use
// and must not call back into the Index.
type Observer interface {
	// IndexChanged is called after every mutation with the new entry count.
	IndexChanged(size int)
	// SearchCompleted is called after a successful search.
	SearchCompleted(k, returned int, elapsed time.Duration)
	// Persisted is called after every Save or Load attempt; err is nil on success.
	Persisted(op string, size int, elapsed time.Duration, err error)
	// DimensionAdopted is called when Load replaces the configured dimension.
	DimensionAdopted(from, to int)
}

type nopObserver struct{}

func (nopObserver) IndexChanged(int)                            {}
func (nopObserver) SearchCompleted(int, int, time.Duration)     {}
func (nopObserver) Persisted(string, int, time.Duration, error) {}
func (nopObserver) DimensionAdopted(int, int)                   {}
