// Package watcher turns raw filesystem notifications into debounced,
// per-path change events.
package watcher

import "time"

// Kind classifies a coalesced change.
type Kind int

const (
	Created Kind = iota + 1
	Modified
	Removed
	// Rescan means individual events were lost and the whole tree must be
	// treated as changed. Path is empty.
	Rescan
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Rescan:
		return "rescan"
	default:
		return "unknown"
	}
}

// Event is one coalesced change for a path.
type Event struct {
	Path string
	Kind Kind
	At   time.Time
}

// Handler receives coalesced events. Calls are serialized.
type Handler func(Event)

// merge folds next into the kind already pending for a path.
func merge(prev, next Kind) Kind {
	switch {
	case prev == 0:
		return next
	case next == Removed:
		return Removed
	case prev == Removed && next == Created:
		// delete + create inside one window is an atomic save
		return Modified
	case prev == Removed:
		return Removed
	case prev == Created:
		return Created
	default:
		return Modified
	}
}
