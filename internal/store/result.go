package store

import "github.com/starford/quill/internal/models"

// Outcome says whether Get produced something servable.
type Outcome int

const (
	OutcomeOK Outcome = iota + 1
	// OutcomeNotFound means no source exists for the route.
	OutcomeNotFound
	// OutcomeFailed means the render failed and there is no earlier
	// artifact. Artifact holds a diagnostic placeholder.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Freshness describes how the returned artifact relates to the source.
type Freshness int

const (
	// Fresh: built from the current generation.
	Fresh Freshness = iota + 1
	// Stale: the source changed since the artifact was built; a refresh
	// has been scheduled.
	Stale
	// Errored: the latest render failed; Artifact is the last good one
	// (or a placeholder when Outcome is OutcomeFailed).
	Errored
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Result is what Get returns for a route.
type Result struct {
	Outcome   Outcome
	Freshness Freshness
	Artifact  *models.Artifact
	// Err is the most recent render error, if any.
	Err error
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Entries  int   `json:"entries"`
	Stale    int   `json:"stale"`
	Errored  int   `json:"errored"`
	Renders  int64 `json:"renders"`
	Failures int64 `json:"failures"`
}
