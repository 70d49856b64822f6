package domain

import "fmt"

// IngestState is the per-video ingestion state. Transitions are validated
// centrally by CanTransition; nothing else should compare or assign states
// by hand.
type IngestState string

const (
	StatePending   IngestState = "pending"
	StateChunking  IngestState = "chunking"
	StateEmbedding IngestState = "embedding"
	StateIndexed   IngestState = "indexed"
	StateFailed    IngestState = "failed"
)

// transitions lists the allowed successor states. A video reaches indexed
// only from embedding, so an interrupted run can never appear indexed.
var transitions = map[IngestState][]IngestState{
	StatePending:   {StateChunking, StateFailed},
	StateChunking:  {StateEmbedding, StateFailed},
	StateEmbedding: {StateIndexed, StateFailed},
	StateIndexed:   {StatePending},
	StateFailed:    {StatePending},
}

// Valid reports whether s is one of the known states.
func (s IngestState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s ends an ingestion run.
func (s IngestState) Terminal() bool {
	return s == StateIndexed || s == StateFailed
}

// Queryable reports whether chunks of a video in state s may be served.
func (s IngestState) Queryable() bool { return s == StateIndexed }

// CanTransition reports whether from -> to is an allowed step.
func CanTransition(from, to IngestState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a state change is not allowed.
type TransitionError struct {
	From, To IngestState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid ingest transition %s -> %s", e.From, e.To)
}

// CheckTransition returns a *TransitionError when from -> to is not allowed.
func CheckTransition(from, to IngestState) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
