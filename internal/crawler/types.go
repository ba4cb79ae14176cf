package crawler

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of an Engine.
type State string

// Engine states. Completed, Capped, Stopped and Failed are terminal.
const (
	StateIdle      State = "idle"
	StateSeeding   State = "seeding"
	StateDraining  State = "draining"
	StateCompleted State = "completed"
	StateCapped    State = "capped"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCapped, StateStopped, StateFailed:
		return true
	}
	return false
}

var (
	// ErrAlreadyStarted is returned when Run is called on a used Engine.
	ErrAlreadyStarted = errors.New("crawl engine already started")
	// ErrStalled is returned when consecutive snapshots make no progress.
	ErrStalled = errors.New("crawl made no progress")
)

// Summary reports the outcome of a finished run.
type Summary struct {
	State     State         `json:"state"`
	RunID     uuid.UUID     `json:"run_id"`
	Processed int64         `json:"processed"`
	Failed    int64         `json:"failed"`
	Neighbors int64         `json:"neighbors"`
	Inserted  int64         `json:"inserted"`
	Updated   int64         `json:"updated"`
	Duration  time.Duration `json:"duration"`
}

// Snapshot is a point-in-time view of a run, served by the status API.
type Snapshot struct {
	State     State      `json:"state"`
	RunID     *uuid.UUID `json:"run_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Cap       int64      `json:"cap"`
	InFlight  int64      `json:"in_flight"`
	Processed int64      `json:"processed"`
	Failed    int64      `json:"failed"`
	Neighbors int64      `json:"neighbors"`
	Inserted  int64      `json:"inserted"`
	Updated   int64      `json:"updated"`
}
