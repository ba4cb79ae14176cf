package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageQueryDone   Stage = "QUERY_DONE"
	StageQueryFailed Stage = "QUERY_FAILED"
	StageRunDone     Stage = "RUN_DONE"
)

// Outcome classifies a single BSSID query.
type Outcome string

// Query outcomes.
const (
	OutcomeLocated     Outcome = "located"
	OutcomeEmpty       Outcome = "empty"
	OutcomeDecodeError Outcome = "decode_error"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRetry       Outcome = "retry"
	OutcomeGaveUp      Outcome = "gave_up"
	OutcomeStoreError  Outcome = "store_error"
	OutcomeSkipped     Outcome = "skipped"
)

// Processed reports whether the outcome leaves the record processed.
func (o Outcome) Processed() bool {
	switch o {
	case OutcomeLocated, OutcomeEmpty, OutcomeDecodeError, OutcomeInvalid, OutcomeGaveUp:
		return true
	}
	return false
}

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies one crawl invocation in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// BSSID is the queried access point for query stages.
	BSSID   string
	Outcome Outcome
	// Neighbors is the number of located entries in the response.
	Neighbors int
	Inserted  int
	Updated   int
	Failed    int
	// Attempts is the stored failure count after a QUERY_FAILED.
	Attempts int
	Dur      time.Duration
	// Note carries low-volume context: the final state on RUN_DONE, error
	// text on failures.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageQueryDone, StageQueryFailed:
		if e.BSSID == "" {
			return fmt.Errorf("%s requires bssid", e.Stage)
		}
		if e.Outcome == "" {
			return fmt.Errorf("%s requires outcome", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
