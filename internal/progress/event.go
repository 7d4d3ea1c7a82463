// Package progress defines the event structures emitted while a crawl run executes.
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
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageSourceStart  Stage = "SOURCE_START"
	StageSourceDone   Stage = "SOURCE_DONE"
	StageSourceError  Stage = "SOURCE_ERROR"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchError   Stage = "FETCH_ERROR"
	StageBatchFlushed Stage = "BATCH_FLUSHED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Source is the crawled site; required for every non-run stage.
	Source string
	// URL is the optional page URL.
	URL string
	// Bytes carries the response size for fetches.
	Bytes int64
	// StatusClass groups HTTP response codes for FETCH_DONE.
	StatusClass StatusClass
	// Records is the batch size for BATCH_FLUSHED and the source total for SOURCE_DONE.
	Records int64
	// Dur captures latency for fetches, flushes and completions.
	Dur time.Duration
	// Note carries low-volume context such as error text or a snapshot URI.
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
	case StageRunStart, StageRunDone, StageRunError:
	case StageSourceStart, StageSourceDone, StageSourceError, StageFetchError, StageBatchFlushed:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	case StageFetchDone:
		if e.Source == "" {
			return errors.New("fetch done requires source")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Records < 0 {
		return errors.New("records must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events. Browser fetches
// that cannot observe a status report 0 and count as 2xx.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return Status2xx
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
