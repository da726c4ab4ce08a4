// Package jobs runs background tasks on an in-process worker pool. Jobs are
// recorded in a Store so their state and result can be polled over HTTP
// after the enqueuing request has returned.
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ---------------------------------------------------------------------------
// States
// ---------------------------------------------------------------------------

// State is the lifecycle state of a job as tracked by the queue.
type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateRevoked State = "revoked"
)

var statusByState = map[State]string{
	StatePending: "queued",
	StateStarted: "processing",
	StateSuccess: "completed",
	StateFailure: "failed",
	StateRevoked: "cancelled",
}

// Status maps s onto the vocabulary exposed to API clients.
func (s State) Status() string {
	if st, ok := statusByState[s]; ok {
		return st
	}
	return string(s)
}

// Ready reports whether the job ran to completion and has a result or error.
func (s State) Ready() bool {
	return s == StateSuccess || s == StateFailure
}

// Finished reports whether the job will not change state again.
func (s State) Finished() bool {
	return s.Ready() || s == StateRevoked
}

// ---------------------------------------------------------------------------
// Domain structs
// ---------------------------------------------------------------------------

var (
	ErrNotFound    = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
	ErrJobFinished = errors.New("job already finished")
	ErrUnknownTask = errors.New("unknown task")
)

// TaskFunc executes one job. args is the JSON the job was enqueued with; the
// returned value is marshalled to JSON as the job result.
type TaskFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Job is a single unit of queued work.
type Job struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Args       json.RawMessage `json:"args"`
	State      State           `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	c.Args = append(json.RawMessage(nil), j.Args...)
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID string. IDs generated later sort after earlier ones.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// ValidateID returns ErrNotFound unless id is a well-formed job ID.
func ValidateID(id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return ErrNotFound
	}
	return nil
}
