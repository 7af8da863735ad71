// Package jobs runs long pipeline operations in the background and records
// them in SQLite.
//
// A submitted task is queued in the store and picked up by a worker, which
// runs the handler registered for the task's app inside the task's work
// directory. Status, timing, errors and results survive restarts.
//
// Several processes may share one database. A worker claims a task under a
// lease that its service renews while the task runs; a task whose lease
// runs out belonged to a process that stopped, and is marked failed.
package jobs

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the state of a task.
type Status string

// Task states.
const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Done reports whether the status is final.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrNotFound is returned for unknown task ids.
var ErrNotFound = errors.New("job not found")

// ErrUnknownApp is returned when no handler is registered for an app.
var ErrUnknownApp = errors.New("unknown app")

// Task represents a submitted job.
type Task struct {
	ID            string          `json:"id"`
	App           string          `json:"app"`
	Reference     string          `json:"reference"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	Status        Status          `json:"status"`
	SubmitTime    time.Time       `json:"submit_time"`
	StartTime     time.Time       `json:"start_time,omitempty"`
	CompletedTime time.Time       `json:"completed_time,omitempty"`
	Error         string          `json:"error,omitempty"`
	Output        string          `json:"output,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// ElapsedTime returns how long the task ran, or has been running.
func (t *Task) ElapsedTime() time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	if t.CompletedTime.IsZero() {
		return time.Since(t.StartTime).Round(time.Second)
	}
	return t.CompletedTime.Sub(t.StartTime).Round(time.Second)
}

// DecodeParameters unmarshals the task parameters into v.
func (t *Task) DecodeParameters(v any) error {
	if len(t.Parameters) == 0 {
		return nil
	}
	return json.Unmarshal(t.Parameters, v)
}

// DecodeResult unmarshals the task result into v.
func (t *Task) DecodeResult(v any) error {
	if len(t.Result) == 0 {
		return nil
	}
	return json.Unmarshal(t.Result, v)
}
