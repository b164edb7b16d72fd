// Package process keeps the bookkeeping record of a single pipeline run.
package process

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-geoindexer/pkg/schema"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run captures the metadata the driver tracks for one invocation.
type Run struct {
	ID         string
	Source     string
	Region     string
	IndexType  string
	Status     RunStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Final      schema.StateKind
}

func NewRun(source, region, indexType string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Source:    source,
		Region:    region,
		IndexType: indexType,
		Status:    RunStatusPending,
	}
}

func MarkRunning(r *Run, now time.Time) {
	r.Status = RunStatusRunning
	r.StartedAt = now
}

// RecordError keeps the details of an error state entered during the run.
// A later reset leaves it in place.
func RecordError(r *Run, details string) {
	r.Error = details
}

// Finish records the final state. Only Available counts as success. A final
// state with its own detail overrides the recorded error; NotAvailable after
// a reset keeps the error that caused it.
func Finish(r *Run, final schema.State, now time.Time) {
	r.Final = final.Kind
	r.FinishedAt = now
	if final.Kind == schema.StateAvailable {
		r.Status = RunStatusSucceeded
		return
	}
	r.Status = RunStatusFailed
	switch {
	case final.Message != "":
		r.Error = final.Message
	case final.Details != "":
		r.Error = final.Details
	}
}

// MarkFailed records an error that stopped the run before a final state was
// reached, such as a publish failure or cancellation.
func MarkFailed(r *Run, err error, now time.Time) {
	r.Status = RunStatusFailed
	r.FinishedAt = now
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

type runIDKey struct{}

// WithRunID attaches a run id to ctx so transports can tag what they send.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run id attached by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}
