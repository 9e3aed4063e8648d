// Package async runs document jobs on a bounded worker pool with a per-job
// timeout and graceful shutdown.
package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobKind selects how much of the pipeline a job runs.
type JobKind string

const (
	KindPDF  JobKind = "pdf"  // extraction, enrichment, synthesis
	KindText JobKind = "text" // synthesis only
)

// Job is the smallest useful unit of work.
type Job struct {
	ID          uuid.UUID
	Path        string
	Kind        JobKind
	Force       bool
	SubmittedAt time.Time
	TraceID     string
}

// Handler processes one job. The context carries the per-job timeout.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

var ErrQueueClosed = errors.New("queue is shutting down")

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
