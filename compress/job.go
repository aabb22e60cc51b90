package compress

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/weslee-bat/pdfpress/observability"
)

// State is the job lifecycle position.
type State int

const (
	StateIdle State = iota
	StateCompressing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompressing:
		return "compressing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrJobConsumed is returned when Run is called on a job that already left
// the Idle state. Jobs are single-use.
var ErrJobConsumed = errors.New("job already ran")

// Job binds one input to one compression run. Safe for concurrent
// observation while Run executes on another goroutine.
type Job struct {
	ID string

	c *Compressor

	mu     sync.Mutex
	state  State
	result Result
	err    *Error
}

// NewJob creates an Idle job with a fresh identifier.
func (c *Compressor) NewJob() *Job {
	return &Job{ID: uuid.NewString(), c: c}
}

// Run drives the job to Completed or Failed. The input bytes are never
// modified. On failure no output is retained.
func (j *Job) Run(ctx context.Context, input []byte, level Level) (Result, error) {
	j.mu.Lock()
	if j.state != StateIdle {
		j.mu.Unlock()
		return Result{}, ErrJobConsumed
	}
	j.state = StateCompressing
	j.mu.Unlock()

	log := j.c.cfg.Logger.With(observability.String("job", j.ID))
	log.Info("job started", observability.String("level", level.String()))

	res, err := j.c.run(ctx, input, level)

	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.state = StateFailed
		var cerr *Error
		if errors.As(err, &cerr) {
			j.err = cerr
		} else {
			j.err = &Error{Kind: FailureMalformed, Err: err}
		}
		log.Error("job failed",
			observability.String("kind", j.err.Kind.String()),
			observability.Error("err", err))
		return Result{}, j.err
	}
	j.state = StateCompleted
	j.result = res
	log.Info("job completed",
		observability.Int64("compressed_bytes", res.CompressedSize))
	return res, nil
}

// State returns the current lifecycle position.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result returns the output of a Completed job.
func (j *Job) Result() (Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateCompleted {
		return Result{}, false
	}
	return j.result, true
}

// Err returns the failure of a Failed job.
func (j *Job) Err() *Error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// UserMessage returns the display message for a failed job, or empty.
func (j *Job) UserMessage() string {
	if err := j.Err(); err != nil {
		return err.UserMessage()
	}
	return ""
}
