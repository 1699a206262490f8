// Package registry maps job-type names to typed handlers. Handlers are
// registered once at startup via the generic Register function, which
// captures the concrete argument type and erases it behind a closure
// keyed by name — the same role sum-typed trait objects play in the
// system this package is modeled on, expressed with Go generics instead.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFailPermanently marks an error as terminal: the job moves straight to
// Failed with no further retry regardless of remaining budget.
var ErrFailPermanently = errors.New("fail permanently")

// ErrTryAgainLater marks an error as transient: the job is retried subject
// to the owning pool's max_retries budget.
var ErrTryAgainLater = errors.New("try again later")

// FailPermanently wraps msg as a permanent job failure.
func FailPermanently(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrFailPermanently)
}

// FailPermanentlyf is the Printf-style variant of FailPermanently.
func FailPermanentlyf(format string, args ...any) error {
	return FailPermanently(fmt.Sprintf(format, args...))
}

// TryAgainLater wraps msg as a transient job failure.
func TryAgainLater(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrTryAgainLater)
}

// TryAgainLaterf is the Printf-style variant of TryAgainLater.
func TryAgainLaterf(format string, args ...any) error {
	return TryAgainLater(fmt.Sprintf(format, args...))
}

// IsPermanent reports whether err (or anything it wraps) is a permanent
// job failure. An error that is neither ErrFailPermanently nor
// ErrTryAgainLater — e.g. a raw error returned from a handler that didn't
// bother classifying it — is treated as permanent, matching the
// registry's "no registered handler" failure, which is also permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrTryAgainLater)
}

type executor func(ctx context.Context, arguments json.RawMessage) error

// Registry is a name→executor table. It is safe to read concurrently once
// registration (done at startup, single-threaded) is complete.
type Registry struct {
	jobs map[string]executor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]executor)}
}

// Handler is the logic registered under a job type. Arguments are
// deserialized from the job's JSON arguments column into A before Handler
// runs; a deserialization failure is reported as a permanent failure
// without ever invoking Handler.
type Handler[A any] func(ctx context.Context, args A) error

// Register binds jobType to h. Register[A] is a free function rather than
// a Registry method because Go forbids generic methods; it is otherwise
// equivalent to a typed "register_job::<J>()" call.
func Register[A any](r *Registry, jobType string, h Handler[A]) {
	r.jobs[jobType] = func(ctx context.Context, raw json.RawMessage) error {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return FailPermanentlyf("parse job arguments: %v", err)
			}
		}
		return h(ctx, args)
	}
}

// Names returns every registered job type, used by the supervisor to
// verify worker-pool coverage at startup.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		out = append(out, name)
	}
	return out
}

// Execute runs the handler registered for jobType with arguments, or
// returns a permanent failure if no handler is registered.
func (r *Registry) Execute(ctx context.Context, jobType string, arguments json.RawMessage) error {
	h, ok := r.jobs[jobType]
	if !ok {
		return FailPermanentlyf("no job registered for job type: %s", jobType)
	}
	return h(ctx, arguments)
}
