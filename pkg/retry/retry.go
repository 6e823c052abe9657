// Package retry provides the single retry policy used by every external call path.
package retry

import (
	"context"
	"errors"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"

	"github.com/umputun/shortcast/pkg/domain"
)

// Policy describes how an operation is retried: exponential backoff with factor 2 starting at Base,
// capped at Cap, at most Attempts calls in total. Classify decides whether an error may be retried,
// nil means every error is retried unless marked with Permanent.
type Policy struct {
	Name     string
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Classify func(error) domain.ErrorClass
}

// Stage is the default pipeline stage policy
func Stage(name string, attempts int, classify func(error) domain.ErrorClass) Policy {
	return Policy{Name: name, Attempts: attempts, Base: time.Second, Cap: 16 * time.Second, Classify: classify}
}

var errStop = errors.New("stop retry")

// stopError carries a non-retryable error through the repeater
type stopError struct{ err error }

func (e *stopError) Error() string        { return e.err.Error() }
func (e *stopError) Unwrap() error        { return e.err }
func (e *stopError) Is(target error) bool { return target == errStop }

// permanentError marks an error as not retryable regardless of the classifier
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts run out or ctx is done.
// The last error is returned unwrapped from retry internals.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	rpt := repeater.NewBackoff(attempts, base)
	if p.Cap > 0 {
		rpt = repeater.NewBackoff(attempts, base, repeater.WithMaxDelay(p.Cap))
	}

	attempt := 0
	err := rpt.Do(ctx, func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return &stopError{err: err}
		}
		if attempt < attempts {
			log.Printf("[DEBUG] %s attempt %d/%d failed, retrying: %v", p.name(), attempt, attempts, err)
		}
		return err
	}, errStop)

	var se *stopError
	if errors.As(err, &se) {
		return se.err
	}
	return err
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || IsPermanent(err) {
		return false
	}
	if p.Classify == nil {
		return true
	}
	return p.Classify(err).Retryable()
}

func (p Policy) name() string {
	if p.Name == "" {
		return "operation"
	}
	return p.Name
}
