// Package errkind classifies errors into the kinds named by the error
// handling design (spec §7), so callers can decide whether to retry,
// abstain, or surface without needing sentinel errors wired through every
// layer.
package errkind

import "errors"

// Kind is one of the error categories from §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientFetch
	KindPermanentFetch
	KindExtraction
	KindVectorization
	KindClassifier
	KindStorage
	KindSchedule
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindTransientFetch:
		return "transient_fetch"
	case KindPermanentFetch:
		return "permanent_fetch"
	case KindExtraction:
		return "extraction"
	case KindVectorization:
		return "vectorization"
	case KindClassifier:
		return "classifier"
	case KindStorage:
		return "storage"
	case KindSchedule:
		return "schedule"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Retryable reports whether the scheduler should retry a check that failed
// with this kind of error.
func (k Kind) Retryable() bool {
	return k == KindTransientFetch || k == KindStorage
}

// kindError attaches a Kind to a wrapped error without changing its message.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with a Kind so later Classify calls can recover it.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Classify recovers the Kind attached by Wrap, or KindUnknown if err was
// never wrapped (or is nil).
func Classify(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}
