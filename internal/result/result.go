// Package result holds the error taxonomy shared by the versioning and
// backup layers, and the uniform {ok, message, data} shape their public
// operations return.
package result

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies a failure.
type Kind int

const (
	// IOFailure covers permission, space and device errors.
	IOFailure Kind = iota
	NotFound
	NothingToChange
	Corrupted
	Unsupported
	SecurityViolation
)

var kindNames = [...]string{
	IOFailure:         "IOFailure",
	NotFound:          "NotFound",
	NothingToChange:   "NothingToChange",
	Corrupted:         "Corrupted",
	Unsupported:       "Unsupported",
	SecurityViolation: "SecurityViolation",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Per-kind sentinels for errors.Is.
var (
	ErrIOFailure         = &kindError{IOFailure}
	ErrNotFound          = &kindError{NotFound}
	ErrNothingToChange   = &kindError{NothingToChange}
	ErrCorrupted         = &kindError{Corrupted}
	ErrUnsupported       = &kindError{Unsupported}
	ErrSecurityViolation = &kindError{SecurityViolation}
)

var sentinels = map[Kind]error{
	IOFailure:         ErrIOFailure,
	NotFound:          ErrNotFound,
	NothingToChange:   ErrNothingToChange,
	Corrupted:         ErrCorrupted,
	Unsupported:       ErrUnsupported,
	SecurityViolation: ErrSecurityViolation,
}

type kindError struct{ kind Kind }

func (e *kindError) Error() string { return e.kind.String() }

// Error is a classified failure. Path names the offending file when known.
type Error struct {
	Err  error
	Op   string
	Path string
	Kind Kind
}

// Errorf builds an *Error of the given kind with a formatted cause.
func Errorf(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if msg == "" {
		return e.Kind.String()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(*kindError)
	return ok && k.kind == e.Kind
}

// KindOf reports the kind of err. Unclassified errors are IOFailure,
// except fs.ErrNotExist which maps to NotFound.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return NotFound
	}
	return IOFailure
}

// Result is the uniform outcome of a public operation.
type Result struct {
	Data    any
	Message string
	OK      bool
	Kind    Kind
}

// Ok returns a successful result.
func Ok(message string, data any) Result {
	return Result{OK: true, Message: message, Data: data}
}

// Fail converts err into a failed result tagged with its kind.
func Fail(err error) Result {
	return Result{Message: err.Error(), Kind: KindOf(err)}
}

// From returns Ok(message, data) when err is nil and Fail(err) otherwise.
func From(err error, message string, data any) Result {
	if err != nil {
		return Fail(err)
	}
	return Ok(message, data)
}

// Err reconstructs an error from a failed result, nil for success.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Kind: r.Kind, Err: errors.New(r.Message)}
}

// NoOp reports whether the result is a NothingToChange failure, which
// callers treat as a benign no-op.
func (r Result) NoOp() bool {
	return !r.OK && r.Kind == NothingToChange
}
