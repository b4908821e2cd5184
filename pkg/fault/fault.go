// Package fault defines the error taxonomy shared across the pipeline.
//
// Components wrap causes with fmt.Errorf and %w internally; a Kind is
// attached only where an error crosses a package boundary, so callers
// (the orchestrator, the HTTP layer) can classify failures without
// string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and reporting.
type Kind string

const (
	// KindValidation marks caller-supplied input as invalid.
	KindValidation Kind = "validation"

	// KindAuth marks a tenant mismatch on a session or stream.
	KindAuth Kind = "auth"

	// KindParse marks a parser or converter failure, fatal for the file.
	KindParse Kind = "parse"

	// KindUnsupported marks a file extension no reader handles.
	KindUnsupported Kind = "unsupported"

	// KindEmptyDocument marks a document with no parseable content.
	KindEmptyDocument Kind = "empty_document"

	// KindAI marks an LLM or embedding failure.
	KindAI Kind = "ai"

	// KindNoQueries marks a retrieval planner that produced no queries.
	KindNoQueries Kind = "no_queries"

	// KindRetrieval marks a vector store failure.
	KindRetrieval Kind = "retrieval"

	// KindStorage marks a blob or relational store failure.
	KindStorage Kind = "storage"

	// KindExternalService marks a third-party service failure.
	KindExternalService Kind = "external_service"

	// KindCancelled marks explicit caller cancellation.
	KindCancelled Kind = "cancelled"

	// KindInternal marks an unexpected failure surfaced opaquely.
	KindInternal Kind = "internal"
)

// Error carries a Kind, the operation that failed, and the cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	switch {
	case e.Op != "" && msg != "":
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Op != "":
		msg = e.Op
	}
	if e.Err != nil {
		if msg == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if msg == "" {
		return string(e.Kind)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
// A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf attaches a kind, operation and message to an underlying error.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind attached to err, walking the wrap chain.
// Errors without a Kind report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
