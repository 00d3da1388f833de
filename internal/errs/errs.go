// Package errs defines the typed error taxonomy shared by the sync engine.
// Every failure surfaced by a collaborator (document source, embedding
// provider, vector store, state store) is normalized into an *Error carrying
// a stable code and a structured context map, so log lines and run summaries
// stay uniform regardless of where the failure originated.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies which collaborator a failure originated from.
type Kind string

const (
	KindSource      Kind = "source"
	KindEmbedding   Kind = "embedding"
	KindVectorStore Kind = "vector_store"
	KindState       Kind = "state"
	KindUnknown     Kind = "unknown"
)

// Error is the uniform error shape used throughout the engine.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s: %s", e.Kind, e.Code, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error without an underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an Error around an underlying cause. A nil cause returns nil
// so call sites can wrap unconditionally.
func Wrap(kind Kind, code string, err error, context map[string]any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: err.Error(),
		Context: context,
		Err:     err,
	}
}

// Source wraps a document-source failure.
func Source(code string, err error, context map[string]any) *Error {
	return Wrap(KindSource, code, err, context)
}

// Embedding wraps an embedding-provider failure.
func Embedding(code string, err error, context map[string]any) *Error {
	return Wrap(KindEmbedding, code, err, context)
}

// VectorStore wraps a vector-store failure.
func VectorStore(code string, err error, context map[string]any) *Error {
	return Wrap(KindVectorStore, code, err, context)
}

// State wraps a persisted-state failure.
func State(code string, err error, context map[string]any) *Error {
	return Wrap(KindState, code, err, context)
}

// Normalize converts an arbitrary recovered value into an *Error. Values that
// are already *Error pass through; plain errors are wrapped; everything else
// (strings, maps, primitives from panics) is stringified.
func Normalize(v any) *Error {
	switch val := v.(type) {
	case nil:
		return New(KindUnknown, "nil_error", "nil error value")
	case *Error:
		return val
	case error:
		var typed *Error
		if errors.As(val, &typed) {
			return typed
		}
		return &Error{Kind: KindUnknown, Code: "wrapped", Message: val.Error(), Err: val}
	case string:
		return New(KindUnknown, "string", val)
	default:
		return New(KindUnknown, "value", fmt.Sprintf("%v", val))
	}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}
