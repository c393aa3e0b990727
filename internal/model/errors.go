package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRunInProgress rejects a critical-only run while another run is in flight.
// It is not a failure of the pipeline itself.
var ErrRunInProgress = errors.New("verification run in progress")

// FetchReason classifies a per-document fetch failure
type FetchReason string

const (
	FetchNetwork   FetchReason = "network"
	FetchNotFound  FetchReason = "notFound"
	FetchMalformed FetchReason = "malformed"
)

// FetchError is a non-fatal per-document fetch failure
type FetchError struct {
	Document string
	Reason   FetchReason
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.Document, e.Reason)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Document, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FatalFetchError reports that at least one mandatory document could not be
// retrieved. It aborts the run.
type FatalFetchError struct {
	Failures []*FetchError
}

func (e *FatalFetchError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Document
	}
	return fmt.Sprintf("mandatory document(s) unavailable: %s", strings.Join(names, ", "))
}

// Unwrap exposes the per-document failures to errors.Is / errors.As
func (e *FatalFetchError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// ParseError is a per-document parse failure. It degrades the document's
// contribution to the run but does not abort it.
type ParseError struct {
	Document string
	Location string // "line:col", empty when unknown
	Detail   string
}

func (e *ParseError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("parse %s: %s", e.Document, e.Detail)
	}
	return fmt.Sprintf("parse %s:%s: %s", e.Document, e.Location, e.Detail)
}

// CommitError aborts a commit. The run is not committed and the whole run
// is safe to retry.
type CommitError struct {
	RunID string
	Cause error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit run %s: %v", e.RunID, e.Cause)
}

func (e *CommitError) Unwrap() error { return e.Cause }
