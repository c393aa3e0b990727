package model

import "time"

// ValidationRule is the persisted, queryable unit derived from a schema
// field after domain adjustments. Identity = (API, Schema, FieldPath),
// versioned by RunID.
type ValidationRule struct {
	API       string   `json:"api" cbor:"api"`
	Schema    string   `json:"schema" cbor:"schema"`
	Document  string   `json:"document" cbor:"document"`
	FieldPath string   `json:"field_path" cbor:"field_path"`
	FieldType string   `json:"field_type" cbor:"field_type"`
	Required  bool     `json:"required" cbor:"required"`
	MaxLength int      `json:"max_length" cbor:"max_length"`
	Enum      []string `json:"enum,omitempty" cbor:"enum,omitempty"`
	Synthetic bool     `json:"synthetic,omitempty" cbor:"synthetic,omitempty"`
	RunID     string   `json:"run_id" cbor:"run_id"`
}

// RunMode selects the document set of a run
type RunMode string

const (
	ModeFull         RunMode = "full"
	ModeCriticalOnly RunMode = "criticalOnly"
)

// RunStatus is the outcome of a verification run
type RunStatus string

const (
	StatusRunning               RunStatus = "running"
	StatusCompleted             RunStatus = "completed"
	StatusCompletedWithFindings RunStatus = "completedWithFindings"
	StatusAborted               RunStatus = "aborted"
)

// APIStatus is an API's aggregate result within one run
type APIStatus string

const (
	APIClean    APIStatus = "clean"    // no warning or error findings
	APIFindings APIStatus = "findings" // warnings, or errors in non-mandatory documents
	APIFailed   APIStatus = "failed"   // errors in a mandatory document, or a fatal fetch failure
)

// APIResult aggregates a run's findings for one API
type APIResult struct {
	API        string    `json:"api" cbor:"api"`
	Status     APIStatus `json:"status" cbor:"status"`
	Errors     int       `json:"errors" cbor:"errors"`
	Warnings   int       `json:"warnings" cbor:"warnings"`
	Infos      int       `json:"infos" cbor:"infos"`
	FatalFetch bool      `json:"fatal_fetch,omitempty" cbor:"fatal_fetch,omitempty"`
	Rules      int       `json:"rules" cbor:"rules"`
}

// VerificationRun is one execution of the pipeline. Created at run start,
// finalized at run end and never mutated after finalization.
type VerificationRun struct {
	ID          string            `json:"id" cbor:"id"`
	Mode        RunMode           `json:"mode" cbor:"mode"`
	StartedAt   time.Time         `json:"started_at" cbor:"started_at"`
	EndedAt     time.Time         `json:"ended_at" cbor:"ended_at"`
	Status      RunStatus         `json:"status" cbor:"status"`
	AbortReason string            `json:"abort_reason,omitempty" cbor:"abort_reason,omitempty"`
	Findings    []Finding         `json:"findings" cbor:"findings"`
	APIs        []APIResult       `json:"apis" cbor:"apis"`
	Documents   []DocumentSummary `json:"documents" cbor:"documents"`
	RuleCount   int               `json:"rule_count" cbor:"rule_count"`
	RulesDigest string            `json:"rules_digest,omitempty" cbor:"rules_digest,omitempty"`
	Committed   bool              `json:"committed" cbor:"-"`
}

// API returns the aggregate result for the given API
func (r *VerificationRun) API(apiID string) (APIResult, bool) {
	for _, a := range r.APIs {
		if a.API == apiID {
			return a, true
		}
	}
	return APIResult{}, false
}

// Duration returns how long the run took
func (r *VerificationRun) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Document returns the summary for the named document
func (r *VerificationRun) Document(name string) (DocumentSummary, bool) {
	for _, d := range r.Documents {
		if d.Name == name {
			return d, true
		}
	}
	return DocumentSummary{}, false
}
