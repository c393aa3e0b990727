package model

import "time"

// HealthState is the verified health of an API
type HealthState string

const (
	HealthUnknown  HealthState = "unknown"
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthFailing  HealthState = "failing"
)

// HealthEntry is one (run, state) pair of an API's history
type HealthEntry struct {
	RunID string      `json:"run_id" cbor:"run_id"`
	State HealthState `json:"state" cbor:"state"`
	At    time.Time   `json:"at" cbor:"at"`
}

// APIHealthStatus is the health record of one API. Mutated only by the
// health tracker, once per completed run.
type APIHealthStatus struct {
	API                 string        `json:"api" cbor:"api"`
	State               HealthState   `json:"state" cbor:"state"`
	LastSuccessfulRun   string        `json:"last_successful_run,omitempty" cbor:"last_successful_run,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures" cbor:"consecutive_failures"`
	History             []HealthEntry `json:"history" cbor:"history"`
}

// LastRun returns the id of the most recently applied run
func (s APIHealthStatus) LastRun() string {
	if len(s.History) == 0 {
		return ""
	}
	return s.History[len(s.History)-1].RunID
}

// Clone returns a deep copy of the status
func (s APIHealthStatus) Clone() APIHealthStatus {
	out := s
	out.History = append([]HealthEntry(nil), s.History...)
	return out
}
