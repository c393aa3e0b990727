package model

import (
	"path"
	"strings"
	"time"
)

// ManifestEntry describes where one expected specification document lives
type ManifestEntry struct {
	Name      string `yaml:"name" json:"name"`                     // Document identity (e.g., "insurance-auto.yaml")
	URL       string `yaml:"url" json:"url"`                       // http(s)://, file:// or a path relative to the manifest
	API       string `yaml:"api,omitempty" json:"api,omitempty"`   // API identifier (defaults to the name without extension)
	Mandatory bool   `yaml:"mandatory,omitempty" json:"mandatory"` // A failed fetch aborts the run
	Critical  bool   `yaml:"critical,omitempty" json:"critical"`   // Included in critical-only runs
}

// APIID returns the API identifier of the entry
func (e ManifestEntry) APIID() string {
	if e.API != "" {
		return e.API
	}
	return DefaultAPIID(e.Name)
}

// Manifest is the enumerable set of documents a run verifies
type Manifest struct {
	// BaseDir resolves relative entry URLs. Not serialized.
	BaseDir string          `yaml:"-" json:"-"`
	Entries []ManifestEntry `yaml:"documents" json:"documents"`
}

// Filter returns a copy of the manifest holding only entries accepted by keep
func (m Manifest) Filter(keep func(ManifestEntry) bool) Manifest {
	out := Manifest{BaseDir: m.BaseDir}
	for _, e := range m.Entries {
		if keep(e) {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// DefaultAPIID derives an API identifier from a document name:
// "insurance-auto.yaml" -> "insurance-auto"
func DefaultAPIID(name string) string {
	base := path.Base(name)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}

// SpecDocument is one retrieved specification document. Immutable once
// returned by the fetcher; the next run's document with the same Name
// supersedes it.
type SpecDocument struct {
	Name        string    `json:"name"`
	API         string    `json:"api"`
	Source      string    `json:"source"`
	Content     []byte    `json:"-"`
	Hash        string    `json:"hash"`
	RetrievedAt time.Time `json:"retrieved_at"`
	Version     string    `json:"version,omitempty"` // info.version, when detectable
	Changed     bool      `json:"changed"`
	Mandatory   bool      `json:"mandatory"`
	Critical    bool      `json:"critical"`
}

// DocumentSummary is what a run record keeps of each document
type DocumentSummary struct {
	Name       string `json:"name" cbor:"name"`
	API        string `json:"api" cbor:"api"`
	Hash       string `json:"hash,omitempty" cbor:"hash,omitempty"`
	Version    string `json:"version,omitempty" cbor:"version,omitempty"`
	Changed    bool   `json:"changed" cbor:"changed"`
	Mandatory  bool   `json:"mandatory" cbor:"mandatory"`
	FetchError string `json:"fetch_error,omitempty" cbor:"fetch_error,omitempty"`
	ParseError string `json:"parse_error,omitempty" cbor:"parse_error,omitempty"`
}
