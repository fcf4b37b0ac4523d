// Package monitor defines the core types shared across the collector subsystems.
package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Schema tags embedded in archived documents.
const (
	SnapshotSchema = "trizel-monitor.snapshot.v1"
	ManifestSchema = "auto-dz-act.manifest.v1"
)

const (
	// DefaultMaxBytes caps every response body.
	DefaultMaxBytes int64 = 10 * 1024 * 1024
	// PreviewRunes bounds the text preview stored for non-structured payloads.
	PreviewRunes = 4000
	// ErrorPreviewBytes bounds the body prefix kept for non-2xx responses.
	ErrorPreviewBytes = 500
	// DefaultObject is the monitored object when the registry names none.
	DefaultObject = "3I/ATLAS"
	// DefaultDesignationParam is the query parameter candidates are substituted into.
	DefaultDesignationParam = "sstr"
)

// TimestampLayout is the UTC ISO-8601 form used across archived documents.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Source describes one fetchable endpoint from the registry.
type Source struct {
	ID               string            `json:"id" yaml:"id"`
	Kind             string            `json:"kind,omitempty" yaml:"kind"`
	URL              string            `json:"url" yaml:"url"`
	Params           map[string]string `json:"params,omitempty" yaml:"params"`
	DesignationParam string            `json:"designation_param,omitempty" yaml:"designation_param"`
	Designations     []string          `json:"designations,omitempty" yaml:"designations"`
	TimeoutSeconds   int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
	Ext              string            `json:"ext,omitempty" yaml:"ext"`
}

// UsesResolver reports whether the source is queried through designation candidates.
func (s Source) UsesResolver() bool {
	return len(s.Designations) > 0
}

// ErrorKind classifies per-source failures.
type ErrorKind string

// Failure kinds recorded in fetch outcomes and attempt records.
const (
	ErrorKindTransport    ErrorKind = "transport"
	ErrorKindProtocol     ErrorKind = "protocol"
	ErrorKindOversize     ErrorKind = "oversize"
	ErrorKindEmptyPayload ErrorKind = "empty_payload"
	ErrorKindMissingURL   ErrorKind = "missing_url"
)

// FetchError is the structured failure attached to an outcome.
type FetchError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	URL         string    `json:"url,omitempty"`
	Status      int       `json:"status,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	BodyPreview string    `json:"body_preview,omitempty"`
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Preview is a bounded rendition of a payload that was not stored as JSON.
type Preview struct {
	Text      string `json:"text"`
	Encoding  string `json:"encoding,omitempty"`
	Truncated bool   `json:"truncated"`
}

// FetchOutcome is the result of one bounded fetch.
type FetchOutcome struct {
	SourceID     string          `json:"source_id"`
	URL          string          `json:"url"`
	RetrievedUTC string          `json:"retrieved_utc"`
	OK           bool            `json:"ok"`
	Status       *int            `json:"status,omitempty"`
	ContentType  string          `json:"content_type,omitempty"`
	SHA256       string          `json:"sha256,omitempty"`
	Bytes        int64           `json:"bytes"`
	JSON         json.RawMessage `json:"json,omitempty"`
	Preview      *Preview        `json:"preview,omitempty"`
	Error        *FetchError     `json:"error,omitempty"`

	// Body holds the captured bytes (at most the cap) for raw evidence.
	Body []byte `json:"-"`
}

// Captured reports whether the outcome carries bytes worth persisting as evidence.
func (o FetchOutcome) Captured() bool {
	if len(o.Body) == 0 {
		return false
	}
	return o.OK || (o.Error != nil && o.Error.Kind == ErrorKindOversize)
}

// AttemptRecord is one designation candidate tried by the resolver.
type AttemptRecord struct {
	Designation string      `json:"designation"`
	OK          bool        `json:"ok"`
	URL         string      `json:"url"`
	Error       *FetchError `json:"error,omitempty"`
}

// Resolution is the provenance trail of a multi-candidate source.
type Resolution struct {
	QueryUsed string          `json:"query_used,omitempty"`
	Attempts  []AttemptRecord `json:"attempts"`
}

// SourceRecord is one entry of a snapshot.
type SourceRecord struct {
	FetchOutcome
	Kind       string      `json:"kind,omitempty"`
	RawPath    string      `json:"raw_path,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Snapshot is the archival record for one requested day.
type Snapshot struct {
	Schema       string         `json:"schema"`
	Object       string         `json:"object"`
	Day          string         `json:"day"`
	RetrievedUTC string         `json:"retrieved_utc"`
	Context      map[string]any `json:"context,omitempty"`
	Sources      []SourceRecord `json:"sources"`
}

// ManifestSource is the condensed per-source index of a manifest.
type ManifestSource struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	OK           bool   `json:"ok"`
	Status       *int   `json:"status,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
	Bytes        int64  `json:"bytes"`
	RetrievedUTC string `json:"retrieved_utc"`
}

// Integrity holds the fixed assertions every manifest carries.
type Integrity struct {
	GeneratedAutomatically    bool `json:"generated_automatically"`
	NoInterpretationApplied   bool `json:"no_interpretation_applied"`
	RawOnly                   bool `json:"raw_only"`
	RawPayloadsMayBeTruncated bool `json:"raw_payloads_may_be_truncated"`
}

// Manifest is the integrity companion of a snapshot.
type Manifest struct {
	Schema         string           `json:"schema"`
	GeneratedUTC   string           `json:"generated_utc"`
	RunID          string           `json:"run_id,omitempty"`
	Day            string           `json:"day"`
	SnapshotFile   string           `json:"snapshot_file"`
	SnapshotSHA256 string           `json:"snapshot_sha256"`
	SnapshotBytes  int64            `json:"snapshot_bytes"`
	// ContentSHA256 digests the snapshot with retrieval timestamps blanked.
	// It is the value the write decision compares.
	ContentSHA256  string           `json:"content_sha256"`
	Sources        []ManifestSource `json:"sources"`
	Integrity      Integrity        `json:"integrity"`
}

// WriteOutcome is the terminal state of the write policy for one day.
type WriteOutcome string

// Write policy outcomes.
const (
	OutcomeWritten       WriteOutcome = "written"
	OutcomeNoopUnchanged WriteOutcome = "noop_unchanged"
	OutcomeSkippedExists WriteOutcome = "skipped_exists"
)

// LedgerEntry records one write decision.
type LedgerEntry struct {
	RunID          string `json:"run_id"`
	Day            string `json:"day"`
	Outcome        string `json:"outcome"`
	SnapshotFile   string `json:"snapshot_file"`
	SnapshotSHA256 string `json:"snapshot_sha256"`
	SourcesOK      int    `json:"sources_ok"`
	SourcesTotal   int    `json:"sources_total"`
	RecordedUTC    string `json:"recorded_utc"`
}

// Notification announces a newly written day.
type Notification struct {
	Day            string `json:"day"`
	Outcome        string `json:"outcome"`
	RunID          string `json:"run_id"`
	SnapshotFile   string `json:"snapshot_file"`
	SnapshotSHA256 string `json:"snapshot_sha256"`
	ManifestFile   string `json:"manifest_file"`
	GeneratedUTC   string `json:"generated_utc"`
}

// Attributes returns the message attributes subscribers filter on.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"day":     n.Day,
		"outcome": n.Outcome,
		"schema":  ManifestSchema,
	}
}
