// backend/src/models/ingestion.go
package models

import "github.com/shopspring/decimal"

// ParsedRow is the structured form of one well-formed data line from an
// uploaded transaction export. Rows are never mutated after parsing; identity
// for deduplication is decided by the fingerprint package, not by structural
// equality.
type ParsedRow struct {
	Type          string          `json:"type"`
	Product       string          `json:"product"`
	StartedDate   string          `json:"started_date"`
	CompletedDate string          `json:"completed_date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	AmountText    string          `json:"amount_text"` // exact source text the amount was parsed from
	Fee           decimal.Decimal `json:"fee"`
	Currency      string          `json:"currency"`
	State         string          `json:"state"`
	Balance       decimal.Decimal `json:"balance"`
	HasBalance    bool            `json:"has_balance"`
	RawLine       string          `json:"raw_line"`
}

// IngestionRequest is the immutable input of one pipeline invocation.
type IngestionRequest struct {
	RawText      string `json:"rawText"`
	Filename     string `json:"filename"`
	RowCountHint int    `json:"rowCountHint"`
}

// StoreSnapshot captures the remote blob at one read. Found is false when
// the blob does not exist yet, in which case Content is empty and
// VersionToken is empty as well.
type StoreSnapshot struct {
	Content      string `json:"content"`
	VersionToken string `json:"version_token"`
	Found        bool   `json:"found"`
}

// MergeResult is the output of the deduplicate-and-merge step, consumed
// exactly once by the commit step.
type MergeResult struct {
	MergedContent    string `json:"merged_content"`
	NewRowCount      int    `json:"new_row_count"`
	TotalRowCount    int    `json:"total_row_count"`
	BaseVersionToken string `json:"base_version_token"`
}

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	StatusQueued   InstanceStatus = "QUEUED"
	StatusRunning  InstanceStatus = "RUNNING"
	StatusComplete InstanceStatus = "COMPLETE"
	StatusErrored  InstanceStatus = "ERRORED"
)

// Terminal reports whether the status can no longer change.
func (s InstanceStatus) Terminal() bool {
	return s == StatusComplete || s == StatusErrored
}

// UploadAccepted is returned to the caller as soon as an upload has been
// validated and queued, before the pipeline runs to completion.
type UploadAccepted struct {
	InstanceID string `json:"instanceId"`
	RowCount   int    `json:"rowCount"`
}

// PipelineOutput is the final result of a completed ingestion.
type PipelineOutput struct {
	NewRowCount   int `json:"newRowCount"`
	TotalRowCount int `json:"totalRowCount"`
}

// StatusResponse is the payload of the status-poll endpoint. Output is only
// present once Status is COMPLETE; Error only once it is ERRORED.
type StatusResponse struct {
	ID     string          `json:"id"`
	Status InstanceStatus  `json:"status"`
	Output *PipelineOutput `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}
