// backend/src/services/interfaces.go
package services

import (
	"context"
	"errors"

	"github.com/username/ledgersync/backend/src/models"
	"github.com/username/ledgersync/backend/src/workflow"
)

// Define common service errors
var (
	ErrMalformedUpload = errors.New("malformed upload")
	ErrEmptyUpload     = errors.New("upload contains no data rows")
)

// RemoteStore is the boundary to the external versioned file store. The
// production implementation is store.Client; tests substitute fakes.
type RemoteStore interface {
	Read(ctx context.Context, path string) (models.StoreSnapshot, error)
	Write(ctx context.Context, path, content, message, expectedVersionToken string) (string, error)
}

// IngestionService drives the upload pipeline: it validates an inbound
// request, creates a durable workflow instance for it, and answers status
// polls for running and finished instances.
type IngestionService interface {
	// StartIngestion validates the upload and queues the pipeline. It
	// returns as soon as the instance is recorded, before any step runs.
	StartIngestion(ctx context.Context, req models.IngestionRequest) (*models.UploadAccepted, error)

	// GetStatus reports the current state of an instance, including the
	// final row counts once the instance is complete.
	GetStatus(ctx context.Context, instanceID string) (*models.StatusResponse, error)

	// Resume relaunches instances that were interrupted by a process
	// restart. Called once at startup.
	Resume(ctx context.Context) (int, error)
}

// CommitOutput is the durable output of the commit step.
type CommitOutput struct {
	VersionToken  string `json:"version_token"`
	NewRowCount   int    `json:"new_row_count"`
	TotalRowCount int    `json:"total_row_count"`
}

// ConfirmOutput is the durable output of the final propagation step and the
// source of the caller-visible result.
type ConfirmOutput struct {
	NewRowCount   int    `json:"newRowCount"`
	TotalRowCount int    `json:"totalRowCount"`
	ConfirmedAt   string `json:"confirmedAt"`
}

// IngestionConfig carries the per-deployment pipeline settings.
type IngestionConfig struct {
	// BlobPath is the remote store path of the merged dataset.
	BlobPath string
	// CommitMessage prefixes the revision message of every commit.
	CommitMessage string
	// FetchRetry and CommitRetry are the retry budgets of the two steps
	// that talk to the remote store.
	FetchRetry  workflow.RetryPolicy
	CommitRetry workflow.RetryPolicy
	// ConflictRestarts is the number of extra fetch-merge-commit rounds
	// attempted when a commit hits a version conflict. Zero (the default)
	// surfaces the conflict as an instance failure and leaves re-triggering
	// to the caller.
	ConflictRestarts int
}
