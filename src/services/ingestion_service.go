// backend/src/services/ingestion_service.go
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/username/ledgersync/backend/src/logger"
	"github.com/username/ledgersync/backend/src/merge"
	"github.com/username/ledgersync/backend/src/models"
	"github.com/username/ledgersync/backend/src/parsers"
	"github.com/username/ledgersync/backend/src/store"
	"github.com/username/ledgersync/backend/src/workflow"
)

// Pipeline step names, in execution order.
const (
	StepValidate         = "Validate"
	StepFetchExisting    = "FetchExisting"
	StepDeduplicateMerge = "DeduplicateMerge"
	StepCommit           = "Commit"
	StepConfirm          = "ConfirmPropagation"
)

type ingestionServiceImpl struct {
	remote           RemoteStore
	engine           *workflow.Engine
	blobPath         string
	commitMessage    string
	conflictRestarts int
}

// NewIngestionService wires the five pipeline steps into a durable workflow
// engine backed by db.
func NewIngestionService(db *sql.DB, remote RemoteStore, cfg IngestionConfig) IngestionService {
	s := &ingestionServiceImpl{
		remote:           remote,
		blobPath:         cfg.BlobPath,
		commitMessage:    cfg.CommitMessage,
		conflictRestarts: cfg.ConflictRestarts,
	}
	s.engine = workflow.NewEngine(db, []workflow.Step{
		{Name: StepValidate, Run: s.runValidate},
		{Name: StepFetchExisting, Retry: cfg.FetchRetry, Run: s.runFetchExisting},
		{Name: StepDeduplicateMerge, Run: s.runDeduplicateMerge},
		{Name: StepCommit, Retry: cfg.CommitRetry, Run: s.runCommit},
		{Name: StepConfirm, Run: s.runConfirm},
	})
	return s
}

func (s *ingestionServiceImpl) StartIngestion(ctx context.Context, req models.IngestionRequest) (*models.UploadAccepted, error) {
	parsed, err := parsers.Parse(req.RawText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}
	if len(parsed.Rows) == 0 {
		return nil, ErrEmptyUpload
	}
	req.RowCountHint = len(parsed.Rows)

	instanceID, err := s.engine.Start(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("starting ingestion pipeline: %w", err)
	}

	logger.L.Info("Ingestion accepted", "instanceID", instanceID, "filename", req.Filename, "rowCount", len(parsed.Rows))
	return &models.UploadAccepted{
		InstanceID: instanceID,
		RowCount:   len(parsed.Rows),
	}, nil
}

func (s *ingestionServiceImpl) GetStatus(ctx context.Context, instanceID string) (*models.StatusResponse, error) {
	st, err := s.engine.Status(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	resp := &models.StatusResponse{
		ID:     st.ID,
		Status: st.Status,
		Error:  st.Error,
	}
	if st.Status == models.StatusComplete {
		var confirm ConfirmOutput
		if err := decodeOutput(st, StepConfirm, &confirm); err != nil {
			return nil, fmt.Errorf("decoding final output for %s: %w", instanceID, err)
		}
		resp.Output = &models.PipelineOutput{
			NewRowCount:   confirm.NewRowCount,
			TotalRowCount: confirm.TotalRowCount,
		}
	}
	return resp, nil
}

func (s *ingestionServiceImpl) Resume(ctx context.Context) (int, error) {
	return s.engine.ResumeIncomplete(ctx)
}

// --- pipeline steps ---

// runValidate re-parses the raw upload from the durable instance input. The
// trigger already validated it once, but the step must stand on its own so a
// resumed instance never depends on in-memory state.
func (s *ingestionServiceImpl) runValidate(ctx context.Context, sc *workflow.StepContext) (any, error) {
	var req models.IngestionRequest
	if err := sc.DecodeInput(&req); err != nil {
		return nil, fmt.Errorf("decoding ingestion request: %w", err)
	}
	parsed, err := parsers.Parse(req.RawText)
	if err != nil {
		return nil, err
	}
	if len(parsed.Rows) == 0 {
		return nil, ErrEmptyUpload
	}
	return parsed, nil
}

// runFetchExisting reads the current dataset snapshot. "Not found" is a
// successful outcome (empty snapshot); everything else the store reports is
// transient and consumes the step's retry budget.
func (s *ingestionServiceImpl) runFetchExisting(ctx context.Context, sc *workflow.StepContext) (any, error) {
	snapshot, err := s.remote.Read(ctx, s.blobPath)
	if err != nil {
		if errors.Is(err, store.ErrTransient) {
			return nil, workflow.Transient(err)
		}
		return nil, err
	}
	return snapshot, nil
}

// runDeduplicateMerge is pure computation; an error here is a defect, never
// retried.
func (s *ingestionServiceImpl) runDeduplicateMerge(ctx context.Context, sc *workflow.StepContext) (any, error) {
	var parsed parsers.ParseResult
	if err := sc.Output(StepValidate, &parsed); err != nil {
		return nil, err
	}
	var snapshot models.StoreSnapshot
	if err := sc.Output(StepFetchExisting, &snapshot); err != nil {
		return nil, err
	}
	return merge.Merge(snapshot, parsed.Header, parsed.Rows)
}

// runCommit writes the merged dataset conditioned on the version token the
// fetch step captured. A conflict means another writer won the race; by
// default that fails the instance, but the configurable restart extension
// can re-run fetch-merge-commit a bounded number of extra rounds.
func (s *ingestionServiceImpl) runCommit(ctx context.Context, sc *workflow.StepContext) (any, error) {
	var mergeResult models.MergeResult
	if err := sc.Output(StepDeduplicateMerge, &mergeResult); err != nil {
		return nil, err
	}

	token, err := s.remote.Write(ctx, s.blobPath, mergeResult.MergedContent, s.revisionMessage(sc), mergeResult.BaseVersionToken)
	if err == nil {
		return CommitOutput{
			VersionToken:  token,
			NewRowCount:   mergeResult.NewRowCount,
			TotalRowCount: mergeResult.TotalRowCount,
		}, nil
	}
	if errors.Is(err, store.ErrConflict) && s.conflictRestarts > 0 {
		return s.commitWithRestart(ctx, sc)
	}
	if errors.Is(err, store.ErrTransient) {
		return nil, workflow.Transient(err)
	}
	return nil, err
}

// commitWithRestart re-runs the fetch-merge-commit sequence after a version
// conflict, up to the configured number of rounds. Each round re-reads the
// blob so the merge is computed against the revision that beat us.
func (s *ingestionServiceImpl) commitWithRestart(ctx context.Context, sc *workflow.StepContext) (any, error) {
	var parsed parsers.ParseResult
	if err := sc.Output(StepValidate, &parsed); err != nil {
		return nil, err
	}

	var lastErr error
	for round := 1; round <= s.conflictRestarts; round++ {
		logger.L.Warn("Commit conflict, restarting fetch-merge-commit", "instanceID", sc.InstanceID, "round", round)

		snapshot, err := s.remote.Read(ctx, s.blobPath)
		if err != nil {
			if errors.Is(err, store.ErrTransient) {
				return nil, workflow.Transient(err)
			}
			return nil, err
		}
		mergeResult, err := merge.Merge(snapshot, parsed.Header, parsed.Rows)
		if err != nil {
			return nil, err
		}
		token, err := s.remote.Write(ctx, s.blobPath, mergeResult.MergedContent, s.revisionMessage(sc), mergeResult.BaseVersionToken)
		if err == nil {
			return CommitOutput{
				VersionToken:  token,
				NewRowCount:   mergeResult.NewRowCount,
				TotalRowCount: mergeResult.TotalRowCount,
			}, nil
		}
		lastErr = err
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if errors.Is(err, store.ErrTransient) {
			return nil, workflow.Transient(err)
		}
		return nil, err
	}
	return nil, fmt.Errorf("conflict persisted after %d restart round(s): %w", s.conflictRestarts, lastErr)
}

// runConfirm is the terminal acknowledgment. The successful write is itself
// the downstream propagation signal (an external refresh process watches the
// store), so there is no call to make here.
func (s *ingestionServiceImpl) runConfirm(ctx context.Context, sc *workflow.StepContext) (any, error) {
	var commit CommitOutput
	if err := sc.Output(StepCommit, &commit); err != nil {
		return nil, err
	}
	logger.L.Info("Ingestion confirmed",
		"instanceID", sc.InstanceID, "newRows", commit.NewRowCount, "totalRows", commit.TotalRowCount)
	return ConfirmOutput{
		NewRowCount:   commit.NewRowCount,
		TotalRowCount: commit.TotalRowCount,
		ConfirmedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *ingestionServiceImpl) revisionMessage(sc *workflow.StepContext) string {
	var req models.IngestionRequest
	if err := sc.DecodeInput(&req); err != nil || req.Filename == "" {
		return s.commitMessage
	}
	return fmt.Sprintf("%s: %s", s.commitMessage, req.Filename)
}

func decodeOutput(st *workflow.InstanceState, step string, v any) error {
	raw, ok := st.Outputs[step]
	if !ok {
		return fmt.Errorf("no recorded output for step %q", step)
	}
	return json.Unmarshal(raw, v)
}
