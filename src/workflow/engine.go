// backend/src/workflow/engine.go
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/username/ledgersync/backend/src/logger"
	"github.com/username/ledgersync/backend/src/models"
)

// ErrInstanceNotFound is returned by Status for unknown instance IDs.
var ErrInstanceNotFound = errors.New("workflow: instance not found")

// Step is one unit of pipeline work. Its output is JSON-serialized and
// durably recorded before the next step may begin, so a step's Run must be
// tolerant of re-execution after a crash that happened between the external
// effect and the checkpoint (the commit step relies on the store's version
// token for that).
type Step struct {
	Name  string
	Retry RetryPolicy
	Run   func(ctx context.Context, sc *StepContext) (any, error)
}

// StepContext gives a running step access to the instance input and to the
// durably recorded outputs of every prior step.
type StepContext struct {
	InstanceID string
	Input      json.RawMessage

	outputs map[string]json.RawMessage
}

// Output decodes the recorded output of an earlier step into v.
func (sc *StepContext) Output(stepName string, v any) error {
	raw, ok := sc.outputs[stepName]
	if !ok {
		return fmt.Errorf("workflow: no recorded output for step %q", stepName)
	}
	return json.Unmarshal(raw, v)
}

// DecodeInput decodes the instance input into v.
func (sc *StepContext) DecodeInput(v any) error {
	return json.Unmarshal(sc.Input, v)
}

// InstanceState is the queryable state of one workflow instance.
type InstanceState struct {
	ID          string
	Status      models.InstanceStatus
	CurrentStep int
	Error       string
	Input       json.RawMessage
	Outputs     map[string]json.RawMessage
}

// Engine executes a fixed sequence of steps per instance, checkpointing each
// step's output to sqlite before advancing. Instances run concurrently, one
// goroutine each; the only cross-instance contention is whatever external
// resource the steps themselves touch.
type Engine struct {
	db    *sql.DB
	steps []Step
}

func NewEngine(db *sql.DB, steps []Step) *Engine {
	return &Engine{db: db, steps: steps}
}

// Start records a new instance with the given input and launches it. The
// instance ID is returned immediately; completion is observed via Status.
func (e *Engine) Start(ctx context.Context, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("workflow: encoding instance input: %w", err)
	}

	id := uuid.New().String()
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, status, current_step, input)
		VALUES (?, ?, 0, ?)`,
		id, string(models.StatusQueued), string(raw),
	)
	if err != nil {
		return "", fmt.Errorf("workflow: recording instance: %w", err)
	}

	go e.run(id)
	return id, nil
}

// ResumeIncomplete relaunches every instance that was queued or mid-run when
// the process last stopped. Completed steps are not re-executed; each
// instance picks up at its first step without a checkpoint. Returns the
// number of instances resumed.
func (e *Engine) ResumeIncomplete(ctx context.Context) (int, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id FROM workflow_instances WHERE status IN (?, ?)`,
		string(models.StatusQueued), string(models.StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("workflow: listing incomplete instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		logger.L.Info("Resuming incomplete workflow instance", "instanceID", id)
		go e.run(id)
	}
	return len(ids), nil
}

// Status loads the current state of an instance, including all recorded
// step outputs.
func (e *Engine) Status(ctx context.Context, id string) (*InstanceState, error) {
	return e.loadInstance(ctx, id)
}

func (e *Engine) run(id string) {
	ctx := context.Background()

	st, err := e.loadInstance(ctx, id)
	if err != nil {
		logger.L.Error("Failed to load workflow instance", "instanceID", id, "error", err)
		return
	}
	if st.Status.Terminal() {
		return
	}
	if err := e.setStatus(ctx, id, models.StatusRunning); err != nil {
		logger.L.Error("Failed to mark instance running", "instanceID", id, "error", err)
		return
	}

	for i := st.CurrentStep; i < len(e.steps); i++ {
		step := e.steps[i]
		out, err := e.runStep(ctx, id, step)
		if err != nil {
			e.fail(ctx, id, step.Name, err)
			return
		}
		raw, err := json.Marshal(out)
		if err != nil {
			e.fail(ctx, id, step.Name, fmt.Errorf("encoding step output: %w", err))
			return
		}
		if err := e.checkpoint(ctx, id, i, step.Name, raw); err != nil {
			logger.L.Error("Failed to checkpoint step output", "instanceID", id, "step", step.Name, "error", err)
			e.fail(ctx, id, step.Name, fmt.Errorf("recording step output: %w", err))
			return
		}
	}

	if err := e.setStatus(ctx, id, models.StatusComplete); err != nil {
		logger.L.Error("Failed to mark instance complete", "instanceID", id, "error", err)
		return
	}
	logger.L.Info("Workflow instance complete", "instanceID", id)
}

// runStep executes one step under its retry policy. Only transient failures
// consume the retry budget; any other error fails immediately.
func (e *Engine) runStep(ctx context.Context, id string, step Step) (any, error) {
	sc, err := e.stepContext(ctx, id)
	if err != nil {
		return nil, err
	}

	maxAttempts := step.Retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := step.Run(ctx, sc)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			return nil, fmt.Errorf("exhausted %d attempt(s): %w", maxAttempts, lastErr)
		}

		delay := step.Retry.delay(attempt)
		logger.L.Warn("Step failed transiently, backing off",
			"instanceID", id, "step", step.Name, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// stepContext rebuilds the step context from durable state so that a step
// only ever sees outputs that survived a checkpoint.
func (e *Engine) stepContext(ctx context.Context, id string) (*StepContext, error) {
	st, err := e.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StepContext{InstanceID: id, Input: st.Input, outputs: st.Outputs}, nil
}

// --- persistence ---

func (e *Engine) loadInstance(ctx context.Context, id string) (*InstanceState, error) {
	st := &InstanceState{ID: id, Outputs: map[string]json.RawMessage{}}

	var status, input string
	var errMsg sql.NullString
	err := e.db.QueryRowContext(ctx, `
		SELECT status, current_step, input, error
		FROM workflow_instances WHERE id = ?`, id,
	).Scan(&status, &st.CurrentStep, &input, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: loading instance %s: %w", id, err)
	}
	st.Status = models.InstanceStatus(status)
	st.Input = json.RawMessage(input)
	if errMsg.Valid {
		st.Error = errMsg.String
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT step_name, output FROM workflow_step_outputs
		WHERE instance_id = ? ORDER BY step_index`, id)
	if err != nil {
		return nil, fmt.Errorf("workflow: loading step outputs for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, output string
		if err := rows.Scan(&name, &output); err != nil {
			return nil, err
		}
		st.Outputs[name] = json.RawMessage(output)
	}
	return st, rows.Err()
}

// checkpoint durably records a step's output and advances the instance
// cursor in one transaction. Step N+1 never starts unless this committed.
func (e *Engine) checkpoint(ctx context.Context, id string, stepIndex int, stepName string, output json.RawMessage) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_step_outputs (instance_id, step_index, step_name, output)
		VALUES (?, ?, ?, ?)`,
		id, stepIndex, stepName, string(output),
	)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_step = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		stepIndex+1, id,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) setStatus(ctx context.Context, id string, status models.InstanceStatus) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(status), id,
	)
	return err
}

func (e *Engine) fail(ctx context.Context, id, stepName string, stepErr error) {
	reason := fmt.Sprintf("step %s failed: %v", stepName, stepErr)
	logger.L.Error("Workflow instance errored", "instanceID", id, "step", stepName, "error", stepErr)
	_, err := e.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(models.StatusErrored), reason, id,
	)
	if err != nil {
		logger.L.Error("Failed to record instance failure", "instanceID", id, "error", err)
	}
}
