package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bgstudio/catalog"
)

// DefaultListLimit applies when ListProcessedImages gets a non-positive limit.
const DefaultListLimit = 20

// Provider call outcomes stored in provider_calls.status.
const (
	CallSucceeded = "succeeded"
	CallFailed    = "failed"
)

// ProcessedImage is the archived record of a workflow that reached the
// synthesized stage.
type ProcessedImage struct {
	ID                int64          `json:"id"`
	WorkflowID        string         `json:"workflowId"`
	UserID            string         `json:"userId"`
	UploadedImageRef  string         `json:"uploadedImageRef"`
	RemovedBgImageRef string         `json:"removedBgImageRef"`
	FinalImageRef     string         `json:"finalImageRef"`
	ArchivedPath      string         `json:"archivedPath,omitempty"`
	Category          string         `json:"category,omitempty"`
	CustomPrompt      string         `json:"customPrompt,omitempty"`
	ModelID           string         `json:"modelId"`
	Cost              catalog.Amount `json:"cost"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// ProviderCall is one audited provider operation, retries included.
// A failed call still carries whatever the provider billed for it.
type ProviderCall struct {
	ID         int64
	TaskID     string
	WorkflowID string
	Provider   string
	Operation  string // pipeline.OpRemoveBackground or pipeline.OpSynthesize
	ModelID    string
	Cost       catalog.Amount
	Attempts   int
	Duration   time.Duration

	// Status is CallSucceeded or CallFailed.
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

// Repository reads and writes the service tables. Provider calls go
// through the AsyncWriter when one is running; everything else is written
// synchronously.
type Repository struct {
	db          *Database
	asyncWriter *AsyncWriter
	now         func() time.Time
}

// NewRepository creates a Repository. asyncWriter may be nil.
func NewRepository(database *Database, asyncWriter *AsyncWriter) *Repository {
	return &Repository{
		db:          database,
		asyncWriter: asyncWriter,
		now:         time.Now,
	}
}

// SaveProcessedImage stores a finished workflow and returns its row id.
// Saving the same workflow again, e.g. after a reset and a second
// generation, replaces its row and keeps the row id.
func (r *Repository) SaveProcessedImage(ctx context.Context, img ProcessedImage) (int64, error) {
	if img.WorkflowID == "" || img.UserID == "" {
		return 0, fmt.Errorf("db: processed image needs a workflow and user id")
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = r.now()
	}

	var id int64
	err := r.db.queryRow(ctx, []any{&id}, `
		INSERT INTO processed_images (
			workflow_id, user_id, uploaded_image_ref, removed_bg_image_ref,
			final_image_ref, archived_path, category, custom_prompt,
			model_id, cost_micros, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			user_id = excluded.user_id,
			uploaded_image_ref = excluded.uploaded_image_ref,
			removed_bg_image_ref = excluded.removed_bg_image_ref,
			final_image_ref = excluded.final_image_ref,
			archived_path = excluded.archived_path,
			category = excluded.category,
			custom_prompt = excluded.custom_prompt,
			model_id = excluded.model_id,
			cost_micros = excluded.cost_micros,
			created_at = excluded.created_at
		RETURNING id`,
		img.WorkflowID,
		img.UserID,
		img.UploadedImageRef,
		img.RemovedBgImageRef,
		img.FinalImageRef,
		nullString(img.ArchivedPath),
		nullString(img.Category),
		nullString(img.CustomPrompt),
		img.ModelID,
		int64(img.Cost),
		img.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save processed image: %w", err)
	}
	return id, nil
}

// ListProcessedImages returns a user's images, newest first.
func (r *Repository) ListProcessedImages(ctx context.Context, userID string, limit int) ([]ProcessedImage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	images := []ProcessedImage{}
	err := r.db.query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				img       ProcessedImage
				cost      int64
				createdAt int64
			)
			if err := rows.Scan(
				&img.ID,
				&img.WorkflowID,
				&img.UserID,
				&img.UploadedImageRef,
				&img.RemovedBgImageRef,
				&img.FinalImageRef,
				&img.ArchivedPath,
				&img.Category,
				&img.CustomPrompt,
				&img.ModelID,
				&cost,
				&createdAt,
			); err != nil {
				return fmt.Errorf("failed to scan processed image row: %w", err)
			}
			img.Cost = catalog.Amount(cost)
			img.CreatedAt = time.UnixMilli(createdAt).UTC()
			images = append(images, img)
		}
		return nil
	}, `
		SELECT id, workflow_id, user_id, uploaded_image_ref, removed_bg_image_ref,
		       final_image_ref, COALESCE(archived_path, ''), COALESCE(category, ''),
		       COALESCE(custom_prompt, ''), model_id, cost_micros, created_at
		FROM processed_images
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed images: %w", err)
	}
	return images, nil
}

// RecordProviderCall appends to the spend audit log. With a running
// AsyncWriter the call returns as soon as the row is queued.
func (r *Repository) RecordProviderCall(ctx context.Context, call ProviderCall) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = r.now()
	}
	if call.Status == "" {
		call.Status = CallSucceeded
	}
	if r.asyncWriter != nil && r.asyncWriter.Write(call) {
		return nil
	}
	return r.insertProviderCall(ctx, call)
}

func (r *Repository) insertProviderCall(ctx context.Context, call ProviderCall) error {
	_, err := r.db.exec(ctx, `
		INSERT INTO provider_calls (
			task_id, workflow_id, provider, operation, model_id, cost_micros,
			attempts, duration_ms, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.TaskID,
		nullString(call.WorkflowID),
		call.Provider,
		call.Operation,
		nullString(call.ModelID),
		int64(call.Cost),
		call.Attempts,
		call.Duration.Milliseconds(),
		call.Status,
		nullString(call.ErrorMessage),
		call.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider call: %w", err)
	}
	return nil
}

// AsyncWriteHandler returns the WriteHandler that drains queued provider
// calls into this repository.
func (r *Repository) AsyncWriteHandler() WriteHandler {
	return func(ctx context.Context, op WriteOperation) error {
		call, ok := op.Data.(ProviderCall)
		if !ok {
			return fmt.Errorf("db: unexpected async write %T", op.Data)
		}
		return r.insertProviderCall(ctx, call)
	}
}

// SetAsyncWriter attaches the writer built from AsyncWriteHandler.
func (r *Repository) SetAsyncWriter(w *AsyncWriter) {
	r.asyncWriter = w
}

// ProviderCalls returns the audit rows of one workflow, oldest first.
func (r *Repository) ProviderCalls(ctx context.Context, workflowID string) ([]ProviderCall, error) {
	calls := []ProviderCall{}
	err := r.db.query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				c          ProviderCall
				cost       int64
				durationMS int64
				createdAt  int64
			)
			if err := rows.Scan(
				&c.ID,
				&c.TaskID,
				&c.WorkflowID,
				&c.Provider,
				&c.Operation,
				&c.ModelID,
				&cost,
				&c.Attempts,
				&durationMS,
				&c.Status,
				&c.ErrorMessage,
				&createdAt,
			); err != nil {
				return fmt.Errorf("failed to scan provider call row: %w", err)
			}
			c.Cost = catalog.Amount(cost)
			c.Duration = time.Duration(durationMS) * time.Millisecond
			c.CreatedAt = time.UnixMilli(createdAt).UTC()
			calls = append(calls, c)
		}
		return nil
	}, `
		SELECT id, task_id, COALESCE(workflow_id, ''), provider, operation,
		       COALESCE(model_id, ''), cost_micros, attempts, duration_ms, status,
		       COALESCE(error_message, ''), created_at
		FROM provider_calls
		WHERE workflow_id = ?
		ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider calls: %w", err)
	}
	return calls, nil
}

// TotalSpend sums the cost of provider calls recorded at or after since.
// Failed calls count: the provider billed them.
//
// Example:
//
//	today, err := repo.TotalSpend(ctx, time.Now().Truncate(24*time.Hour))
func (r *Repository) TotalSpend(ctx context.Context, since time.Time) (catalog.Amount, error) {
	var total sql.NullInt64
	err := r.db.queryRow(ctx, []any{&total},
		`SELECT SUM(cost_micros) FROM provider_calls WHERE created_at >= ?`,
		since.UnixMilli(),
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to sum provider spend: %w", err)
	}
	return catalog.Amount(total.Int64), nil
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
