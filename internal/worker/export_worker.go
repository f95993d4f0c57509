package worker

import (
	"context"
	"fmt"
	"log/slog"

	"budgetd/internal/amqp"
	"budgetd/internal/sheets"
	"budgetd/internal/storage"
)

// ExportWorker consumes budget events and mirrors saved snapshots to the
// configured sheet. Export runs strictly after commit; a failed export leaves
// the message on the queue for redelivery and never touches the store.
type ExportWorker struct {
	repo   *storage.Repository
	writer sheets.SnapshotWriter
}

func NewExportWorker(repo *storage.Repository, writer sheets.SnapshotWriter) *ExportWorker {
	return &ExportWorker{
		repo:   repo,
		writer: writer,
	}
}

// HandleSaved exports the current state of the saved budget. The message only
// identifies the budget; the snapshot is re-read from storage so an overwrite
// that lands between publish and consume is exported once, in its final form.
func (w *ExportWorker) HandleSaved(ctx context.Context, msg *amqp.BudgetSavedMessage) error {
	slog.InfoContext(ctx, "Processing budget saved event",
		"budget_id", msg.BudgetID,
		"owner_id", msg.OwnerID)

	budget, err := w.repo.FindByID(ctx, msg.BudgetID)
	if err != nil {
		return fmt.Errorf("load budget %d: %w", msg.BudgetID, err)
	}
	if budget == nil {
		// Deleted between publish and consume; nothing left to export.
		slog.WarnContext(ctx, "Budget vanished before export, dropping event",
			"budget_id", msg.BudgetID)
		return nil
	}

	if w.writer == nil {
		slog.WarnContext(ctx, "No snapshot writer configured, skipping export",
			"budget_id", msg.BudgetID)
		return nil
	}

	ref, err := w.writer.AppendSnapshot(ctx, *budget)
	if err != nil {
		return fmt.Errorf("export budget %d: %w", msg.BudgetID, err)
	}

	slog.InfoContext(ctx, "Budget exported", "budget_id", msg.BudgetID, "ref", ref)
	return nil
}

// HandleDeleted acknowledges delete events. The export sheet is an append-only
// report, so deletions are recorded in the log only.
func (w *ExportWorker) HandleDeleted(ctx context.Context, msg *amqp.BudgetDeletedMessage) error {
	slog.InfoContext(ctx, "Budget deleted event",
		"budget_id", msg.BudgetID,
		"owner_id", msg.OwnerID)
	return nil
}
