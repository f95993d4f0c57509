package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"budgetd/internal/amqp"
	"budgetd/internal/core"
	"budgetd/internal/storage"
)

// fakeWriter records appended snapshots in memory.
type fakeWriter struct {
	snapshots []core.Budget
	fail      bool
}

func (f *fakeWriter) AppendSnapshot(_ context.Context, budget core.Budget) (string, error) {
	if f.fail {
		return "", errors.New("sheets unavailable")
	}
	f.snapshots = append(f.snapshots, budget)
	return "Budgets!A1", nil
}

func newWorkerFixture(t *testing.T) (*storage.Repository, *fakeWriter, *ExportWorker) {
	t.Helper()

	repo, err := storage.Open(filepath.Join(t.TempDir(), "budgetd.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	writer := &fakeWriter{}
	return repo, writer, NewExportWorker(repo, writer)
}

func TestHandleSaved(t *testing.T) {
	repo, writer, w := newWorkerFixture(t)
	ctx := context.Background()

	budget, err := repo.CreateBudget(ctx, 1, "March", decimal.NewFromInt(2000), []core.ItemInput{
		{Label: "Rent", Value: decimal.NewFromInt(1200)},
	})
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	if err := w.HandleSaved(ctx, amqp.NewBudgetSavedMessage(budget.ID, 1)); err != nil {
		t.Fatalf("HandleSaved: %v", err)
	}

	if len(writer.snapshots) != 1 {
		t.Fatalf("exported %d snapshots, want 1", len(writer.snapshots))
	}
	got := writer.snapshots[0]
	if got.ID != budget.ID || got.Title != "March" || len(got.Items) != 1 {
		t.Errorf("exported snapshot = %+v, want the stored budget", got)
	}
}

func TestHandleSaved_BudgetGone(t *testing.T) {
	_, writer, w := newWorkerFixture(t)

	// The budget was deleted between publish and consume; the event is
	// dropped without error so it is not redelivered forever.
	if err := w.HandleSaved(context.Background(), amqp.NewBudgetSavedMessage(999, 1)); err != nil {
		t.Fatalf("HandleSaved for missing budget: %v", err)
	}
	if len(writer.snapshots) != 0 {
		t.Errorf("exported %d snapshots, want 0", len(writer.snapshots))
	}
}

func TestHandleSaved_WriterFailureReturnsError(t *testing.T) {
	repo, writer, w := newWorkerFixture(t)
	ctx := context.Background()
	writer.fail = true

	budget, err := repo.CreateBudget(ctx, 1, "March", decimal.NewFromInt(2000), nil)
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	// A failed export must surface so the message is requeued.
	if err := w.HandleSaved(ctx, amqp.NewBudgetSavedMessage(budget.ID, 1)); err == nil {
		t.Error("HandleSaved = nil, want error when the writer fails")
	}
}

func TestHandleSaved_NoWriterConfigured(t *testing.T) {
	repo, _, _ := newWorkerFixture(t)
	ctx := context.Background()
	w := NewExportWorker(repo, nil)

	budget, err := repo.CreateBudget(ctx, 1, "March", decimal.NewFromInt(2000), nil)
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	if err := w.HandleSaved(ctx, amqp.NewBudgetSavedMessage(budget.ID, 1)); err != nil {
		t.Errorf("HandleSaved without writer = %v, want nil", err)
	}
}

func TestHandleDeleted(t *testing.T) {
	_, writer, w := newWorkerFixture(t)

	if err := w.HandleDeleted(context.Background(), amqp.NewBudgetDeletedMessage(1, 1)); err != nil {
		t.Errorf("HandleDeleted = %v, want nil", err)
	}
	if len(writer.snapshots) != 0 {
		t.Errorf("delete event wrote %d snapshots, want 0", len(writer.snapshots))
	}
}
