package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetd/internal/core"
	"budgetd/internal/storage"
)

type publishedEvent struct {
	kind     string
	budgetID int64
	ownerID  int64
}

// recordingPublisher captures events instead of talking to a broker.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	fail   bool
}

func (p *recordingPublisher) PublishBudgetSaved(_ context.Context, budgetID, ownerID int64) error {
	return p.record("saved", budgetID, ownerID)
}

func (p *recordingPublisher) PublishBudgetDeleted(_ context.Context, budgetID, ownerID int64) error {
	return p.record("deleted", budgetID, ownerID)
}

func (p *recordingPublisher) record(kind string, budgetID, ownerID int64) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{kind: kind, budgetID: budgetID, ownerID: ownerID})
	return nil
}

func (p *recordingPublisher) recorded() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func newTestService(t *testing.T) (*BudgetService, *storage.Repository, *recordingPublisher) {
	t.Helper()

	repo, err := storage.Open(filepath.Join(t.TempDir(), "budgetd.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	publisher := &recordingPublisher{}
	return NewBudgetService(repo, publisher), repo, publisher
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func marchRequest(t *testing.T) SaveRequest {
	return SaveRequest{
		Title:       "March",
		TotalAmount: dec(t, "2000"),
		Items: []core.ItemInput{
			{Label: "Rent", Value: dec(t, "1200")},
			{Label: "Food", Value: dec(t, "300")},
		},
	}
}

func TestSaveBudget_CreatesNew(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	budget, created, err := svc.SaveBudget(ctx, 1, marchRequest(t))
	if err != nil {
		t.Fatalf("SaveBudget: %v", err)
	}
	if !created {
		t.Error("created = false, want true for a fresh title")
	}
	if budget.ID == 0 {
		t.Error("saved budget has no id")
	}
	if budget.OwnerID != 1 || budget.Title != "March" {
		t.Errorf("saved budget = (%d, %q), want (1, March)", budget.OwnerID, budget.Title)
	}
	if len(budget.Items) != 2 {
		t.Errorf("saved budget has %d items, want 2", len(budget.Items))
	}

	events := publisher.recorded()
	if len(events) != 1 || events[0].kind != "saved" || events[0].budgetID != budget.ID {
		t.Errorf("published events = %+v, want one saved event for budget %d", events, budget.ID)
	}
}

func TestSaveBudget_DuplicateWithoutConfirm(t *testing.T) {
	svc, repo, publisher := newTestService(t)
	ctx := context.Background()

	original, _, err := svc.SaveBudget(ctx, 1, marchRequest(t))
	if err != nil {
		t.Fatalf("first SaveBudget: %v", err)
	}

	retry := marchRequest(t)
	retry.TotalAmount = dec(t, "2100")
	retry.Items = []core.ItemInput{{Label: "Rent", Value: dec(t, "1300")}}

	_, _, err = svc.SaveBudget(ctx, 1, retry)
	existing, ok := core.IsDuplicateTitle(err)
	if !ok {
		t.Fatalf("SaveBudget = %v, want DuplicateTitleError", err)
	}
	if existing.ID != original.ID {
		t.Errorf("conflicting budget id = %d, want %d", existing.ID, original.ID)
	}

	// The refused save must leave the stored budget untouched.
	stored, err := repo.FindByID(ctx, original.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !stored.TotalAmount.Equal(dec(t, "2000")) {
		t.Errorf("stored total = %s, want 2000", stored.TotalAmount)
	}
	if len(stored.Items) != 2 {
		t.Errorf("stored item count = %d, want 2", len(stored.Items))
	}

	if events := publisher.recorded(); len(events) != 1 {
		t.Errorf("refused save published an event: %+v", events)
	}
}

func TestSaveBudget_ConfirmOverwrite(t *testing.T) {
	svc, repo, publisher := newTestService(t)
	ctx := context.Background()

	original, _, err := svc.SaveBudget(ctx, 1, marchRequest(t))
	if err != nil {
		t.Fatalf("first SaveBudget: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	confirmed := SaveRequest{
		Title:            "March",
		TotalAmount:      dec(t, "2100"),
		Items:            []core.ItemInput{{Label: "Rent", Value: dec(t, "1300")}},
		ConfirmOverwrite: true,
	}

	budget, created, err := svc.SaveBudget(ctx, 1, confirmed)
	if err != nil {
		t.Fatalf("confirmed SaveBudget: %v", err)
	}
	if created {
		t.Error("created = true, want false for an overwrite")
	}
	if budget.ID != original.ID {
		t.Errorf("overwrite changed the id: %d -> %d", original.ID, budget.ID)
	}
	if len(budget.Items) != 1 || !budget.Items[0].Value.Equal(dec(t, "1300")) {
		t.Errorf("overwritten items = %+v, want single item of 1300", budget.Items)
	}
	if !budget.UpdatedAt.After(original.UpdatedAt) {
		t.Errorf("updated_at did not advance: %v -> %v", original.UpdatedAt, budget.UpdatedAt)
	}

	// Wholesale replacement: the old two items are gone from the store.
	count, err := repo.ItemCount(ctx, original.ID)
	if err != nil {
		t.Fatalf("ItemCount: %v", err)
	}
	if count != 1 {
		t.Errorf("item count = %d, want 1", count)
	}

	events := publisher.recorded()
	if len(events) != 2 || events[1].kind != "saved" {
		t.Errorf("events = %+v, want two saved events", events)
	}
}

func TestSaveBudget_SameTitleDifferentOwners(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SaveBudget(ctx, 1, marchRequest(t)); err != nil {
		t.Fatalf("owner 1 save: %v", err)
	}

	budget, created, err := svc.SaveBudget(ctx, 2, marchRequest(t))
	if err != nil {
		t.Fatalf("owner 2 save with same title: %v", err)
	}
	if !created || budget.OwnerID != 2 {
		t.Errorf("owner 2 save = (created=%v, owner=%d), want a fresh budget", created, budget.OwnerID)
	}
}

func TestSaveBudget_Validation(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   SaveRequest
		field string
	}{
		{
			name:  "empty title",
			req:   SaveRequest{Title: "", TotalAmount: dec(t, "100")},
			field: "title",
		},
		{
			name:  "negative total",
			req:   SaveRequest{Title: "March", TotalAmount: dec(t, "-1")},
			field: "total_amount",
		},
		{
			name: "item with empty label",
			req: SaveRequest{
				Title:       "March",
				TotalAmount: dec(t, "100"),
				Items:       []core.ItemInput{{Label: "", Value: dec(t, "10")}},
			},
			field: "items",
		},
		{
			name: "item with negative value",
			req: SaveRequest{
				Title:       "March",
				TotalAmount: dec(t, "100"),
				Items:       []core.ItemInput{{Label: "Rent", Value: dec(t, "-10")}},
			},
			field: "items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.SaveBudget(ctx, 1, tt.req)
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("SaveBudget = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("validation field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	// Nothing was written and nothing was published.
	latest, err := svc.LatestBudget(ctx, 1)
	if err != nil {
		t.Fatalf("LatestBudget: %v", err)
	}
	if latest != nil {
		t.Errorf("rejected saves left a budget behind: %+v", latest)
	}
	if events := publisher.recorded(); len(events) != 0 {
		t.Errorf("rejected saves published events: %+v", events)
	}
}

func TestSaveBudget_PublishFailureDoesNotFailSave(t *testing.T) {
	svc, _, publisher := newTestService(t)
	publisher.fail = true

	budget, created, err := svc.SaveBudget(context.Background(), 1, marchRequest(t))
	if err != nil {
		t.Fatalf("SaveBudget with failing publisher: %v", err)
	}
	if !created || budget == nil {
		t.Error("save should succeed even when publishing fails")
	}
}

func TestReplaceBudget_DuplicateTitleOnRename(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	march, _, err := svc.SaveBudget(ctx, 1, marchRequest(t))
	if err != nil {
		t.Fatalf("save March: %v", err)
	}
	april := marchRequest(t)
	april.Title = "April"
	if _, _, err := svc.SaveBudget(ctx, 1, april); err != nil {
		t.Fatalf("save April: %v", err)
	}

	// Renaming March to April collides with the existing April budget.
	rename := marchRequest(t)
	rename.Title = "April"
	_, err = svc.ReplaceBudget(ctx, march.ID, 1, rename)
	if _, ok := core.IsDuplicateTitle(err); !ok {
		t.Errorf("rename onto taken title = %v, want DuplicateTitleError", err)
	}
}

func TestDeleteBudget(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	budget, _, err := svc.SaveBudget(ctx, 1, marchRequest(t))
	if err != nil {
		t.Fatalf("SaveBudget: %v", err)
	}

	if err := svc.DeleteBudget(ctx, budget.ID, 1); err != nil {
		t.Fatalf("DeleteBudget: %v", err)
	}

	latest, err := svc.LatestBudget(ctx, 1)
	if err != nil {
		t.Fatalf("LatestBudget: %v", err)
	}
	if latest != nil {
		t.Errorf("budget still present after delete: %+v", latest)
	}

	events := publisher.recorded()
	if len(events) != 2 || events[1].kind != "deleted" || events[1].budgetID != budget.ID {
		t.Errorf("events = %+v, want a deleted event for budget %d", events, budget.ID)
	}
}

func TestDeleteBudget_ForbiddenPublishesNothing(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	budget, _, err := svc.SaveBudget(ctx, 1, marchRequest(t))
	if err != nil {
		t.Fatalf("SaveBudget: %v", err)
	}

	if err := svc.DeleteBudget(ctx, budget.ID, 2); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("delete as non-owner = %v, want ErrForbidden", err)
	}
	if events := publisher.recorded(); len(events) != 1 {
		t.Errorf("refused delete published events: %+v", events)
	}
}

func TestBudgetHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, title := range []string{"January", "February"} {
		req := marchRequest(t)
		req.Title = title
		if _, _, err := svc.SaveBudget(ctx, 1, req); err != nil {
			t.Fatalf("save %q: %v", title, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	history, err := svc.BudgetHistory(ctx, 1)
	if err != nil {
		t.Fatalf("BudgetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	if history[0].Title != "February" || history[1].Title != "January" {
		t.Errorf("history order = [%q, %q], want newest first", history[0].Title, history[1].Title)
	}
}
