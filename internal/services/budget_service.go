package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"budgetd/internal/core"
	"budgetd/internal/storage"
)

// EventPublisher is the outbound port for budget lifecycle events. Publishing
// is best-effort: the budget is already committed when an event goes out.
type EventPublisher interface {
	PublishBudgetSaved(ctx context.Context, budgetID, ownerID int64) error
	PublishBudgetDeleted(ctx context.Context, budgetID, ownerID int64) error
}

// SaveRequest carries the fields of a save submission. ConfirmOverwrite is the
// second-call flag of the duplicate-title protocol: without it, a title
// collision yields a DuplicateTitleError and no write.
type SaveRequest struct {
	Title            string
	TotalAmount      decimal.Decimal
	Items            []core.ItemInput
	ConfirmOverwrite bool
}

// BudgetService implements the save-resolution policy on top of the storage
// gateway and publishes events after successful writes.
type BudgetService struct {
	repo      *storage.Repository
	publisher EventPublisher
}

func NewBudgetService(repo *storage.Repository, publisher EventPublisher) *BudgetService {
	return &BudgetService{
		repo:      repo,
		publisher: publisher,
	}
}

// SaveBudget decides between create, confirmation-gated overwrite and the
// duplicate-title signal:
//
//  1. no same-title budget exists for the owner -> create;
//  2. one exists and the caller has not confirmed -> DuplicateTitleError with
//     the conflicting budget attached, store untouched;
//  3. one exists and the caller confirmed -> wholesale replace under the
//     existing budget's id.
//
// The returned bool is true when a new budget row was created.
func (s *BudgetService) SaveBudget(ctx context.Context, ownerID int64, req SaveRequest) (*core.Budget, bool, error) {
	if err := validateSave(req); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByTitle(ctx, ownerID, req.Title)
	if err != nil {
		return nil, false, fmt.Errorf("resolve title %q: %w", req.Title, err)
	}

	if existing == nil {
		budget, err := s.repo.CreateBudget(ctx, ownerID, req.Title, req.TotalAmount, req.Items)
		if err != nil {
			var dup *storage.DuplicateError
			if errors.As(err, &dup) {
				// A concurrent save won the race; surface it exactly like a
				// pre-check hit so the caller can confirm and retry.
				return nil, false, s.duplicateSignal(ctx, ownerID, req.Title, dup)
			}
			return nil, false, fmt.Errorf("create budget: %w", err)
		}
		s.publishSaved(ctx, budget)
		return budget, true, nil
	}

	if !req.ConfirmOverwrite {
		slog.InfoContext(ctx, "Save needs overwrite confirmation",
			"owner_id", ownerID,
			"title", req.Title,
			"existing_id", existing.ID)
		return nil, false, &core.DuplicateTitleError{Existing: existing}
	}

	budget, err := s.repo.ReplaceBudget(ctx, existing.ID, ownerID, req.Title, req.TotalAmount, req.Items)
	if err != nil {
		return nil, false, fmt.Errorf("overwrite budget %d: %w", existing.ID, err)
	}
	s.publishSaved(ctx, budget)
	return budget, false, nil
}

// ReplaceBudget overwrites a budget the caller already identified by id.
func (s *BudgetService) ReplaceBudget(ctx context.Context, budgetID, ownerID int64, req SaveRequest) (*core.Budget, error) {
	if err := validateSave(req); err != nil {
		return nil, err
	}

	budget, err := s.repo.ReplaceBudget(ctx, budgetID, ownerID, req.Title, req.TotalAmount, req.Items)
	if err != nil {
		var dup *storage.DuplicateError
		if errors.As(err, &dup) {
			return nil, s.duplicateSignal(ctx, ownerID, req.Title, dup)
		}
		return nil, err
	}
	s.publishSaved(ctx, budget)
	return budget, nil
}

// DeleteBudget removes the budget after the gateway verifies ownership.
func (s *BudgetService) DeleteBudget(ctx context.Context, budgetID, ownerID int64) error {
	if err := s.repo.DeleteBudget(ctx, budgetID, ownerID); err != nil {
		return err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBudgetDeleted(ctx, budgetID, ownerID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish budget deleted event",
				"budget_id", budgetID, "error", err)
			// The delete is committed; the event stream just missed it.
		}
	}
	return nil
}

// LatestBudget returns the owner's most recently updated budget, or nil when
// the owner has none. Absence is not an error.
func (s *BudgetService) LatestBudget(ctx context.Context, ownerID int64) (*core.Budget, error) {
	return s.repo.LatestForOwner(ctx, ownerID)
}

// BudgetHistory returns all of the owner's budgets, newest creation first.
func (s *BudgetService) BudgetHistory(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	return s.repo.HistoryForOwner(ctx, ownerID)
}

func (s *BudgetService) publishSaved(ctx context.Context, budget *core.Budget) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishBudgetSaved(ctx, budget.ID, budget.OwnerID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish budget saved event",
			"budget_id", budget.ID, "error", err)
		// Don't fail the request - the budget is committed locally.
	}
}

// duplicateSignal upgrades a storage duplicate to the policy signal, loading
// the conflicting budget when the gateway could not attach it.
func (s *BudgetService) duplicateSignal(ctx context.Context, ownerID int64, title string, dup *storage.DuplicateError) error {
	// Reload rather than trust dup.Existing: the gateway's in-transaction hit
	// carries the budget without its items.
	found, err := s.repo.FindByTitle(ctx, ownerID, title)
	if err != nil {
		return fmt.Errorf("load conflicting budget: %w", err)
	}
	if found == nil {
		// The conflicting row vanished between the failed write and this
		// lookup; report the raw conflict and let the caller retry.
		return fmt.Errorf("save budget %q: %w", title, dup)
	}
	return &core.DuplicateTitleError{Existing: found}
}

func validateSave(req SaveRequest) error {
	if err := core.ValidateTitle(req.Title); err != nil {
		return err
	}
	if err := core.ValidateAmount("total_amount", req.TotalAmount); err != nil {
		return err
	}
	return core.ValidateItems(req.Items)
}
