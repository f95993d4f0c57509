package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"budgetd/internal/core"
)

// Repository persists budgets and their items in SQLite. Every write runs in a
// single transaction so a partial budget is never observable.
type Repository struct {
	db *sql.DB
}

// Open prepares the database file, enables foreign key enforcement and runs
// pending migrations.
func Open(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// _txlock=immediate makes write transactions take the lock at BeginTx, so
	// two concurrent saves serialize instead of deadlocking on lock upgrade.
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateBudget inserts a budget row and bulk-inserts its items atomically.
// A same-title budget for the owner, whether found by the in-transaction
// pre-check or surfaced by the unique index under concurrency, is reported as
// a DuplicateTitleError carrying the conflicting budget.
func (r *Repository) CreateBudget(ctx context.Context, ownerID int64, title string, totalAmount decimal.Decimal, items []core.ItemInput) (*core.Budget, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := findByTitleTx(ctx, tx, ownerID, title)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &DuplicateError{Existing: existing}
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO budgets (user_id, title, total_amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ownerID, title, totalAmount, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{}
		}
		return nil, fmt.Errorf("insert budget: %w", err)
	}

	budgetID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("budget id: %w", err)
	}

	stored, err := insertItemsTx(ctx, tx, budgetID, items, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget created",
		"budget_id", budgetID,
		"owner_id", ownerID,
		"title", title,
		"item_count", len(stored))

	return &core.Budget{
		ID:          budgetID,
		OwnerID:     ownerID,
		Title:       title,
		TotalAmount: totalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       stored,
	}, nil
}

// ReplaceBudget updates the budget row and wholesale-replaces its items:
// the old set is deleted and the new set inserted within the same transaction.
// Items are never diffed. The budget must belong to ownerID.
func (r *Repository) ReplaceBudget(ctx context.Context, budgetID, ownerID int64, title string, totalAmount decimal.Decimal, items []core.ItemInput) (*core.Budget, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		storedOwner int64
		createdAt   time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, created_at FROM budgets WHERE id = ?`, budgetID).
		Scan(&storedOwner, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find budget %d: %w", budgetID, err)
	}
	if storedOwner != ownerID {
		return nil, core.ErrForbidden
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE budgets SET title = ?, total_amount = ?, updated_at = ? WHERE id = ?`,
		title, totalAmount, now, budgetID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{}
		}
		return nil, fmt.Errorf("update budget %d: %w", budgetID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM budget_items WHERE budget_id = ?`, budgetID); err != nil {
		return nil, fmt.Errorf("delete items of budget %d: %w", budgetID, err)
	}

	stored, err := insertItemsTx(ctx, tx, budgetID, items, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget replaced",
		"budget_id", budgetID,
		"owner_id", ownerID,
		"title", title,
		"item_count", len(stored))

	return &core.Budget{
		ID:          budgetID,
		OwnerID:     ownerID,
		Title:       title,
		TotalAmount: totalAmount,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
		Items:       stored,
	}, nil
}

// DeleteBudget removes a budget and its items after verifying ownership.
// The item delete is explicit even though the schema cascades, mirroring the
// write order the rest of the gateway uses.
func (r *Repository) DeleteBudget(ctx context.Context, budgetID, ownerID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var storedOwner int64
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM budgets WHERE id = ?`, budgetID).Scan(&storedOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find budget %d: %w", budgetID, err)
	}
	if storedOwner != ownerID {
		return core.ErrForbidden
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM budget_items WHERE budget_id = ?`, budgetID); err != nil {
		return fmt.Errorf("delete items of budget %d: %w", budgetID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM budgets WHERE id = ?`, budgetID); err != nil {
		return fmt.Errorf("delete budget %d: %w", budgetID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget deleted", "budget_id", budgetID, "owner_id", ownerID)
	return nil
}

// LatestForOwner returns the budget with the maximal updated_at for the owner,
// items attached. Absence is reported as (nil, nil), not as an error.
func (r *Repository) LatestForOwner(ctx context.Context, ownerID int64) (*core.Budget, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, total_amount, created_at, updated_at
		 FROM budgets
		 WHERE user_id = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`, ownerID)

	budget, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest budget for owner %d: %w", ownerID, err)
	}

	if err := r.loadItems(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

// HistoryForOwner returns all budgets of the owner, most recently created
// first, each with its items. The slice is empty when the owner has none.
func (r *Repository) HistoryForOwner(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, total_amount, created_at, updated_at
		 FROM budgets
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("budget history for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	budgets := make([]core.Budget, 0)
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, *budget)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budgets: %w", err)
	}

	for i := range budgets {
		if err := r.loadItems(ctx, &budgets[i]); err != nil {
			return nil, err
		}
	}
	return budgets, nil
}

// FindByID returns the budget with the given id, items attached, or nil when
// it does not exist.
func (r *Repository) FindByID(ctx context.Context, budgetID int64) (*core.Budget, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, total_amount, created_at, updated_at
		 FROM budgets
		 WHERE id = ?`, budgetID)

	budget, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find budget %d: %w", budgetID, err)
	}

	if err := r.loadItems(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

// FindByTitle returns the owner's budget with the exact (case-sensitive)
// title, or nil when none exists. With pre-constraint data holding several
// same-title rows, the lowest id wins so the pick is deterministic.
func (r *Repository) FindByTitle(ctx context.Context, ownerID int64, title string) (*core.Budget, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, total_amount, created_at, updated_at
		 FROM budgets
		 WHERE user_id = ? AND title = ?
		 ORDER BY id ASC
		 LIMIT 1`, ownerID, title)

	budget, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find budget by title: %w", err)
	}

	if err := r.loadItems(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

// ItemCount reports how many items a budget currently holds. Used by tests
// and the health surface; not part of the save path.
func (r *Repository) ItemCount(ctx context.Context, budgetID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM budget_items WHERE budget_id = ?`, budgetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items of budget %d: %w", budgetID, err)
	}
	return n, nil
}

// DuplicateError is the storage-level duplicate signal. The gateway cannot
// always attach the conflicting budget (a concurrent insert may have raced the
// pre-check), so the service layer resolves Existing before surfacing a
// core.DuplicateTitleError to callers.
type DuplicateError struct {
	Existing *core.Budget
}

func (e *DuplicateError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf("duplicate budget title (existing id %d)", e.Existing.ID)
	}
	return "duplicate budget title"
}

func findByTitleTx(ctx context.Context, tx *sql.Tx, ownerID int64, title string) (*core.Budget, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, title, total_amount, created_at, updated_at
		 FROM budgets
		 WHERE user_id = ? AND title = ?
		 ORDER BY id ASC
		 LIMIT 1`, ownerID, title)

	budget, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find budget by title: %w", err)
	}
	return budget, nil
}

func insertItemsTx(ctx context.Context, tx *sql.Tx, budgetID int64, items []core.ItemInput, now time.Time) ([]core.BudgetItem, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO budget_items (budget_id, label, value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare item insert: %w", err)
	}
	defer stmt.Close()

	stored := make([]core.BudgetItem, 0, len(items))
	for _, item := range items {
		res, err := stmt.ExecContext(ctx, budgetID, item.Label, item.Value, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert item %q: %w", item.Label, err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("item id: %w", err)
		}
		stored = append(stored, core.BudgetItem{
			ID:        itemID,
			BudgetID:  budgetID,
			Label:     item.Label,
			Value:     item.Value,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return stored, nil
}

func (r *Repository) loadItems(ctx context.Context, budget *core.Budget) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, budget_id, label, value, created_at, updated_at
		 FROM budget_items
		 WHERE budget_id = ?
		 ORDER BY id ASC`, budget.ID)
	if err != nil {
		return fmt.Errorf("load items of budget %d: %w", budget.ID, err)
	}
	defer rows.Close()

	items := make([]core.BudgetItem, 0)
	for rows.Next() {
		var item core.BudgetItem
		if err := rows.Scan(&item.ID, &item.BudgetID, &item.Label, &item.Value,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate items: %w", err)
	}

	budget.Items = items
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudget(row rowScanner) (*core.Budget, error) {
	var (
		budget core.Budget
		title  sql.NullString
	)
	if err := row.Scan(&budget.ID, &budget.OwnerID, &title, &budget.TotalAmount,
		&budget.CreatedAt, &budget.UpdatedAt); err != nil {
		return nil, err
	}
	// title is nullable in the legacy schema; the save workflow never writes
	// NULL but old rows may carry it.
	budget.Title = title.String
	return &budget, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
