package sheets

import (
	"context"

	"budgetd/internal/core"
)

// SnapshotWriter is the outbound port for budget snapshot export. The export
// is best-effort reporting; it is never part of the save transaction.
type SnapshotWriter interface {
	// AppendSnapshot writes one budget (header plus its item lines) and
	// returns a reference to the written range.
	AppendSnapshot(ctx context.Context, b core.Budget) (ref string, err error)
}
