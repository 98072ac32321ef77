package sheets

import (
	"context"

	"dealbook/internal/core"
)

// DealMirror keeps a spreadsheet copy of the deal records, one row per deal.
type DealMirror interface {
	// UpsertDeal writes the deal's row, appending it when absent.
	UpsertDeal(ctx context.Context, d core.Deal) error
	// DeleteDeal clears the deal's row. A missing row is not an error.
	DeleteDeal(ctx context.Context, id string) error
}
