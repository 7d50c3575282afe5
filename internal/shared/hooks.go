package shared

import "context"

// ReportInvalidator bumps cached report versions after a write that
// changes revenue, cost or stock. Implemented by the profit and loss
// cache; writers treat the bump as best effort.
type ReportInvalidator interface {
	InvalidateCache(ctx context.Context) error
}
