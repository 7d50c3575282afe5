package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a batch of rows contains.
type Kind string

const (
	KindProducts Kind = "products"
	KindSales    Kind = "sales"
	KindStockIn  Kind = "stock_in"
	KindStockOut Kind = "stock_out"
)

func (k Kind) Valid() bool {
	switch k {
	case KindProducts, KindSales, KindStockIn, KindStockOut:
		return true
	}
	return false
}

// Status tracks an import batch through its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Row is one already-parsed record from an upload. Keys are column
// headers, values the raw cell text.
type Row map[string]string

// RowError pins a failure to a row and field so the uploader can fix
// the file.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// RowWarning marks a row that was skipped without counting as a failure,
// such as a duplicate invoice.
type RowWarning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Error and warning lists are truncated so a large broken file cannot
// balloon the response; full counts are kept separately.
const (
	maxErrors   = 50
	maxWarnings = 20
)

// ImportLog is the audit record of one batch. It is created before the
// first row is processed and finalized once, never mutated afterwards.
type ImportLog struct {
	ID           uuid.UUID    `json:"id"`
	Kind         Kind         `json:"kind"`
	FranchiseID  uuid.UUID    `json:"franchise_id"`
	ActorID      int64        `json:"actor_id"`
	TotalRows    int          `json:"total_rows"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	ErrorCount   int          `json:"error_count"`
	WarningCount int          `json:"warning_count"`
	Errors       []RowError   `json:"errors,omitempty"`
	Warnings     []RowWarning `json:"warnings,omitempty"`
	Status       Status       `json:"status"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

func (l *ImportLog) addError(e RowError) {
	l.ErrorCount++
	if len(l.Errors) < maxErrors {
		l.Errors = append(l.Errors, e)
	}
}

func (l *ImportLog) addWarning(w RowWarning) {
	l.WarningCount++
	if len(l.Warnings) < maxWarnings {
		l.Warnings = append(l.Warnings, w)
	}
}

// finalStatus derives the batch status from the counters.
func (l *ImportLog) finalStatus() Status {
	switch {
	case l.Failed == 0:
		return StatusCompleted
	case l.Succeeded == 0 && l.Skipped == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Result is what the import endpoint returns: the finalized log plus
// the ids of every product or sale the batch touched.
type Result struct {
	Log              ImportLog   `json:"log"`
	CreatedOrUpdated []uuid.UUID `json:"created_or_updated"`
}

// requiredColumns is the header schema per kind. A batch missing any of
// these fails before row processing starts.
var requiredColumns = map[Kind][]string{
	KindProducts: {"sku", "name", "category", "unit_cost", "unit_price", "quantity"},
	KindSales:    {"invoice_number", "sku", "quantity", "unit_price"},
	KindStockIn:  {"product_id", "from_franchise", "quantity"},
	KindStockOut: {"product_id", "to_franchise", "quantity"},
}

// ListFilter narrows import log listings.
type ListFilter struct {
	Kind    *Kind
	Status  *Status
	Page    int
	PerPage int
}
