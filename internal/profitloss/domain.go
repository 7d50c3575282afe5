package profitloss

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Period is the half-open [From, To) reporting range.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Summary holds the reconciled headline figures. COGS appears twice:
// the primary derivation from sale items, and a cross-check from
// movement history. The cross-check is reported for validation and
// never overrides the primary figure.
type Summary struct {
	Revenue           float64 `json:"revenue"`
	COGS              float64 `json:"cogs"`
	COGSCrossCheck    float64 `json:"cogs_cross_check"`
	GrossProfit       float64 `json:"gross_profit"`
	OperatingExpenses float64 `json:"operating_expenses"`
	NetProfit         float64 `json:"net_profit"`
	GrossMarginPct    float64 `json:"gross_margin_pct"`
	NetMarginPct      float64 `json:"net_margin_pct"`
	UnitsSold         int64   `json:"units_sold"`
	COGSDivergence    bool    `json:"cogs_divergence"`
}

// CategoryBreakdown is one product category's slice of the period.
type CategoryBreakdown struct {
	Category    string  `json:"category"`
	Revenue     float64 `json:"revenue"`
	COGS        float64 `json:"cogs"`
	GrossProfit float64 `json:"gross_profit"`
	UnitsSold   int64   `json:"units_sold"`
}

// Report is the full profit and loss response.
type Report struct {
	Period      Period              `json:"period"`
	FranchiseID *uuid.UUID          `json:"franchise_id,omitempty"`
	Summary     Summary             `json:"summary"`
	Categories  []CategoryBreakdown `json:"categories"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// ReportFilter selects the scope and range of a report.
type ReportFilter struct {
	FranchiseID *uuid.UUID
	From        time.Time
	To          time.Time
}

// saleAggregate is the primary-method rollup from completed sale items.
type saleAggregate struct {
	Revenue   float64
	COGS      float64
	Profit    float64
	UnitsSold int64
}

// stockFlows sums the value of stock entering and leaving the scope
// over the period, from movement history.
type stockFlows struct {
	ImportedCost  float64
	ExportedValue float64
}

// divergenceTolerance scales with revenue; small absolute drift on a
// large period is rounding, the same drift on a tiny period is not.
func divergenceTolerance(revenue float64) float64 {
	return 0.01 * math.Max(1, math.Abs(revenue))
}

// round2 is applied to presentation fields only; intermediate sums stay
// at full precision so the tolerance check sees the real drift.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
