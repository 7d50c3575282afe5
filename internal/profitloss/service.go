package profitloss

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

// Service computes reconciled profit and loss reports. It only reads;
// writers are never blocked by report runs.
type Service struct {
	repo     Repository
	cache    *Cache
	resolver *scope.Resolver
	log      *slog.Logger
}

// NewService wires the aggregate reader with the cache helper.
func NewService(repo Repository, cache *Cache, resolver *scope.Resolver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cache: cache, resolver: resolver, log: log}
}

// ComputeProfitLoss builds the report for the caller's scope and range.
// Results are cached under the scope, period and cache version.
func (s *Service) ComputeProfitLoss(ctx context.Context, id shared.Identity, filter ReportFilter) (Report, error) {
	sc, err := s.resolver.Resolve(id, filter.FranchiseID)
	if err != nil {
		return Report{}, err
	}
	if filter.To.IsZero() {
		filter.To = time.Now().UTC()
	}
	if filter.From.IsZero() {
		filter.From = filter.To.AddDate(0, -1, 0)
	}
	if !filter.From.Before(filter.To) {
		return Report{}, shared.NewValidationError("period", "from must precede to")
	}

	franchises := scopeFranchises(sc, filter.FranchiseID)

	key, err := s.cache.BuildKey(ctx, reportKey(scopeToken(sc, filter.FranchiseID), filter.From, filter.To))
	if err != nil {
		return Report{}, fmt.Errorf("build cache key: %w", err)
	}

	var report Report
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (interface{}, error) {
		r, err := s.compute(ctx, franchises, filter)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// Warm precomputes and caches the report for one franchise, used by the
// nightly snapshot job.
func (s *Service) Warm(ctx context.Context, franchiseID uuid.UUID, from, to time.Time) error {
	admin := shared.Identity{Role: shared.RoleAdmin}
	_, err := s.ComputeProfitLoss(ctx, admin, ReportFilter{FranchiseID: &franchiseID, From: from, To: to})
	return err
}

// InvalidateCache bumps the report cache version after ledger writes.
func (s *Service) InvalidateCache(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) compute(ctx context.Context, franchises []uuid.UUID, filter ReportFilter) (Report, error) {
	var (
		sales      saleAggregate
		categories []CategoryBreakdown
		beginning  float64
		ending     float64
		flows      stockFlows
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.repo.SaleAggregate(ctx, franchises, filter.From, filter.To)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = s.repo.CategoryBreakdown(ctx, franchises, filter.From, filter.To)
		return err
	})
	g.Go(func() error {
		var err error
		beginning, err = s.repo.InventoryValueAt(ctx, franchises, filter.From)
		return err
	})
	g.Go(func() error {
		var err error
		ending, err = s.repo.InventoryValueAt(ctx, franchises, filter.To)
		return err
	})
	g.Go(func() error {
		var err error
		flows, err = s.repo.StockFlows(ctx, franchises, filter.From, filter.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("profit loss aggregates: %w", err)
	}

	crossCheck := beginning + flows.ImportedCost - flows.ExportedValue - ending
	grossProfit := sales.Revenue - sales.COGS
	const operatingExpenses = 0.0
	netProfit := grossProfit - operatingExpenses

	divergence := math.Abs(sales.COGS-crossCheck) > divergenceTolerance(sales.Revenue)
	if divergence {
		s.log.Warn("cogs cross-check divergence",
			"primary", sales.COGS,
			"cross_check", crossCheck,
			"revenue", sales.Revenue,
			"from", filter.From.Format("2006-01-02"),
			"to", filter.To.Format("2006-01-02"),
		)
	}

	summary := Summary{
		Revenue:           round2(sales.Revenue),
		COGS:              round2(sales.COGS),
		COGSCrossCheck:    round2(crossCheck),
		GrossProfit:       round2(grossProfit),
		OperatingExpenses: round2(operatingExpenses),
		NetProfit:         round2(netProfit),
		UnitsSold:         sales.UnitsSold,
		COGSDivergence:    divergence,
	}
	if sales.Revenue != 0 {
		summary.GrossMarginPct = round2(grossProfit / sales.Revenue * 100)
		summary.NetMarginPct = round2(netProfit / sales.Revenue * 100)
	}

	for i := range categories {
		categories[i].Revenue = round2(categories[i].Revenue)
		categories[i].COGS = round2(categories[i].COGS)
		categories[i].GrossProfit = round2(categories[i].GrossProfit)
	}
	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].Revenue > categories[j].Revenue
	})

	return Report{
		Period:      Period{From: filter.From, To: filter.To},
		FranchiseID: filter.FranchiseID,
		Summary:     summary,
		Categories:  categories,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// scopeFranchises flattens the resolved scope into the repository's
// filter form: nil for the whole estate.
func scopeFranchises(sc scope.Scope, requested *uuid.UUID) []uuid.UUID {
	if requested != nil {
		return []uuid.UUID{*requested}
	}
	if sc.All {
		return nil
	}
	return sc.Franchises
}

func scopeToken(sc scope.Scope, requested *uuid.UUID) string {
	if requested != nil {
		return requested.String()
	}
	if sc.All {
		return "all"
	}
	ids := make([]string, len(sc.Franchises))
	for i, f := range sc.Franchises {
		ids[i] = f.String()
	}
	sort.Strings(ids)
	h := fnv.New64a()
	for _, id := range ids {
		_, _ = h.Write([]byte(id))
	}
	return fmt.Sprintf("%x", h.Sum64())
}
