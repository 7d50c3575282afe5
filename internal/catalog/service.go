package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

// Service coordinates catalog operations. Stock quantities are read-only
// here; every quantity mutation routes through the ledger.
type Service struct {
	repo     Repository
	resolver *scope.Resolver
	audit    shared.AuditRecorder
}

// NewService builds Service.
func NewService(repo Repository, resolver *scope.Resolver, audit shared.AuditRecorder) *Service {
	return &Service{repo: repo, resolver: resolver, audit: audit}
}

// List returns products within the caller's scope.
func (s *Service) List(ctx context.Context, id shared.Identity, requested *uuid.UUID, filter ListFilter) ([]Product, shared.Pagination, error) {
	sc, err := s.resolver.Resolve(id, requested)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	products, total, err := s.repo.List(ctx, sc, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return products, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Get fetches a product, enforcing the caller's scope against the owning
// franchise and any allocation the caller holds.
func (s *Service) Get(ctx context.Context, id shared.Identity, productID uuid.UUID) (Product, []Allocation, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return Product{}, nil, err
	}
	allocations, err := s.repo.Allocations(ctx, productID)
	if err != nil {
		return Product{}, nil, err
	}
	sc, err := s.resolver.Resolve(id, nil)
	if err != nil {
		return Product{}, nil, err
	}
	if !sc.Allows(p.FranchiseID) {
		allocated := false
		for _, a := range allocations {
			if sc.Allows(a.FranchiseID) {
				allocated = true
				break
			}
		}
		if !allocated {
			return Product{}, nil, &shared.AccessDeniedError{FranchiseID: p.FranchiseID, Reason: "product outside caller scope"}
		}
	}
	return p, allocations, nil
}

// GetBySKU looks a product up by its per-franchise SKU. The import path
// uses this to match file rows against the store.
func (s *Service) GetBySKU(ctx context.Context, id shared.Identity, franchiseID uuid.UUID, sku string) (Product, error) {
	if _, err := s.resolver.Resolve(id, &franchiseID); err != nil {
		return Product{}, err
	}
	return s.repo.GetBySKU(ctx, franchiseID, NormalizeSKU(sku))
}

// Create registers a new catalog entry with zero stock. Initial stock
// arrives through the ledger (stock-in or import).
func (s *Service) Create(ctx context.Context, id shared.Identity, req CreateProductRequest) (Product, error) {
	if _, err := s.resolver.RequireWrite(id, req.FranchiseID); err != nil {
		return Product{}, err
	}
	category, ok := ParseCategory(req.Category)
	if !ok {
		return Product{}, shared.NewValidationError("category", "unknown category")
	}
	sku := NormalizeSKU(req.SKU)
	if sku == "" {
		return Product{}, shared.NewValidationError("sku", "required")
	}
	if req.UnitPrice < req.UnitCost {
		return Product{}, shared.NewValidationError("unit_price", "below unit cost")
	}
	p := Product{
		ID:                  uuid.New(),
		FranchiseID:         req.FranchiseID,
		OriginalFranchiseID: req.FranchiseID,
		SKU:                 sku,
		Name:                strings.TrimSpace(req.Name),
		Category:            category,
		UnitCost:            req.UnitCost,
		UnitPrice:           req.UnitPrice,
		IsGlobal:            req.IsGlobal,
		Status:              StatusActive,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  id.UserID,
			Action:   "catalog:create",
			Entity:   "product",
			EntityID: p.ID.String(),
			Meta:     map[string]any{"sku": p.SKU, "franchise_id": p.FranchiseID.String()},
		})
	}
	return p, nil
}

// Update applies partial catalog changes. Discontinuation is the only
// removal path once sales reference the product.
func (s *Service) Update(ctx context.Context, id shared.Identity, productID uuid.UUID, req UpdateProductRequest) (Product, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if _, err := s.resolver.RequireWrite(id, p.FranchiseID); err != nil {
		return Product{}, err
	}
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		category, ok := ParseCategory(*req.Category)
		if !ok {
			return Product{}, shared.NewValidationError("category", "unknown category")
		}
		p.Category = category
	}
	if req.UnitCost != nil {
		p.UnitCost = *req.UnitCost
	}
	if req.UnitPrice != nil {
		p.UnitPrice = *req.UnitPrice
	}
	if req.IsGlobal != nil {
		p.IsGlobal = *req.IsGlobal
	}
	if req.Status != nil {
		switch *req.Status {
		case StatusActive, StatusDiscontinued:
			p.Status = *req.Status
		default:
			return Product{}, shared.NewValidationError("status", "unknown status")
		}
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return p, nil
}
