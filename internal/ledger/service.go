package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	Movements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ProductStock(ctx context.Context, productID uuid.UUID) (OwnedStock, error)
	Allocation(ctx context.Context, productID, franchiseID uuid.UUID) (int64, bool, error)
}

// IdempotencyPort stores processed movement keys. Satisfied by
// shared.IdempotencyStore.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service is the only component permitted to change stock quantities or
// allocation quantities, and the sole writer of movement history.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditRecorder
	idempotency IdempotencyPort
	reports     shared.ReportInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, idem IdempotencyPort, reports shared.ReportInvalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, reports: reports}
}

// ApplyMovement runs one movement in its own transaction.
func (s *Service) ApplyMovement(ctx context.Context, in MovementInput) (Movement, error) {
	// The key covers the product so that rows of one batch, which share
	// a reference id, retry independently.
	key := ""
	if in.RefID != uuid.Nil {
		key = fmt.Sprintf("%s:%s:%s:%s:%s", in.Kind, in.RefModule, in.RefID, in.FranchiseID, in.ProductID)
	}
	insertedKey := false
	if s.idempotency != nil && key != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}

	var m Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		m, err = Apply(ctx, tx, in)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Movement{}, err
	}
	s.record(ctx, in.ActorID, "ledger:"+string(in.Kind), m)
	s.bumpReports(ctx)
	return m, nil
}

// Relocate runs the two-sided relocation in a single transaction.
func (s *Service) Relocate(ctx context.Context, in RelocateInput) (Movement, Movement, error) {
	var out, credit Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, credit, err = Relocate(ctx, tx, in)
		return err
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	s.record(ctx, in.ActorID, "ledger:relocate", out)
	s.bumpReports(ctx)
	return out, credit, nil
}

func (s *Service) bumpReports(ctx context.Context) {
	if s.reports == nil {
		return
	}
	_ = s.reports.InvalidateCache(ctx)
}

// FranchiseStock returns the quantity a franchise may sell.
func (s *Service) FranchiseStock(ctx context.Context, productID, franchiseID uuid.UUID) (int64, error) {
	owned, err := s.repo.ProductStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	if owned.FranchiseID == franchiseID {
		return owned.Quantity, nil
	}
	qty, ok, err := s.repo.Allocation(ctx, productID, franchiseID)
	if err != nil {
		return 0, err
	}
	return ResolveFranchiseStock(owned, franchiseID, qty, ok), nil
}

// History lists movement entries for a product or franchise.
func (s *Service) History(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.Movements(ctx, filter)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, m Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%s:%s", m.ProductID, m.FranchiseID),
		Meta: map[string]any{
			"kind":     string(m.Kind),
			"quantity": m.Quantity,
			"balance":  m.Balance,
			"note":     m.Note,
		},
	})
}
