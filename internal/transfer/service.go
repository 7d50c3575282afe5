package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

// TxRepository exposes transactional operations used by the service. It
// embeds the ledger port so a completing transfer and its quantity
// relocation commit as one unit.
type TxRepository interface {
	ledger.Tx
	InsertTransfer(ctx context.Context, t Transfer) error
	GetTransferForUpdate(ctx context.Context, id uuid.UUID) (Transfer, error)
	UpdateTransfer(ctx context.Context, t Transfer) error
	InsertStatusChange(ctx context.Context, change StatusChange) error
	GetProduct(ctx context.Context, productID uuid.UUID) (catalog.Product, error)
	FindProductBySKU(ctx context.Context, franchiseID uuid.UUID, sku string) (catalog.Product, bool, error)
	InsertProduct(ctx context.Context, p catalog.Product) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Transfer, error)
	List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]Transfer, int, error)
	StatusHistory(ctx context.Context, transferID uuid.UUID) ([]StatusChange, error)
}

// FranchisePort verifies franchise existence and trading status.
type FranchisePort interface {
	Active(ctx context.Context, franchiseID uuid.UUID) (bool, error)
}

// Service orchestrates stock movement between franchises through the
// approval state machine. The ledger performs every quantity mutation.
type Service struct {
	repo       RepositoryPort
	franchises FranchisePort
	resolver   *scope.Resolver
	audit      shared.AuditRecorder
	reports    shared.ReportInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, franchises FranchisePort, resolver *scope.Resolver, audit shared.AuditRecorder, reports shared.ReportInvalidator) *Service {
	return &Service{repo: repo, franchises: franchises, resolver: resolver, audit: audit, reports: reports}
}

// requireMover gates transfer mutations. Staff record sales at their own
// franchise; moving stock between franchises needs manager or admin.
func (s *Service) requireMover(id shared.Identity) error {
	if id.Role == shared.RoleStaff {
		return &shared.AccessDeniedError{Reason: "stock movement requires manager or admin role"}
	}
	return nil
}

// Initiate creates a pending transfer. No stock is reserved or moved until
// completion, so rejection and cancellation have no ledger effect.
func (s *Service) Initiate(ctx context.Context, id shared.Identity, req InitiateRequest) (Transfer, error) {
	if err := s.requireMover(id); err != nil {
		return Transfer{}, err
	}
	if req.Quantity <= 0 {
		return Transfer{}, shared.NewValidationError("quantity", "must be positive")
	}
	if req.FromFranchise == req.ToFranchise {
		return Transfer{}, shared.NewValidationError("to_franchise", "source and destination must differ")
	}
	if _, err := s.resolver.RequireWrite(id, req.FromFranchise); err != nil {
		return Transfer{}, err
	}
	for _, fid := range []uuid.UUID{req.FromFranchise, req.ToFranchise} {
		active, err := s.franchises.Active(ctx, fid)
		if err != nil {
			return Transfer{}, err
		}
		if !active {
			return Transfer{}, shared.NewValidationError("franchise", "franchise inactive or unknown")
		}
	}

	t := Transfer{
		ID:            uuid.New(),
		ProductID:     req.ProductID,
		FromFranchise: req.FromFranchise,
		ToFranchise:   req.ToFranchise,
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitPrice,
		TotalValue:    req.UnitPrice * float64(req.Quantity),
		Status:        StatusPending,
		InitiatedBy:   id.UserID,
		Note:          req.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return err
		}
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		return tx.InsertStatusChange(ctx, StatusChange{
			TransferID: t.ID, ToStatus: StatusPending, ActorID: id.UserID, At: time.Now().UTC(),
		})
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("initiate transfer: %w", err)
	}
	s.record(ctx, id.UserID, "transfer:initiate", t)
	return t, nil
}

// Approve moves pending to approved and records the approver. Approval
// belongs to the receiving franchise.
func (s *Service) Approve(ctx context.Context, id shared.Identity, transferID uuid.UUID) (Transfer, error) {
	return s.transition(ctx, id, transferID, StatusApproved, "", func(t *Transfer) error {
		if _, err := s.resolver.RequireWrite(id, t.ToFranchise); err != nil {
			return err
		}
		approver := id.UserID
		t.ApprovedBy = &approver
		return nil
	}, nil)
}

// Dispatch moves approved to in_transit.
func (s *Service) Dispatch(ctx context.Context, id shared.Identity, transferID uuid.UUID) (Transfer, error) {
	return s.transition(ctx, id, transferID, StatusInTransit, "", func(t *Transfer) error {
		_, err := s.resolver.RequireWrite(id, t.FromFranchise)
		return err
	}, nil)
}

// Complete performs the relocation and finishes the transfer. On
// insufficient stock the transaction aborts and the transfer stays in its
// prior state with the error surfaced to the caller.
func (s *Service) Complete(ctx context.Context, id shared.Identity, transferID uuid.UUID) (Transfer, error) {
	t, err := s.transition(ctx, id, transferID, StatusCompleted, "", func(t *Transfer) error {
		if _, err := s.resolver.RequireWrite(id, t.FromFranchise); err != nil {
			return err
		}
		now := time.Now().UTC()
		t.DeliveredAt = &now
		return nil
	}, func(ctx context.Context, tx TxRepository, t Transfer) error {
		_, _, err := ledger.Relocate(ctx, tx, ledger.RelocateInput{
			ProductID:     t.ProductID,
			FromFranchise: t.FromFranchise,
			ToFranchise:   t.ToFranchise,
			Quantity:      t.Quantity,
			Note:          t.Note,
			ActorID:       id.UserID,
			RefModule:     "transfer",
			RefID:         t.ID,
		})
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	s.bumpReports(ctx)
	return t, nil
}

// Reject terminally declines a pending transfer.
func (s *Service) Reject(ctx context.Context, id shared.Identity, transferID uuid.UUID, reason string) (Transfer, error) {
	return s.transition(ctx, id, transferID, StatusRejected, reason, func(t *Transfer) error {
		_, err := s.resolver.RequireWrite(id, t.ToFranchise)
		return err
	}, nil)
}

// Cancel terminally abandons a transfer from any non-terminal state.
// Either party may cancel: write scope on the sending or the receiving
// franchise suffices.
func (s *Service) Cancel(ctx context.Context, id shared.Identity, transferID uuid.UUID, reason string) (Transfer, error) {
	return s.transition(ctx, id, transferID, StatusCancelled, reason, func(t *Transfer) error {
		if _, err := s.resolver.RequireWrite(id, t.FromFranchise); err == nil {
			return nil
		}
		_, err := s.resolver.RequireWrite(id, t.ToFranchise)
		return err
	}, nil)
}

func (s *Service) transition(
	ctx context.Context,
	id shared.Identity,
	transferID uuid.UUID,
	next Status,
	reason string,
	prepare func(*Transfer) error,
	effect func(context.Context, TxRepository, Transfer) error,
) (Transfer, error) {
	if err := s.requireMover(id); err != nil {
		return Transfer{}, err
	}
	var result Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(next) {
			return &shared.ConflictError{
				Entity:  "transfer",
				Message: fmt.Sprintf("cannot move from %s to %s", t.Status, next),
			}
		}
		if prepare != nil {
			if err := prepare(&t); err != nil {
				return err
			}
		}
		if effect != nil {
			if err := effect(ctx, tx, t); err != nil {
				return err
			}
		}
		prior := t.Status
		t.Status = next
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		if err := tx.InsertStatusChange(ctx, StatusChange{
			TransferID: t.ID, FromStatus: prior, ToStatus: next,
			ActorID: id.UserID, Reason: reason, At: time.Now().UTC(),
		}); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, id.UserID, "transfer:"+string(next), result)
	return result, nil
}

// StockIn records goods already received at the destination: the transfer
// is created and completed in the same call. When the destination has no
// record for the SKU a new product row is created for it, copying catalog
// attributes with the movement's stated cost.
func (s *Service) StockIn(ctx context.Context, id shared.Identity, req DirectRequest) (Transfer, error) {
	if err := s.requireMover(id); err != nil {
		return Transfer{}, err
	}
	if req.Quantity <= 0 {
		return Transfer{}, shared.NewValidationError("quantity", "must be positive")
	}
	if _, err := s.resolver.RequireWrite(id, req.ToFranchise); err != nil {
		return Transfer{}, err
	}

	t := Transfer{
		ID:            uuid.New(),
		ProductID:     req.ProductID,
		FromFranchise: req.FromFranchise,
		ToFranchise:   req.ToFranchise,
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitCost,
		TotalValue:    req.UnitCost * float64(req.Quantity),
		Status:        StatusCompleted,
		InitiatedBy:   id.UserID,
		Note:          req.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.GetProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		target := source
		if source.FranchiseID != req.ToFranchise {
			existing, ok, err := tx.FindProductBySKU(ctx, req.ToFranchise, source.SKU)
			if err != nil {
				return err
			}
			if ok {
				target = existing
			} else {
				target = catalog.Product{
					ID:                  uuid.New(),
					FranchiseID:         req.ToFranchise,
					OriginalFranchiseID: source.OriginalFranchiseID,
					SKU:                 source.SKU,
					Name:                source.Name,
					Category:            source.Category,
					UnitCost:            req.UnitCost,
					UnitPrice:           source.UnitPrice,
					IsGlobal:            source.IsGlobal,
					Status:              catalog.StatusActive,
				}
				if err := tx.InsertProduct(ctx, target); err != nil {
					return err
				}
			}
		}
		t.ProductID = target.ID
		if _, err := ledger.Apply(ctx, tx, ledger.MovementInput{
			ProductID:   target.ID,
			FranchiseID: req.ToFranchise,
			Quantity:    req.Quantity,
			Kind:        ledger.KindPurchase,
			Note:        req.Note,
			ActorID:     id.UserID,
			RefModule:   "stock_in",
			RefID:       t.ID,
		}); err != nil {
			return err
		}
		now := time.Now().UTC()
		t.DeliveredAt = &now
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		return tx.InsertStatusChange(ctx, StatusChange{
			TransferID: t.ID, ToStatus: StatusCompleted, ActorID: id.UserID, At: now,
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, id.UserID, "transfer:stock_in", t)
	s.bumpReports(ctx)
	return t, nil
}

// StockOut records goods already dispatched from the source. The source
// quantity is pre-checked so the caller sees available vs requested on
// failure; the relocation then runs in the same transaction.
func (s *Service) StockOut(ctx context.Context, id shared.Identity, req DirectRequest) (Transfer, error) {
	if err := s.requireMover(id); err != nil {
		return Transfer{}, err
	}
	if req.Quantity <= 0 {
		return Transfer{}, shared.NewValidationError("quantity", "must be positive")
	}
	if _, err := s.resolver.RequireWrite(id, req.FromFranchise); err != nil {
		return Transfer{}, err
	}

	t := Transfer{
		ID:            uuid.New(),
		ProductID:     req.ProductID,
		FromFranchise: req.FromFranchise,
		ToFranchise:   req.ToFranchise,
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitCost,
		TotalValue:    req.UnitCost * float64(req.Quantity),
		Status:        StatusCompleted,
		InitiatedBy:   id.UserID,
		Note:          req.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		owned, err := tx.GetProductStockForUpdate(ctx, req.ProductID)
		if err != nil {
			return err
		}
		available := owned.Quantity
		if owned.FranchiseID != req.FromFranchise {
			qty, ok, err := tx.GetAllocationForUpdate(ctx, req.ProductID, req.FromFranchise)
			if err != nil {
				return err
			}
			available = ledger.ResolveFranchiseStock(owned, req.FromFranchise, qty, ok)
		}
		if available < req.Quantity {
			return &shared.InsufficientStockError{
				ProductID:   req.ProductID,
				FranchiseID: req.FromFranchise,
				Available:   available,
				Requested:   req.Quantity,
			}
		}
		if _, _, err := ledger.Relocate(ctx, tx, ledger.RelocateInput{
			ProductID:     req.ProductID,
			FromFranchise: req.FromFranchise,
			ToFranchise:   req.ToFranchise,
			Quantity:      req.Quantity,
			Note:          req.Note,
			ActorID:       id.UserID,
			RefModule:     "stock_out",
			RefID:         t.ID,
		}); err != nil {
			return err
		}
		now := time.Now().UTC()
		t.DeliveredAt = &now
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		return tx.InsertStatusChange(ctx, StatusChange{
			TransferID: t.ID, ToStatus: StatusCompleted, ActorID: id.UserID, At: now,
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, id.UserID, "transfer:stock_out", t)
	s.bumpReports(ctx)
	return t, nil
}

// Get returns a transfer within the caller's scope.
func (s *Service) Get(ctx context.Context, id shared.Identity, transferID uuid.UUID) (Transfer, []StatusChange, error) {
	t, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return Transfer{}, nil, err
	}
	sc, err := s.resolver.Resolve(id, nil)
	if err != nil {
		return Transfer{}, nil, err
	}
	if !sc.Allows(t.FromFranchise) && !sc.Allows(t.ToFranchise) {
		return Transfer{}, nil, &shared.AccessDeniedError{Reason: "transfer outside caller scope"}
	}
	history, err := s.repo.StatusHistory(ctx, transferID)
	if err != nil {
		return Transfer{}, nil, err
	}
	return t, history, nil
}

// List returns transfers touching the caller's scope.
func (s *Service) List(ctx context.Context, id shared.Identity, requested *uuid.UUID, filter ListFilter) ([]Transfer, shared.Pagination, error) {
	sc, err := s.resolver.Resolve(id, requested)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	transfers, total, err := s.repo.List(ctx, sc, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return transfers, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) bumpReports(ctx context.Context) {
	if s.reports == nil {
		return
	}
	_ = s.reports.InvalidateCache(ctx)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, t Transfer) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer",
		EntityID: t.ID.String(),
		Meta: map[string]any{
			"product_id": t.ProductID.String(),
			"from":       t.FromFranchise.String(),
			"to":         t.ToFranchise.String(),
			"quantity":   t.Quantity,
			"status":     string(t.Status),
		},
	})
}
