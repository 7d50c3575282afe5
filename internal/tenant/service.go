package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/shared"
)

// Service coordinates franchise master data operations. Creation and
// status changes are administrative: they require the global role.
type Service struct {
	repo  Repository
	audit shared.AuditRecorder
}

// NewService builds Service.
func NewService(repo Repository, audit shared.AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// Active reports whether the franchise exists and currently trades.
// Transfers consult it before moving stock; no identity check applies
// because the decision belongs to the franchise record, not the caller.
func (s *Service) Active(ctx context.Context, franchiseID uuid.UUID) (bool, error) {
	f, err := s.repo.Get(ctx, franchiseID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return f.Status == StatusActive, nil
}

// List returns all franchises visible to the caller.
func (s *Service) List(ctx context.Context, id shared.Identity) ([]Franchise, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if id.Role == shared.RoleAdmin {
		return all, nil
	}
	visible := make([]Franchise, 0, len(all))
	for _, f := range all {
		for _, fid := range id.Franchises {
			if fid == f.ID {
				visible = append(visible, f)
				break
			}
		}
	}
	return visible, nil
}

// Get fetches a franchise within the caller's scope.
func (s *Service) Get(ctx context.Context, id shared.Identity, franchiseID uuid.UUID) (Franchise, error) {
	if id.Role != shared.RoleAdmin {
		found := false
		for _, fid := range id.Franchises {
			if fid == franchiseID {
				found = true
				break
			}
		}
		if !found {
			return Franchise{}, &shared.AccessDeniedError{FranchiseID: franchiseID, Reason: "franchise outside caller scope"}
		}
	}
	return s.repo.Get(ctx, franchiseID)
}

// Create registers a new franchise.
func (s *Service) Create(ctx context.Context, id shared.Identity, req CreateFranchiseRequest) (Franchise, error) {
	if id.Role != shared.RoleAdmin {
		return Franchise{}, &shared.AccessDeniedError{Reason: "franchise creation requires admin role"}
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return Franchise{}, shared.NewValidationError("code", "required")
	}
	f := Franchise{
		ID:      uuid.New(),
		Code:    code,
		Name:    strings.TrimSpace(req.Name),
		Address: strings.TrimSpace(req.Address),
		Phone:   strings.TrimSpace(req.Phone),
		Status:  StatusActive,
	}
	created, err := s.repo.Create(ctx, f)
	if err != nil {
		return Franchise{}, fmt.Errorf("create franchise: %w", err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  id.UserID,
			Action:   "franchise:create",
			Entity:   "franchise",
			EntityID: created.ID.String(),
			Meta:     map[string]any{"code": created.Code},
		})
	}
	return created, nil
}

// Update applies partial changes; status moves through the closed enum only.
func (s *Service) Update(ctx context.Context, id shared.Identity, franchiseID uuid.UUID, req UpdateFranchiseRequest) (Franchise, error) {
	if id.Role != shared.RoleAdmin {
		return Franchise{}, &shared.AccessDeniedError{Reason: "franchise update requires admin role"}
	}
	f, err := s.repo.Get(ctx, franchiseID)
	if err != nil {
		return Franchise{}, err
	}
	if req.Name != nil {
		f.Name = strings.TrimSpace(*req.Name)
	}
	if req.Address != nil {
		f.Address = strings.TrimSpace(*req.Address)
	}
	if req.Phone != nil {
		f.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return Franchise{}, shared.NewValidationError("status", "unknown status")
		}
		f.Status = *req.Status
	}
	if err := s.repo.Update(ctx, f); err != nil {
		return Franchise{}, fmt.Errorf("update franchise: %w", err)
	}
	return f, nil
}
