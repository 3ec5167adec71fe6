package machines

import (
	"context"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Create(ctx context.Context, m Machine) (Machine, error)
	Get(ctx context.Context, id int64) (Machine, error)
	List(ctx context.Context) ([]Machine, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// Service manages machine master data.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create registers a machine.
func (s *Service) Create(ctx context.Context, m Machine) (Machine, error) {
	if err := s.validate(m); err != nil {
		return Machine{}, err
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	return s.repo.Create(ctx, m)
}

// Get returns one machine.
func (s *Service) Get(ctx context.Context, id int64) (Machine, error) {
	return s.repo.Get(ctx, id)
}

// List returns all machines.
func (s *Service) List(ctx context.Context) ([]Machine, error) {
	return s.repo.List(ctx)
}

// UpdateStatus changes machine availability.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status) error {
	switch status {
	case StatusActive, StatusInactive, StatusMaintenance:
	default:
		return ErrUnavailable
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

// RequireActive verifies the machine may receive production work.
func (s *Service) RequireActive(ctx context.Context, id int64) error {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != StatusActive {
		return ErrUnavailable
	}
	return nil
}
