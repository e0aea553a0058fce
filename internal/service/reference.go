package service

import (
	"context"
	"strings"

	"rentory/internal/domain"
	"rentory/internal/validation"
	"rentory/internal/xid"
)

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) ListLocations(ctx context.Context) ([]domain.Location, error) {
	return s.repo.ListLocations(ctx)
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.ReferenceCreateRequest) (domain.Supplier, error) {
	if err := s.prepareReference(ctx, &req, false); err != nil {
		return domain.Supplier{}, err
	}
	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID: xid.New(), Code: req.Code, Name: req.Name, Active: true, CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	return *created, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.ReferenceCreateRequest) (domain.Customer, error) {
	if err := s.prepareReference(ctx, &req, false); err != nil {
		return domain.Customer{}, err
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID: xid.New(), Code: req.Code, Name: req.Name, Active: true, CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) CreateLocation(ctx context.Context, req domain.ReferenceCreateRequest) (domain.Location, error) {
	if err := s.prepareReference(ctx, &req, false); err != nil {
		return domain.Location{}, err
	}
	created, err := s.repo.CreateLocation(ctx, domain.Location{
		ID: xid.New(), Code: req.Code, Name: req.Name, Active: true, CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Location{}, err
	}
	return *created, nil
}

// CreateItem uses the request code as the item SKU, which is required.
func (s *Service) CreateItem(ctx context.Context, req domain.ReferenceCreateRequest) (domain.Item, error) {
	if err := s.prepareReference(ctx, &req, true); err != nil {
		return domain.Item{}, err
	}
	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID: xid.New(), SKU: req.Code, Name: req.Name, Active: true, CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Item{}, err
	}
	return *created, nil
}

func (s *Service) prepareReference(ctx context.Context, req *domain.ReferenceCreateRequest, codeRequired bool) error {
	if err := requireRole(ctx, "admin", "manager"); err != nil {
		return err
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)

	details := s.validator.Struct(*req)
	if codeRequired && req.Code == "" {
		details = append(details, validation.Field("missing", "Field required", nil, "code"))
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}
