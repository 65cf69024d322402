package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/his/his/internal/platform/apperror"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Default sale units carried over from the paper forms the pharmacy uses.
const (
	defaultMedicamentSaleUnit = "Plaquette"
	defaultDeviceSaleUnit     = "unité"
)

func (s *Service) CreateMedicament(ctx context.Context, m *Medicament) error {
	if m.ID == "" {
		return apperror.New(apperror.MissingRequiredField, "medicament id is required")
	}
	if m.CommercialName == "" {
		return apperror.New(apperror.MissingRequiredField, "commercial_name is required")
	}
	if m.SaleUnit == "" {
		m.SaleUnit = defaultMedicamentSaleUnit
	}
	return s.repo.CreateMedicament(ctx, m)
}

func (s *Service) GetMedicament(ctx context.Context, id string) (*Medicament, error) {
	return s.repo.GetMedicament(ctx, id)
}

func (s *Service) UpdateMedicament(ctx context.Context, m *Medicament) error {
	if m.SaleUnit == "" {
		m.SaleUnit = defaultMedicamentSaleUnit
	}
	if _, err := s.repo.GetMedicament(ctx, m.ID); err != nil {
		return err
	}
	return s.repo.UpdateMedicament(ctx, m)
}

func (s *Service) DeleteMedicament(ctx context.Context, id string) error {
	return s.repo.DeleteMedicament(ctx, id)
}

func (s *Service) ListMedicaments(ctx context.Context, limit, offset int) ([]*Medicament, int, error) {
	return s.repo.ListMedicaments(ctx, limit, offset)
}

func (s *Service) SearchMedicaments(ctx context.Context, name string, limit, offset int) ([]*Medicament, int, error) {
	return s.repo.SearchMedicaments(ctx, name, limit, offset)
}

func (s *Service) CreateDevice(ctx context.Context, d *MedicalDevice) error {
	if d.ID == "" {
		return apperror.New(apperror.MissingRequiredField, "device id is required")
	}
	if d.Name == "" {
		return apperror.New(apperror.MissingRequiredField, "name is required")
	}
	if d.SaleUnit == "" {
		d.SaleUnit = defaultDeviceSaleUnit
	}
	return s.repo.CreateDevice(ctx, d)
}

func (s *Service) GetDevice(ctx context.Context, id string) (*MedicalDevice, error) {
	return s.repo.GetDevice(ctx, id)
}

func (s *Service) UpdateDevice(ctx context.Context, d *MedicalDevice) error {
	if d.SaleUnit == "" {
		d.SaleUnit = defaultDeviceSaleUnit
	}
	if _, err := s.repo.GetDevice(ctx, d.ID); err != nil {
		return err
	}
	return s.repo.UpdateDevice(ctx, d)
}

func (s *Service) DeleteDevice(ctx context.Context, id string) error {
	return s.repo.DeleteDevice(ctx, id)
}

func (s *Service) ListDevices(ctx context.Context, limit, offset int) ([]*MedicalDevice, int, error) {
	return s.repo.ListDevices(ctx, limit, offset)
}

func (s *Service) CreateCategory(ctx context.Context, c *Category) error {
	if c.Name == "" {
		return apperror.New(apperror.MissingRequiredField, "name is required")
	}
	return s.repo.CreateCategory(ctx, c)
}

func (s *Service) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	return s.repo.GetCategory(ctx, id)
}

func (s *Service) UpdateCategory(ctx context.Context, c *Category) error {
	if c.Name == "" {
		return apperror.New(apperror.MissingRequiredField, "name is required")
	}
	return s.repo.UpdateCategory(ctx, c)
}

func (s *Service) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteCategory(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context) ([]*Category, error) {
	return s.repo.ListCategories(ctx)
}

// ResolveProduct checks that a product id exists in the reference table
// matching its declared type and returns the common product shape. The
// stock ledger calls this before accepting any movement against the id.
func (s *Service) ResolveProduct(ctx context.Context, productType ProductType, id string) (*ProductInfo, error) {
	if id == "" {
		return nil, apperror.New(apperror.MissingRequiredField, "product id is required")
	}
	switch productType {
	case ProductMedicament:
		m, err := s.repo.GetMedicament(ctx, id)
		if err != nil {
			if apperror.IsKind(err, apperror.NotFound) {
				return nil, apperror.New(apperror.InvalidProductReference, "medicament %s does not exist", id)
			}
			return nil, err
		}
		return &ProductInfo{
			ID:       m.ID,
			Type:     ProductMedicament,
			Name:     m.CommercialName,
			Detail:   m.Dosage,
			SaleUnit: m.SaleUnit,
		}, nil
	case ProductDevice:
		d, err := s.repo.GetDevice(ctx, id)
		if err != nil {
			if apperror.IsKind(err, apperror.NotFound) {
				return nil, apperror.New(apperror.InvalidProductReference, "medical device %s does not exist", id)
			}
			return nil, err
		}
		return &ProductInfo{
			ID:       d.ID,
			Type:     ProductDevice,
			Name:     d.Name,
			Detail:   d.ManufacturerRef,
			SaleUnit: d.SaleUnit,
		}, nil
	default:
		return nil, apperror.New(apperror.InvalidProductReference, "unknown product type %q", productType)
	}
}
