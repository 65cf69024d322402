package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository abstracts storage for the product reference data.
type Repository interface {
	CreateMedicament(ctx context.Context, m *Medicament) error
	GetMedicament(ctx context.Context, id string) (*Medicament, error)
	UpdateMedicament(ctx context.Context, m *Medicament) error
	DeleteMedicament(ctx context.Context, id string) error
	ListMedicaments(ctx context.Context, limit, offset int) ([]*Medicament, int, error)
	SearchMedicaments(ctx context.Context, name string, limit, offset int) ([]*Medicament, int, error)

	CreateDevice(ctx context.Context, d *MedicalDevice) error
	GetDevice(ctx context.Context, id string) (*MedicalDevice, error)
	UpdateDevice(ctx context.Context, d *MedicalDevice) error
	DeleteDevice(ctx context.Context, id string) error
	ListDevices(ctx context.Context, limit, offset int) ([]*MedicalDevice, int, error)

	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id uuid.UUID) (*Category, error)
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id uuid.UUID) error
	ListCategories(ctx context.Context) ([]*Category, error)
}
