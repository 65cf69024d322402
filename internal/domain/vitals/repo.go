package vitals

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error)
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Record, error)
	ListByProfessional(ctx context.Context, professionalID uuid.UUID) ([]*Record, error)
}
