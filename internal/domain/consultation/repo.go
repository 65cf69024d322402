package consultation

import (
	"context"

	"github.com/google/uuid"
)

// Repository abstracts consultation storage. The CAS methods write only
// when the stored status still equals the expected one and fail with
// ConcurrentModification otherwise, so concurrent staff updates never
// silently overwrite each other.
type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// UpdateStatusCAS moves id from expected to next.
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, expected, next Status) error
	// UpdateCAS writes the consultation's mutable fields, guarded on the
	// stored status still being expected.
	UpdateCAS(ctx context.Context, c *Consultation, expected Status) error
	List(ctx context.Context, centerID *uuid.UUID, limit, offset int) ([]*Consultation, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error)
	ListByProfessional(ctx context.Context, professionalID uuid.UUID, statuses []Status, limit, offset int) ([]*Consultation, int, error)
	// Queue lists consultations awaiting the clinician, most urgent
	// first, earliest scheduled first inside an urgency band.
	Queue(ctx context.Context, centerID *uuid.UUID, status Status) ([]*Consultation, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
}
