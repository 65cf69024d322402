package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreatePrescription(ctx context.Context, p *Prescription) error
	CreateLine(ctx context.Context, l *Line) error
	CreateExam(ctx context.Context, e *Exam) error

	GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetLines(ctx context.Context, prescriptionID uuid.UUID) ([]*Line, error)
	GetExams(ctx context.Context, prescriptionID uuid.UUID) ([]*Exam, error)
	GetLine(ctx context.Context, id uuid.UUID) (*Line, error)
	// GetLineForUpdate row-locks the line so concurrent dispensations
	// against the same line serialize.
	GetLineForUpdate(ctx context.Context, id uuid.UUID) (*Line, error)
	GetExam(ctx context.Context, id uuid.UUID) (*Exam, error)

	UpdateLineFulfillment(ctx context.Context, id uuid.UUID, dispensed int, status Status) error
	UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateExamStatus(ctx context.Context, id uuid.UUID, status ExamStatus) error

	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Prescription, error)
	ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	ListExamsByStatus(ctx context.Context, status ExamStatus) ([]*Exam, error)
}
