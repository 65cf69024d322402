package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/domain/catalog"
	"github.com/his/his/internal/platform/apperror"
)

// Status is the fulfillment state, derived from the line quantities and
// never set directly by callers.
type Status string

const (
	StatusPrescribed         Status = "PRESCRIBED"
	StatusPartiallyDispensed Status = "PARTIALLY_DISPENSED"
	StatusDispensed          Status = "DISPENSED"
)

// ExamStatus tracks one ordered exam through the lab.
type ExamStatus string

const (
	ExamRequested  ExamStatus = "REQUESTED"
	ExamInProgress ExamStatus = "IN_PROGRESS"
	ExamCompleted  ExamStatus = "COMPLETED"
	ExamCancelled  ExamStatus = "CANCELLED"
)

func ParseExamStatus(s string) (ExamStatus, error) {
	switch ExamStatus(s) {
	case ExamRequested, ExamInProgress, ExamCompleted, ExamCancelled:
		return ExamStatus(s), nil
	default:
		return "", apperror.New(apperror.InvalidTransition, "unknown exam status %q", s)
	}
}

var examTransitions = map[ExamStatus][]ExamStatus{
	ExamRequested:  {ExamInProgress, ExamCancelled},
	ExamInProgress: {ExamCompleted, ExamCancelled},
	ExamCompleted:  {},
	ExamCancelled:  {},
}

func (s ExamStatus) CanTransitionTo(target ExamStatus) bool {
	for _, next := range examTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ExamPriority mirrors the priority flag the lab sorts its worklist by.
type ExamPriority string

const (
	PriorityNormal ExamPriority = "Normal"
	PriorityUrgent ExamPriority = "Urgent"
)

func ParseExamPriority(s string) (ExamPriority, error) {
	switch ExamPriority(s) {
	case PriorityNormal, PriorityUrgent:
		return ExamPriority(s), nil
	default:
		return "", apperror.New(apperror.MissingRequiredField, "unknown exam priority %q", s)
	}
}

// Prescription maps to the prescription table. It belongs to exactly one
// consultation and one prescribing professional, and owns zero or more
// medicament lines and zero or more exam orders.
type Prescription struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	ProfessionalID uuid.UUID `db:"professional_id" json:"professional_id"`
	Status         Status    `db:"status" json:"status"`
	PrescribedAt   time.Time `db:"prescribed_at" json:"prescribed_at"`
	Notes          *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	Lines []*Line `db:"-" json:"lines,omitempty"`
	Exams []*Exam `db:"-" json:"exams,omitempty"`
}

// Line maps to the prescription_line table. QuantityDispensed accumulates
// across dispensations; the status is derived from it against
// QuantityPrescribed.
type Line struct {
	ID                 uuid.UUID           `db:"id" json:"id"`
	PrescriptionID     uuid.UUID           `db:"prescription_id" json:"prescription_id"`
	ProductID          string              `db:"product_id" json:"product_id"`
	ProductType        catalog.ProductType `db:"product_type" json:"product_type"`
	Posology           *string             `db:"posology" json:"posology,omitempty"`
	QuantityPrescribed int                 `db:"quantity_prescribed" json:"quantity_prescribed"`
	QuantityDispensed  int                 `db:"quantity_dispensed" json:"quantity_dispensed"`
	DurationDays       *int                `db:"duration_days" json:"duration_days,omitempty"`
	Notes              *string             `db:"notes" json:"notes,omitempty"`
	Status             Status              `db:"status" json:"status"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
}

// deriveStatus maps dispensed-vs-prescribed quantities onto the
// fulfillment status.
func deriveStatus(dispensed, prescribed int) Status {
	switch {
	case dispensed == 0:
		return StatusPrescribed
	case dispensed < prescribed:
		return StatusPartiallyDispensed
	default:
		return StatusDispensed
	}
}

// Exam maps to the prescription_exam table: one ordered lab exam.
type Exam struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	PrescriptionID uuid.UUID    `db:"prescription_id" json:"prescription_id"`
	ExamType       string       `db:"exam_type" json:"exam_type"`
	ExamName       string       `db:"exam_name" json:"exam_name"`
	Instructions   *string      `db:"instructions" json:"instructions,omitempty"`
	Priority       ExamPriority `db:"priority" json:"priority"`
	Status         ExamStatus   `db:"status" json:"status"`
	RequestedAt    time.Time    `db:"requested_at" json:"requested_at"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}
