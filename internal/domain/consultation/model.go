package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/platform/apperror"
)

// Status is the consultation lifecycle state. The values mirror the
// physical patient flow through the facility: registration, vitals,
// waiting room, in consultation, done.
type Status string

const (
	StatusAwaitingVitals       Status = "AWAITING_VITALS"
	StatusAwaitingConsultation Status = "AWAITING_CONSULTATION"
	StatusInProgress           Status = "IN_PROGRESS"
	StatusDone                 Status = "DONE"
	StatusCancelled            Status = "CANCELLED"
)

// ParseStatus rejects unrecognized status values at the boundary instead
// of letting free text reach the transition logic.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAwaitingVitals, StatusAwaitingConsultation, StatusInProgress, StatusDone, StatusCancelled:
		return Status(s), nil
	default:
		return "", apperror.New(apperror.InvalidTransition, "unknown consultation status %q", s)
	}
}

// Terminal reports whether no further transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// transitions is the closed transition table. Cancellation is reachable
// from every non-terminal state.
var transitions = map[Status][]Status{
	StatusAwaitingVitals:       {StatusAwaitingConsultation, StatusCancelled},
	StatusAwaitingConsultation: {StatusInProgress, StatusCancelled},
	StatusInProgress:           {StatusDone, StatusCancelled},
	StatusDone:                 {},
	StatusCancelled:            {},
}

// CanTransitionTo reports whether target is a legal next state.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Urgency is the triage degree. The labels are the ones printed on the
// triage board.
type Urgency string

const (
	UrgencyCritical   Urgency = "Critique"
	UrgencyVeryUrgent Urgency = "Très urgent"
	UrgencyUrgent     Urgency = "Urgent"
	UrgencyNormal     Urgency = "Normal"
)

func ParseUrgency(s string) (Urgency, error) {
	switch Urgency(s) {
	case UrgencyCritical, UrgencyVeryUrgent, UrgencyUrgent, UrgencyNormal:
		return Urgency(s), nil
	default:
		return "", apperror.New(apperror.MissingRequiredField, "unknown urgency degree %q", s)
	}
}

// Rank orders urgencies for queue listing: Critique > Très urgent >
// Urgent > Normal.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyVeryUrgent:
		return 3
	case UrgencyUrgent:
		return 2
	default:
		return 1
	}
}

// Type distinguishes how the encounter originated.
type Type string

const (
	TypeFirstVisit  Type = "FIRST_VISIT"
	TypeFollowUp    Type = "FOLLOW_UP"
	TypeAppointment Type = "APPOINTMENT"
)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeFirstVisit, TypeFollowUp, TypeAppointment:
		return Type(s), nil
	default:
		return "", apperror.New(apperror.MissingRequiredField, "unknown consultation type %q", s)
	}
}

// Consultation maps to the consultation table: one clinical encounter
// from intake to completion. Rows are never physically deleted in normal
// operation.
type Consultation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProfessionalID *uuid.UUID `db:"professional_id" json:"professional_id,omitempty"`
	CenterID       uuid.UUID  `db:"center_id" json:"center_id"`
	Status         Status     `db:"status" json:"status"`
	Type           Type       `db:"consultation_type" json:"consultation_type"`
	Urgency        Urgency    `db:"urgency" json:"urgency"`
	ScheduledAt    *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Motive         *string    `db:"motive" json:"motive,omitempty"`
	Anamnesis      *string    `db:"anamnesis" json:"anamnesis,omitempty"`
	ExamFindings   *string    `db:"exam_findings" json:"exam_findings,omitempty"`
	Diagnosis      *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	TreatmentPlan  *string    `db:"treatment_plan" json:"treatment_plan,omitempty"`
	PreviousID     *uuid.UUID `db:"previous_id" json:"previous_id,omitempty"`
	AppointmentID  *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
