package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/platform/apperror"
)

// Service owns every consultation status write. All moves go through the
// transition table; the CAS repository guard catches the race where two
// staff members update the same consultation at once.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IntakeInput registers a patient arrival.
type IntakeInput struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	CenterID      uuid.UUID  `json:"center_id"`
	Type          Type       `json:"consultation_type"`
	PreviousID    *uuid.UUID `json:"previous_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Motive        *string    `json:"motive,omitempty"`
}

// InitIntake creates the consultation in AWAITING_VITALS.
func (s *Service) InitIntake(ctx context.Context, in IntakeInput) (*Consultation, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "patient_id is required")
	}
	if in.CenterID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "center_id is required")
	}
	if in.Type == "" {
		in.Type = TypeFirstVisit
	}
	if _, err := ParseType(string(in.Type)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Consultation{
		PatientID:     in.PatientID,
		CenterID:      in.CenterID,
		Status:        StatusAwaitingVitals,
		Type:          in.Type,
		Urgency:       UrgencyNormal,
		ScheduledAt:   &now,
		Motive:        in.Motive,
		PreviousID:    in.PreviousID,
		AppointmentID: in.AppointmentID,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// TriageInput carries the triage decision for a waiting patient.
type TriageInput struct {
	ProfessionalID uuid.UUID  `json:"professional_id"`
	Urgency        Urgency    `json:"urgency"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	Motive         *string    `json:"motive,omitempty"`
	// Status optionally keeps the consultation where it is instead of
	// advancing it; when empty the triage moves it to
	// AWAITING_CONSULTATION.
	Status Status `json:"status,omitempty"`
}

// Triage assigns the professional, urgency and slot, then advances the
// consultation to AWAITING_CONSULTATION unless the caller supplied an
// explicit status.
func (s *Service) Triage(ctx context.Context, id uuid.UUID, in TriageInput) (*Consultation, error) {
	if in.ProfessionalID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "professional_id is required")
	}
	if in.Urgency == "" {
		in.Urgency = UrgencyNormal
	}
	if _, err := ParseUrgency(string(in.Urgency)); err != nil {
		return nil, err
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	target := StatusAwaitingConsultation
	if in.Status != "" {
		target, err = ParseStatus(string(in.Status))
		if err != nil {
			return nil, err
		}
	}
	if target != c.Status && !c.Status.CanTransitionTo(target) {
		return nil, apperror.New(apperror.InvalidTransition,
			"cannot triage consultation from %s to %s", c.Status, target)
	}

	expected := c.Status
	c.ProfessionalID = &in.ProfessionalID
	c.Urgency = in.Urgency
	c.Status = target
	if in.ScheduledAt != nil {
		c.ScheduledAt = in.ScheduledAt
	}
	if in.Motive != nil {
		c.Motive = in.Motive
	}
	if err := s.repo.UpdateCAS(ctx, c, expected); err != nil {
		return nil, err
	}
	return c, nil
}

// Begin moves the consultation to IN_PROGRESS. Only valid from
// AWAITING_CONSULTATION.
func (s *Service) Begin(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.TransitionTo(ctx, id, StatusInProgress)
}

// ClinicalFields are the free-text findings recorded at completion.
type ClinicalFields struct {
	Anamnesis     *string `json:"anamnesis,omitempty"`
	ExamFindings  *string `json:"exam_findings,omitempty"`
	Diagnosis     *string `json:"diagnosis,omitempty"`
	TreatmentPlan *string `json:"treatment_plan,omitempty"`
}

// Complete records the clinical fields and moves the consultation to
// DONE. Only valid from IN_PROGRESS.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, fields ClinicalFields) (*Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusDone {
		return c, nil
	}
	if !c.Status.CanTransitionTo(StatusDone) {
		return nil, apperror.New(apperror.InvalidTransition,
			"cannot complete consultation in status %s", c.Status)
	}

	expected := c.Status
	c.Status = StatusDone
	if fields.Anamnesis != nil {
		c.Anamnesis = fields.Anamnesis
	}
	if fields.ExamFindings != nil {
		c.ExamFindings = fields.ExamFindings
	}
	if fields.Diagnosis != nil {
		c.Diagnosis = fields.Diagnosis
	}
	if fields.TreatmentPlan != nil {
		c.TreatmentPlan = fields.TreatmentPlan
	}
	if err := s.repo.UpdateCAS(ctx, c, expected); err != nil {
		return nil, err
	}
	return c, nil
}

// Cancel administratively terminates a consultation from any non-terminal
// state.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.TransitionTo(ctx, id, StatusCancelled)
}

// TransitionTo is the generic status move. Asking for the status the
// consultation already has is a no-op success, so client retries after a
// network failure are safe. Illegal moves fail with InvalidTransition
// and are never coerced.
func (s *Service) TransitionTo(ctx context.Context, id uuid.UUID, target Status) (*Consultation, error) {
	if _, err := ParseStatus(string(target)); err != nil {
		return nil, err
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == target {
		return c, nil
	}
	if !c.Status.CanTransitionTo(target) {
		return nil, apperror.New(apperror.InvalidTransition,
			"cannot move consultation from %s to %s", c.Status, target)
	}
	if err := s.repo.UpdateStatusCAS(ctx, c.ID, c.Status, target); err != nil {
		return nil, err
	}
	c.Status = target
	return c, nil
}

// Status answers the gating query dependents use: prescriptions and exam
// orders may only be created while the consultation is IN_PROGRESS.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (Status, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, centerID *uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	return s.repo.List(ctx, centerID, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByProfessional(ctx context.Context, professionalID uuid.UUID, statuses []Status, limit, offset int) ([]*Consultation, int, error) {
	return s.repo.ListByProfessional(ctx, professionalID, statuses, limit, offset)
}

// Queue lists the consultations waiting for a clinician, most urgent
// first.
func (s *Service) Queue(ctx context.Context, centerID *uuid.UUID) ([]*Consultation, error) {
	return s.repo.Queue(ctx, centerID, StatusAwaitingConsultation)
}

// VitalsQueue lists the consultations still waiting for vitals capture.
func (s *Service) VitalsQueue(ctx context.Context, centerID *uuid.UUID) ([]*Consultation, error) {
	return s.repo.Queue(ctx, centerID, StatusAwaitingVitals)
}
