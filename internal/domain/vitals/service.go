package vitals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/his/his/internal/domain/consultation"
	"github.com/his/his/internal/platform/apperror"
	"github.com/his/his/internal/platform/db"
)

// Workflow is the slice of the consultation service vitals capture needs:
// reading the current status and advancing it once measurements exist.
type Workflow interface {
	Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
	TransitionTo(ctx context.Context, id uuid.UUID, target consultation.Status) (*consultation.Consultation, error)
}

type Service struct {
	repo     Repository
	workflow Workflow
	pool     *pgxpool.Pool
}

func NewService(repo Repository, workflow Workflow, pool *pgxpool.Pool) *Service {
	return &Service{repo: repo, workflow: workflow, pool: pool}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, s.pool, fn)
}

// RecordInput carries one set of triage measurements.
type RecordInput struct {
	PatientID       uuid.UUID  `json:"patient_id"`
	ConsultationID  *uuid.UUID `json:"consultation_id,omitempty"`
	ProfessionalID  *uuid.UUID `json:"professional_id,omitempty"`
	TemperatureC    *float64   `json:"temperature_c,omitempty"`
	SystolicMmHg    *int       `json:"systolic_mmhg,omitempty"`
	DiastolicMmHg   *int       `json:"diastolic_mmhg,omitempty"`
	PulseBPM        *int       `json:"pulse_bpm,omitempty"`
	RespiratoryRate *int       `json:"respiratory_rate,omitempty"`
	WeightKg        *float64   `json:"weight_kg,omitempty"`
	HeightCm        *float64   `json:"height_cm,omitempty"`
	SpO2Percent     *float64   `json:"spo2_percent,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// Record stores the measurements. When the input is tied to a
// consultation still in AWAITING_VITALS, the record and the move to
// AWAITING_CONSULTATION commit together. A consultation already past
// vitals accepts additional measurements without a status change.
func (s *Service) Record(ctx context.Context, in RecordInput) (*Record, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "patient_id is required")
	}

	rec := &Record{
		PatientID:       in.PatientID,
		ConsultationID:  in.ConsultationID,
		ProfessionalID:  in.ProfessionalID,
		MeasuredAt:      time.Now().UTC(),
		TemperatureC:    in.TemperatureC,
		SystolicMmHg:    in.SystolicMmHg,
		DiastolicMmHg:   in.DiastolicMmHg,
		PulseBPM:        in.PulseBPM,
		RespiratoryRate: in.RespiratoryRate,
		WeightKg:        in.WeightKg,
		HeightCm:        in.HeightCm,
		SpO2Percent:     in.SpO2Percent,
		Notes:           in.Notes,
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if in.ConsultationID != nil {
			cons, err := s.workflow.Get(ctx, *in.ConsultationID)
			if err != nil {
				return err
			}
			if cons.Status.Terminal() {
				return apperror.New(apperror.InvalidTransition,
					"cannot record vital signs on consultation in status %s", cons.Status)
			}
			if cons.Status == consultation.StatusAwaitingVitals {
				if _, err := s.workflow.TransitionTo(ctx, cons.ID, consultation.StatusAwaitingConsultation); err != nil {
					return err
				}
			}
		}
		return s.repo.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

// Update corrects a previously entered record. Measurements only, the
// patient and consultation links never move to another encounter.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in RecordInput) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.TemperatureC = in.TemperatureC
	rec.SystolicMmHg = in.SystolicMmHg
	rec.DiastolicMmHg = in.DiastolicMmHg
	rec.PulseBPM = in.PulseBPM
	rec.RespiratoryRate = in.RespiratoryRate
	rec.WeightKg = in.WeightKg
	rec.HeightCm = in.HeightCm
	rec.SpO2Percent = in.SpO2Percent
	rec.Notes = in.Notes
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Record, error) {
	return s.repo.ListByConsultation(ctx, consultationID)
}

func (s *Service) ListByProfessional(ctx context.Context, professionalID uuid.UUID) ([]*Record, error) {
	return s.repo.ListByProfessional(ctx, professionalID)
}
