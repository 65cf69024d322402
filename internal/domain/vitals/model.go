package vitals

import (
	"time"

	"github.com/google/uuid"
)

// Record maps to the vital_signs table: one set of measurements taken at
// the triage desk. Every field is optional because nurses record whatever
// the available equipment can measure.
type Record struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	ConsultationID  *uuid.UUID `db:"consultation_id" json:"consultation_id,omitempty"`
	ProfessionalID  *uuid.UUID `db:"professional_id" json:"professional_id,omitempty"`
	MeasuredAt      time.Time  `db:"measured_at" json:"measured_at"`
	TemperatureC    *float64   `db:"temperature_c" json:"temperature_c,omitempty"`
	SystolicMmHg    *int       `db:"systolic_mmhg" json:"systolic_mmhg,omitempty"`
	DiastolicMmHg   *int       `db:"diastolic_mmhg" json:"diastolic_mmhg,omitempty"`
	PulseBPM        *int       `db:"pulse_bpm" json:"pulse_bpm,omitempty"`
	RespiratoryRate *int       `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	WeightKg        *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	HeightCm        *float64   `db:"height_cm" json:"height_cm,omitempty"`
	SpO2Percent     *float64   `db:"spo2_percent" json:"spo2_percent,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
