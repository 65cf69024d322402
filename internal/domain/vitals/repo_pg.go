package vitals

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/his/his/internal/platform/apperror"
	"github.com/his/his/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, patient_id, consultation_id, professional_id, measured_at,
	temperature_c, systolic_mmhg, diastolic_mmhg, pulse_bpm, respiratory_rate,
	weight_kg, height_cm, spo2_percent, notes, created_at`

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vital_signs (
			patient_id, consultation_id, professional_id, measured_at,
			temperature_c, systolic_mmhg, diastolic_mmhg, pulse_bpm, respiratory_rate,
			weight_kg, height_cm, spo2_percent, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id, created_at`,
		rec.PatientID, rec.ConsultationID, rec.ProfessionalID, rec.MeasuredAt,
		rec.TemperatureC, rec.SystolicMmHg, rec.DiastolicMmHg, rec.PulseBPM, rec.RespiratoryRate,
		rec.WeightKg, rec.HeightCm, rec.SpO2Percent, rec.Notes,
	).Scan(&rec.ID, &rec.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM vital_signs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "vital signs record %s not found", id)
	}
	return rec, err
}

func (r *repoPG) Update(ctx context.Context, rec *Record) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE vital_signs SET
			measured_at=$2, temperature_c=$3, systolic_mmhg=$4, diastolic_mmhg=$5,
			pulse_bpm=$6, respiratory_rate=$7, weight_kg=$8, height_cm=$9,
			spo2_percent=$10, notes=$11
		WHERE id = $1`,
		rec.ID, rec.MeasuredAt, rec.TemperatureC, rec.SystolicMmHg, rec.DiastolicMmHg,
		rec.PulseBPM, rec.RespiratoryRate, rec.WeightKg, rec.HeightCm,
		rec.SpO2Percent, rec.Notes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "vital signs record %s not found", rec.ID)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM vital_signs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "vital signs record %s not found", id)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error) {
	return r.list(ctx, `SELECT `+recordCols+` FROM vital_signs WHERE patient_id = $1 ORDER BY measured_at DESC`, patientID)
}

func (r *repoPG) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Record, error) {
	return r.list(ctx, `SELECT `+recordCols+` FROM vital_signs WHERE consultation_id = $1 ORDER BY measured_at DESC`, consultationID)
}

func (r *repoPG) ListByProfessional(ctx context.Context, professionalID uuid.UUID) ([]*Record, error) {
	return r.list(ctx, `SELECT `+recordCols+` FROM vital_signs WHERE professional_id = $1 ORDER BY measured_at DESC`, professionalID)
}

func (r *repoPG) list(ctx context.Context, sql string, arg interface{}) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.PatientID, &rec.ConsultationID, &rec.ProfessionalID, &rec.MeasuredAt,
		&rec.TemperatureC, &rec.SystolicMmHg, &rec.DiastolicMmHg, &rec.PulseBPM, &rec.RespiratoryRate,
		&rec.WeightKg, &rec.HeightCm, &rec.SpO2Percent, &rec.Notes, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
