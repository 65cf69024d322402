package consultation

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

const consCols = `id, patient_id, professional_id, center_id, status, consultation_type,
	urgency, scheduled_at, motive, anamnesis, exam_findings, diagnosis, treatment_plan,
	previous_id, appointment_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consultation (
			id, patient_id, professional_id, center_id, status, consultation_type,
			urgency, scheduled_at, motive, previous_id, appointment_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.PatientID, c.ProfessionalID, c.CenterID, c.Status, c.Type,
		c.Urgency, c.ScheduledAt, c.Motive, c.PreviousID, c.AppointmentID,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consCols+` FROM consultation WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "consultation %s not found", id)
	}
	return c, err
}

// UpdateStatusCAS is the compare-and-set transition write. Zero rows
// affected means either the row is gone or another terminal beat us to
// it; the two cases get distinct error kinds.
func (r *repoPG) UpdateStatusCAS(ctx context.Context, id uuid.UUID, expected, next Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, expected, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id, expected)
	}
	return nil
}

func (r *repoPG) UpdateCAS(ctx context.Context, c *Consultation, expected Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation SET
			professional_id=$3, center_id=$4, status=$5, urgency=$6, scheduled_at=$7,
			motive=$8, anamnesis=$9, exam_findings=$10, diagnosis=$11, treatment_plan=$12,
			updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		c.ID, expected, c.ProfessionalID, c.CenterID, c.Status, c.Urgency, c.ScheduledAt,
		c.Motive, c.Anamnesis, c.ExamFindings, c.Diagnosis, c.TreatmentPlan,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, c.ID, expected)
	}
	return nil
}

func (r *repoPG) staleOrMissing(ctx context.Context, id uuid.UUID, expected Status) error {
	var current Status
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT status FROM consultation WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.New(apperror.NotFound, "consultation %s not found", id)
	}
	if err != nil {
		return err
	}
	return apperror.New(apperror.ConcurrentModification,
		"consultation %s changed from %s to %s under us", id, expected, current)
}

func (r *repoPG) List(ctx context.Context, centerID *uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation WHERE ($1::uuid IS NULL OR center_id = $1)`,
		centerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consCols+` FROM consultation
		WHERE ($1::uuid IS NULL OR center_id = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, centerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	cons, err := collectConsultations(rows)
	return cons, total, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consCols+` FROM consultation WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	cons, err := collectConsultations(rows)
	return cons, total, err
}

func (r *repoPG) ListByProfessional(ctx context.Context, professionalID uuid.UUID, statuses []Status, limit, offset int) ([]*Consultation, int, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM consultation
		WHERE professional_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))`,
		professionalID, strs).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consCols+` FROM consultation
		WHERE professional_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY `+urgencyOrder+`, scheduled_at DESC
		LIMIT $3 OFFSET $4`, professionalID, strs, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	cons, err := collectConsultations(rows)
	return cons, total, err
}

// urgencyOrder sorts Critique first and Normal last, matching the triage
// board.
const urgencyOrder = `CASE urgency
	WHEN 'Critique' THEN 0
	WHEN 'Très urgent' THEN 1
	WHEN 'Urgent' THEN 2
	ELSE 3
END`

func (r *repoPG) Queue(ctx context.Context, centerID *uuid.UUID, status Status) ([]*Consultation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+consCols+` FROM consultation
		WHERE status = $1 AND ($2::uuid IS NULL OR center_id = $2)
		ORDER BY `+urgencyOrder+`, scheduled_at ASC NULLS LAST, created_at ASC`,
		status, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConsultations(rows)
}

func (r *repoPG) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultation WHERE status = $1`, status).Scan(&count)
	return count, err
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(
		&c.ID, &c.PatientID, &c.ProfessionalID, &c.CenterID, &c.Status, &c.Type,
		&c.Urgency, &c.ScheduledAt, &c.Motive, &c.Anamnesis, &c.ExamFindings, &c.Diagnosis,
		&c.TreatmentPlan, &c.PreviousID, &c.AppointmentID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectConsultations(rows pgx.Rows) ([]*Consultation, error) {
	var cons []*Consultation
	for rows.Next() {
		var c Consultation
		err := rows.Scan(
			&c.ID, &c.PatientID, &c.ProfessionalID, &c.CenterID, &c.Status, &c.Type,
			&c.Urgency, &c.ScheduledAt, &c.Motive, &c.Anamnesis, &c.ExamFindings, &c.Diagnosis,
			&c.TreatmentPlan, &c.PreviousID, &c.AppointmentID, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		cons = append(cons, &c)
	}
	return cons, nil
}
