package prescription

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

const prescriptionCols = `id, consultation_id, professional_id, status, prescribed_at, notes, created_at, updated_at`

func (r *repoPG) CreatePrescription(ctx context.Context, p *Prescription) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (consultation_id, professional_id, status, prescribed_at, notes)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, updated_at`,
		p.ConsultationID, p.ProfessionalID, p.Status, p.PrescribedAt, p.Notes,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

const lineCols = `id, prescription_id, product_id, product_type, posology,
	quantity_prescribed, quantity_dispensed, duration_days, notes, status, created_at`

func (r *repoPG) CreateLine(ctx context.Context, l *Line) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription_line (
			prescription_id, product_id, product_type, posology,
			quantity_prescribed, quantity_dispensed, duration_days, notes, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at`,
		l.PrescriptionID, l.ProductID, l.ProductType, l.Posology,
		l.QuantityPrescribed, l.QuantityDispensed, l.DurationDays, l.Notes, l.Status,
	).Scan(&l.ID, &l.CreatedAt)
}

const examCols = `id, prescription_id, exam_type, exam_name, instructions, priority, status, requested_at, created_at`

func (r *repoPG) CreateExam(ctx context.Context, e *Exam) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription_exam (
			prescription_id, exam_type, exam_name, instructions, priority, status, requested_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		e.PrescriptionID, e.ExamType, e.ExamName, e.Instructions, e.Priority, e.Status, e.RequestedAt,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *repoPG) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "prescription %s not found", id)
	}
	return p, err
}

func (r *repoPG) GetLines(ctx context.Context, prescriptionID uuid.UUID) ([]*Line, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineCols+` FROM prescription_line WHERE prescription_id = $1 ORDER BY created_at`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLines(rows)
}

func (r *repoPG) GetExams(ctx context.Context, prescriptionID uuid.UUID) ([]*Exam, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+examCols+` FROM prescription_exam WHERE prescription_id = $1 ORDER BY created_at`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExams(rows)
}

func (r *repoPG) GetLine(ctx context.Context, id uuid.UUID) (*Line, error) {
	l, err := scanLine(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lineCols+` FROM prescription_line WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "prescription line %s not found", id)
	}
	return l, err
}

func (r *repoPG) GetLineForUpdate(ctx context.Context, id uuid.UUID) (*Line, error) {
	l, err := scanLine(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lineCols+` FROM prescription_line WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "prescription line %s not found", id)
	}
	return l, err
}

func (r *repoPG) GetExam(ctx context.Context, id uuid.UUID) (*Exam, error) {
	e, err := scanExam(r.conn(ctx).QueryRow(ctx,
		`SELECT `+examCols+` FROM prescription_exam WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "exam order %s not found", id)
	}
	return e, err
}

func (r *repoPG) UpdateLineFulfillment(ctx context.Context, id uuid.UUID, dispensed int, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription_line SET quantity_dispensed = $2, status = $3 WHERE id = $1`,
		id, dispensed, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "prescription line %s not found", id)
	}
	return nil
}

func (r *repoPG) UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "prescription %s not found", id)
	}
	return nil
}

func (r *repoPG) UpdateExamStatus(ctx context.Context, id uuid.UUID, status ExamStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription_exam SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, "exam order %s not found", id)
	}
	return nil
}

func (r *repoPG) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE consultation_id = $1 ORDER BY prescribed_at`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescription WHERE professional_id = $1`, professionalID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescription
		WHERE professional_id = $1
		ORDER BY prescribed_at DESC LIMIT $2 OFFSET $3`, professionalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// ListByPatient resolves the patient through the owning consultation;
// prescription rows do not carry a patient column themselves.
func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM prescription
		WHERE consultation_id IN (SELECT id FROM consultation WHERE patient_id = $1)`,
		patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescription
		WHERE consultation_id IN (SELECT id FROM consultation WHERE patient_id = $1)
		ORDER BY prescribed_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListExamsByStatus(ctx context.Context, status ExamStatus) ([]*Exam, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+examCols+` FROM prescription_exam
		WHERE status = $1
		ORDER BY CASE priority WHEN 'Urgent' THEN 0 ELSE 1 END, requested_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExams(rows)
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.ConsultationID, &p.ProfessionalID, &p.Status,
		&p.PrescribedAt, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanLine(row pgx.Row) (*Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.PrescriptionID, &l.ProductID, &l.ProductType, &l.Posology,
		&l.QuantityPrescribed, &l.QuantityDispensed, &l.DurationDays, &l.Notes, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLines(rows pgx.Rows) ([]*Line, error) {
	var out []*Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanExam(row pgx.Row) (*Exam, error) {
	var e Exam
	err := row.Scan(&e.ID, &e.PrescriptionID, &e.ExamType, &e.ExamName, &e.Instructions,
		&e.Priority, &e.Status, &e.RequestedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectExams(rows pgx.Rows) ([]*Exam, error) {
	var out []*Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
