package stock

import (
	"context"
	"errors"
	"time"

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

const lotCols = `id, product_id, product_type, center_id, quantity, reception_date,
	expiry_date, lot_number, alert_threshold, status, created_at, updated_at`

func (r *repoPG) CreateLot(ctx context.Context, lot *Lot) error {
	lot.ID = uuid.New()
	if lot.Status == "" {
		lot.Status = LotNormal
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO stock_lot (
			id, product_id, product_type, center_id, quantity, reception_date,
			expiry_date, lot_number, alert_threshold, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		lot.ID, lot.ProductID, lot.ProductType, lot.CenterID, lot.Quantity, lot.ReceptionDate,
		lot.ExpiryDate, lot.LotNumber, lot.AlertThreshold, lot.Status,
	)
	return err
}

func (r *repoPG) GetLot(ctx context.Context, id uuid.UUID) (*Lot, error) {
	return r.scanLotRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lotCols+` FROM stock_lot WHERE id = $1`, id), id.String())
}

func (r *repoPG) GetLotForUpdate(ctx context.Context, id uuid.UUID) (*Lot, error) {
	return r.scanLotRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lotCols+` FROM stock_lot WHERE id = $1 FOR UPDATE`, id), id.String())
}

func (r *repoPG) FindLotForUpdate(ctx context.Context, productID string, centerID uuid.UUID, lotNumber string) (*Lot, error) {
	return r.scanLotRow(r.conn(ctx).QueryRow(ctx, `
		SELECT `+lotCols+` FROM stock_lot
		WHERE product_id = $1 AND center_id = $2 AND lot_number = $3
		FOR UPDATE`, productID, centerID, lotNumber), lotNumber)
}

// LockDispensableLots orders by expiry ascending with NULLs last, then by
// lot number, so allocation is deterministic and earliest-expiry-first.
// The row locks serialize concurrent dispensations against the same lots.
func (r *repoPG) LockDispensableLots(ctx context.Context, productID string, centerID uuid.UUID) ([]*Lot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+lotCols+` FROM stock_lot
		WHERE product_id = $1 AND center_id = $2 AND quantity > 0 AND status = $3
		ORDER BY expiry_date ASC NULLS LAST, lot_number ASC
		FOR UPDATE`, productID, centerID, LotNormal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLots(rows)
}

func (r *repoPG) UpdateLotQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE stock_lot SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, quantity)
	return err
}

func (r *repoPG) UpdateLotStatus(ctx context.Context, id uuid.UUID, status LotStatus) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE stock_lot SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (r *repoPG) DeleteLot(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM stock_lot WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListLots(ctx context.Context, centerID *uuid.UUID, limit, offset int) ([]*Lot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_lot WHERE ($1::uuid IS NULL OR center_id = $1)`,
		centerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+lotCols+` FROM stock_lot
		WHERE ($1::uuid IS NULL OR center_id = $1)
		ORDER BY reception_date DESC LIMIT $2 OFFSET $3`, centerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	lots, err := collectLots(rows)
	return lots, total, err
}

func (r *repoPG) ListLotsByProduct(ctx context.Context, productID string, centerID uuid.UUID) ([]*Lot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+lotCols+` FROM stock_lot
		WHERE product_id = $1 AND center_id = $2
		ORDER BY expiry_date ASC NULLS LAST, lot_number ASC`, productID, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLots(rows)
}

const movCols = `id, product_id, product_type, lot_id, lot_number, movement_type,
	quantity, center_id, actor_id, source, comment, created_at`

func (r *repoPG) InsertMovement(ctx context.Context, m *Movement) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO stock_movement (
			id, product_id, product_type, lot_id, lot_number, movement_type,
			quantity, center_id, actor_id, source, comment
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.ProductID, m.ProductType, m.LotID, m.LotNumber, m.Type,
		m.Quantity, m.CenterID, m.ActorID, m.Source, m.Comment,
	)
	return err
}

func (r *repoPG) ListMovements(ctx context.Context, f MovementFilter, limit, offset int) ([]*Movement, int, error) {
	const where = `($1::text IS NULL OR product_id = $1)
		AND ($2::uuid IS NULL OR lot_id = $2)
		AND ($3::uuid IS NULL OR center_id = $3)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_movement WHERE `+where,
		f.ProductID, f.LotID, f.CenterID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+movCols+` FROM stock_movement WHERE `+where+`
		ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		f.ProductID, f.LotID, f.CenterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var movs []*Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(
			&m.ID, &m.ProductID, &m.ProductType, &m.LotID, &m.LotNumber, &m.Type,
			&m.Quantity, &m.CenterID, &m.ActorID, &m.Source, &m.Comment, &m.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		movs = append(movs, &m)
	}
	return movs, total, nil
}

func (r *repoPG) SumMovements(ctx context.Context, productID string, centerID uuid.UUID) (int, error) {
	var sum int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_movement
		WHERE product_id = $1 AND center_id = $2`, productID, centerID).Scan(&sum)
	return sum, err
}

func (r *repoPG) SumMovementsByLot(ctx context.Context, lotID uuid.UUID) (int, error) {
	var sum int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_movement WHERE lot_id = $1`, lotID).Scan(&sum)
	return sum, err
}

func (r *repoPG) MarkExpired(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE stock_lot SET status = $1, updated_at = NOW()
		WHERE expiry_date IS NOT NULL AND expiry_date < $2 AND status <> $1`,
		LotExpired, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) ExpiringLots(ctx context.Context, centerID *uuid.UUID, horizon time.Time) ([]*ExpiringLot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+lotCols+` FROM stock_lot
		WHERE quantity > 0 AND status = $1
			AND expiry_date IS NOT NULL AND expiry_date <= $2
			AND ($3::uuid IS NULL OR center_id = $3)
		ORDER BY expiry_date ASC, lot_number ASC`, LotNormal, horizon, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots, err := collectLots(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := make([]*ExpiringLot, 0, len(lots))
	for _, lot := range lots {
		days := int(lot.ExpiryDate.Sub(now).Hours() / 24)
		if days < 0 {
			days = 0
		}
		result = append(result, &ExpiringLot{Lot: lot, DaysRemaining: days})
	}
	return result, nil
}

func (r *repoPG) LowStockLevels(ctx context.Context, centerID *uuid.UUID) ([]*Level, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT product_id, product_type, center_id,
			SUM(quantity) AS total_quantity, SUM(alert_threshold) AS total_threshold
		FROM stock_lot
		WHERE ($1::uuid IS NULL OR center_id = $1)
		GROUP BY product_id, product_type, center_id
		HAVING SUM(quantity) > 0 AND SUM(quantity) <= SUM(alert_threshold)
		ORDER BY SUM(quantity) ASC`, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []*Level
	for rows.Next() {
		var l Level
		if err := rows.Scan(&l.ProductID, &l.ProductType, &l.CenterID, &l.Quantity, &l.ThresholdSum); err != nil {
			return nil, err
		}
		l.Classification = Classify(l.Quantity, l.ThresholdSum)
		levels = append(levels, &l)
	}
	return levels, nil
}

func (r *repoPG) ThresholdSum(ctx context.Context, productID string, centerID uuid.UUID) (int, error) {
	var sum int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(alert_threshold), 0) FROM stock_lot
		WHERE product_id = $1 AND center_id = $2`, productID, centerID).Scan(&sum)
	return sum, err
}

const dispCols = `id, line_id, lot_id, movement_id, product_id, patient_id,
	dispenser_id, center_id, quantity, lot_number, notes, created_at`

func (r *repoPG) CreateDispensation(ctx context.Context, d *Dispensation) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dispensation (
			id, line_id, lot_id, movement_id, product_id, patient_id,
			dispenser_id, center_id, quantity, lot_number, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.LineID, d.LotID, d.MovementID, d.ProductID, d.PatientID,
		d.DispenserID, d.CenterID, d.Quantity, d.LotNumber, d.Notes,
	)
	return err
}

func (r *repoPG) ListDispensationsByLine(ctx context.Context, lineID uuid.UUID) ([]*Dispensation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+dispCols+` FROM dispensation WHERE line_id = $1 ORDER BY created_at`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDispensations(rows)
}

func (r *repoPG) ListDispensationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM dispensation WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+dispCols+` FROM dispensation WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	disps, err := collectDispensations(rows)
	return disps, total, err
}

func (r *repoPG) scanLotRow(row pgx.Row, ref string) (*Lot, error) {
	var l Lot
	err := row.Scan(
		&l.ID, &l.ProductID, &l.ProductType, &l.CenterID, &l.Quantity, &l.ReceptionDate,
		&l.ExpiryDate, &l.LotNumber, &l.AlertThreshold, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "lot %s not found", ref)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLots(rows pgx.Rows) ([]*Lot, error) {
	var lots []*Lot
	for rows.Next() {
		var l Lot
		err := rows.Scan(
			&l.ID, &l.ProductID, &l.ProductType, &l.CenterID, &l.Quantity, &l.ReceptionDate,
			&l.ExpiryDate, &l.LotNumber, &l.AlertThreshold, &l.Status, &l.CreatedAt, &l.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		lots = append(lots, &l)
	}
	return lots, nil
}

func collectDispensations(rows pgx.Rows) ([]*Dispensation, error) {
	var disps []*Dispensation
	for rows.Next() {
		var d Dispensation
		err := rows.Scan(
			&d.ID, &d.LineID, &d.LotID, &d.MovementID, &d.ProductID, &d.PatientID,
			&d.DispenserID, &d.CenterID, &d.Quantity, &d.LotNumber, &d.Notes, &d.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		disps = append(disps, &d)
	}
	return disps, nil
}
