package catalog

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

const medCols = `id, commercial_name, generic_name, dosage, pharmaceutical_form,
	category_id, description, unit_price, sale_unit, created_at, updated_at`

func (r *repoPG) CreateMedicament(ctx context.Context, m *Medicament) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medicament (
			id, commercial_name, generic_name, dosage, pharmaceutical_form,
			category_id, description, unit_price, sale_unit
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.CommercialName, m.GenericName, m.Dosage, m.PharmaceuticalForm,
		m.CategoryID, m.Description, m.UnitPrice, m.SaleUnit,
	)
	return err
}

func (r *repoPG) GetMedicament(ctx context.Context, id string) (*Medicament, error) {
	m, err := scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medicament WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "medicament %s not found", id)
	}
	return m, err
}

func (r *repoPG) UpdateMedicament(ctx context.Context, m *Medicament) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicament SET
			commercial_name=$2, generic_name=$3, dosage=$4, pharmaceutical_form=$5,
			category_id=$6, description=$7, unit_price=$8, sale_unit=$9, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.CommercialName, m.GenericName, m.Dosage, m.PharmaceuticalForm,
		m.CategoryID, m.Description, m.UnitPrice, m.SaleUnit,
	)
	return err
}

func (r *repoPG) DeleteMedicament(ctx context.Context, id string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM medicament WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListMedicaments(ctx context.Context, limit, offset int) ([]*Medicament, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medicament`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medCols+` FROM medicament ORDER BY commercial_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectMeds(rows, total)
}

func (r *repoPG) SearchMedicaments(ctx context.Context, name string, limit, offset int) ([]*Medicament, int, error) {
	pattern := "%" + name + "%"
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medicament WHERE commercial_name ILIKE $1 OR generic_name ILIKE $1`,
		pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medCols+` FROM medicament
		WHERE commercial_name ILIKE $1 OR generic_name ILIKE $1
		ORDER BY commercial_name LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectMeds(rows, total)
}

const devCols = `id, name, description, manufacturer_ref, category, sale_unit, created_at, updated_at`

func (r *repoPG) CreateDevice(ctx context.Context, d *MedicalDevice) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_device (id, name, description, manufacturer_ref, category, sale_unit)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.Name, d.Description, d.ManufacturerRef, d.Category, d.SaleUnit,
	)
	return err
}

func (r *repoPG) GetDevice(ctx context.Context, id string) (*MedicalDevice, error) {
	var d MedicalDevice
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+devCols+` FROM medical_device WHERE id = $1`, id).Scan(
		&d.ID, &d.Name, &d.Description, &d.ManufacturerRef, &d.Category, &d.SaleUnit, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "medical device %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) UpdateDevice(ctx context.Context, d *MedicalDevice) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_device SET
			name=$2, description=$3, manufacturer_ref=$4, category=$5, sale_unit=$6, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Name, d.Description, d.ManufacturerRef, d.Category, d.SaleUnit,
	)
	return err
}

func (r *repoPG) DeleteDevice(ctx context.Context, id string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM medical_device WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListDevices(ctx context.Context, limit, offset int) ([]*MedicalDevice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_device`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+devCols+` FROM medical_device ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devs []*MedicalDevice
	for rows.Next() {
		var d MedicalDevice
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.ManufacturerRef, &d.Category, &d.SaleUnit, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		devs = append(devs, &d)
	}
	return devs, total, nil
}

func (r *repoPG) CreateCategory(ctx context.Context, c *Category) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO medicament_category (id, name, description) VALUES ($1,$2,$3)`,
		c.ID, c.Name, c.Description,
	)
	return err
}

func (r *repoPG) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	var c Category
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, description FROM medicament_category WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "category %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) UpdateCategory(ctx context.Context, c *Category) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE medicament_category SET name=$2, description=$3 WHERE id = $1`,
		c.ID, c.Name, c.Description,
	)
	return err
}

func (r *repoPG) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM medicament_category WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, description FROM medicament_category ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []*Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		cats = append(cats, &c)
	}
	return cats, nil
}

func scanMed(row pgx.Row) (*Medicament, error) {
	var m Medicament
	err := row.Scan(
		&m.ID, &m.CommercialName, &m.GenericName, &m.Dosage, &m.PharmaceuticalForm,
		&m.CategoryID, &m.Description, &m.UnitPrice, &m.SaleUnit, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMeds(rows pgx.Rows, total int) ([]*Medicament, int, error) {
	var meds []*Medicament
	for rows.Next() {
		var m Medicament
		err := rows.Scan(
			&m.ID, &m.CommercialName, &m.GenericName, &m.Dosage, &m.PharmaceuticalForm,
			&m.CategoryID, &m.Description, &m.UnitPrice, &m.SaleUnit, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		meds = append(meds, &m)
	}
	return meds, total, nil
}
