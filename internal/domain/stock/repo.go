package stock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/domain/catalog"
)

// MovementFilter narrows movement history reads.
type MovementFilter struct {
	ProductID *string
	LotID     *uuid.UUID
	CenterID  *uuid.UUID
}

// Repository abstracts storage for lots, movements and dispensations.
// Implementations must honor the context-carried transaction so a service
// operation's reads, locks and writes land in a single transaction.
type Repository interface {
	CreateLot(ctx context.Context, lot *Lot) error
	GetLot(ctx context.Context, id uuid.UUID) (*Lot, error)
	// GetLotForUpdate reads a lot under a row lock held until the
	// surrounding transaction ends.
	GetLotForUpdate(ctx context.Context, id uuid.UUID) (*Lot, error)
	// FindLotForUpdate locates a lot by its natural key under a row lock.
	FindLotForUpdate(ctx context.Context, productID string, centerID uuid.UUID, lotNumber string) (*Lot, error)
	// LockDispensableLots returns the lots of (product, center) with
	// quantity > 0 and status NORMAL, row-locked, ordered earliest expiry
	// first with NULL expiry last and lot_number as the tie-break.
	LockDispensableLots(ctx context.Context, productID string, centerID uuid.UUID) ([]*Lot, error)
	UpdateLotQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	UpdateLotStatus(ctx context.Context, id uuid.UUID, status LotStatus) error
	DeleteLot(ctx context.Context, id uuid.UUID) error
	ListLots(ctx context.Context, centerID *uuid.UUID, limit, offset int) ([]*Lot, int, error)
	ListLotsByProduct(ctx context.Context, productID string, centerID uuid.UUID) ([]*Lot, error)

	InsertMovement(ctx context.Context, m *Movement) error
	ListMovements(ctx context.Context, f MovementFilter, limit, offset int) ([]*Movement, int, error)
	// SumMovements returns the signed movement total for the lots of
	// (product, center). The source of truth for stock levels.
	SumMovements(ctx context.Context, productID string, centerID uuid.UUID) (int, error)
	SumMovementsByLot(ctx context.Context, lotID uuid.UUID) (int, error)

	// MarkExpired flips status on lots whose expiry date passed before
	// asOf, returning how many were flipped. Quantities are untouched.
	MarkExpired(ctx context.Context, asOf time.Time) (int64, error)
	ExpiringLots(ctx context.Context, centerID *uuid.UUID, horizon time.Time) ([]*ExpiringLot, error)
	LowStockLevels(ctx context.Context, centerID *uuid.UUID) ([]*Level, error)
	ThresholdSum(ctx context.Context, productID string, centerID uuid.UUID) (int, error)

	CreateDispensation(ctx context.Context, d *Dispensation) error
	ListDispensationsByLine(ctx context.Context, lineID uuid.UUID) ([]*Dispensation, error)
	ListDispensationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error)
}

// ProductResolver validates product references against the catalog.
type ProductResolver interface {
	ResolveProduct(ctx context.Context, productType catalog.ProductType, id string) (*catalog.ProductInfo, error)
}
