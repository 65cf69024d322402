package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/his/his/internal/domain/catalog"
	"github.com/his/his/internal/platform/apperror"
	"github.com/his/his/internal/platform/db"
)

// Service is the only writer of lot quantities. Every quantity change it
// makes is paired with a movement insert inside the same transaction, so
// the invariant lot.quantity == sum of the lot's movements holds after
// every operation.
type Service struct {
	repo     Repository
	products ProductResolver
	pool     *pgxpool.Pool
}

func NewService(repo Repository, products ProductResolver, pool *pgxpool.Pool) *Service {
	return &Service{repo: repo, products: products, pool: pool}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, s.pool, fn)
}

// ReceiveInput describes one incoming delivery of a product batch.
type ReceiveInput struct {
	ProductID      string              `json:"product_id"`
	ProductType    catalog.ProductType `json:"product_type"`
	CenterID       uuid.UUID           `json:"center_id"`
	Quantity       int                 `json:"quantity"`
	LotNumber      string              `json:"lot_number"`
	ExpiryDate     *time.Time          `json:"expiry_date,omitempty"`
	AlertThreshold int                 `json:"alert_threshold"`
	ActorID        *uuid.UUID          `json:"actor_id,omitempty"`
	Source         *string             `json:"source,omitempty"`
}

// ReceiveResult reports the lot credited and the ledger entry created.
type ReceiveResult struct {
	Lot      *Lot      `json:"lot"`
	Movement *Movement `json:"movement"`
}

// Receive credits stock: it creates the lot for (product, center,
// lot_number) or tops up an existing one, and records a RECEPTION
// movement for the received quantity.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (*ReceiveResult, error) {
	if in.Quantity <= 0 {
		return nil, apperror.New(apperror.InvalidQuantity, "received quantity must be positive, got %d", in.Quantity)
	}
	if in.LotNumber == "" {
		return nil, apperror.New(apperror.MissingRequiredField, "lot_number is required")
	}
	if in.CenterID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "center_id is required")
	}
	if _, err := s.products.ResolveProduct(ctx, in.ProductType, in.ProductID); err != nil {
		return nil, err
	}

	var result ReceiveResult
	err := s.inTx(ctx, func(ctx context.Context) error {
		lot, err := s.repo.FindLotForUpdate(ctx, in.ProductID, in.CenterID, in.LotNumber)
		switch {
		case err == nil:
			if err := s.repo.UpdateLotQuantity(ctx, lot.ID, lot.Quantity+in.Quantity); err != nil {
				return err
			}
			lot.Quantity += in.Quantity
		case apperror.IsKind(err, apperror.NotFound):
			threshold := in.AlertThreshold
			if threshold <= 0 {
				threshold = 10
			}
			lot = &Lot{
				ProductID:      in.ProductID,
				ProductType:    in.ProductType,
				CenterID:       in.CenterID,
				Quantity:       in.Quantity,
				ReceptionDate:  time.Now().UTC(),
				ExpiryDate:     in.ExpiryDate,
				LotNumber:      in.LotNumber,
				AlertThreshold: threshold,
				Status:         LotNormal,
			}
			if err := s.repo.CreateLot(ctx, lot); err != nil {
				return err
			}
		default:
			return err
		}

		mov := &Movement{
			ProductID:   in.ProductID,
			ProductType: in.ProductType,
			LotID:       lot.ID,
			LotNumber:   lot.LotNumber,
			Type:        MovementReception,
			Quantity:    in.Quantity,
			CenterID:    in.CenterID,
			ActorID:     in.ActorID,
			Source:      in.Source,
		}
		if err := s.repo.InsertMovement(ctx, mov); err != nil {
			return err
		}
		result = ReceiveResult{Lot: lot, Movement: mov}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DispenseInput describes a debit on behalf of one prescription line.
type DispenseInput struct {
	LineID      uuid.UUID
	ProductID   string
	ProductType catalog.ProductType
	CenterID    uuid.UUID
	PatientID   uuid.UUID
	Quantity    int
	ActorID     uuid.UUID
	Notes       *string
}

// Dispense debits the requested quantity across the dispensable lots of
// the product at the center, earliest expiry first. The lots are
// row-locked for the whole transaction, so two concurrent dispensations
// against the same lots serialize and can never oversell. If the total
// available is short of the request, nothing is written and
// InsufficientStock is returned; a caller that accepts partial
// fulfillment must say so explicitly through DispenseFromLot.
func (s *Service) Dispense(ctx context.Context, in DispenseInput) ([]LotDebit, error) {
	if in.Quantity <= 0 {
		return nil, apperror.New(apperror.InvalidQuantity, "dispensed quantity must be positive, got %d", in.Quantity)
	}
	if in.LineID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "line_id is required")
	}

	var debits []LotDebit
	err := s.inTx(ctx, func(ctx context.Context) error {
		lots, err := s.repo.LockDispensableLots(ctx, in.ProductID, in.CenterID)
		if err != nil {
			return err
		}

		available := 0
		for _, lot := range lots {
			available += lot.Quantity
		}
		if available < in.Quantity {
			return apperror.New(apperror.InsufficientStock,
				"product %s at center %s: requested %d, available %d",
				in.ProductID, in.CenterID, in.Quantity, available)
		}

		remaining := in.Quantity
		for _, lot := range lots {
			if remaining == 0 {
				break
			}
			take := lot.Quantity
			if take > remaining {
				take = remaining
			}

			debit, err := s.debitLot(ctx, lot, take, in)
			if err != nil {
				return err
			}
			debits = append(debits, *debit)
			remaining -= take
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return debits, nil
}

// DispenseFromLot debits one caller-chosen lot. This is the explicit
// partial-fulfillment path: the caller names the lot and the exact
// quantity to take from it.
func (s *Service) DispenseFromLot(ctx context.Context, lotID uuid.UUID, in DispenseInput) (*LotDebit, error) {
	if in.Quantity <= 0 {
		return nil, apperror.New(apperror.InvalidQuantity, "dispensed quantity must be positive, got %d", in.Quantity)
	}
	if in.LineID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "line_id is required")
	}

	var debit *LotDebit
	err := s.inTx(ctx, func(ctx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.Status != LotNormal {
			return apperror.New(apperror.InvalidAdjustment, "lot %s is %s, not dispensable", lot.LotNumber, lot.Status)
		}
		if lot.Quantity < in.Quantity {
			return apperror.New(apperror.InsufficientStock,
				"lot %s: requested %d, available %d", lot.LotNumber, in.Quantity, lot.Quantity)
		}
		debit, err = s.debitLot(ctx, lot, in.Quantity, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return debit, nil
}

// debitLot writes one lot debit: quantity update, DISPENSATION movement
// and dispensation record, all against the transaction carried in ctx.
func (s *Service) debitLot(ctx context.Context, lot *Lot, take int, in DispenseInput) (*LotDebit, error) {
	if err := s.repo.UpdateLotQuantity(ctx, lot.ID, lot.Quantity-take); err != nil {
		return nil, err
	}
	lot.Quantity -= take

	actor := in.ActorID
	mov := &Movement{
		ProductID:   lot.ProductID,
		ProductType: lot.ProductType,
		LotID:       lot.ID,
		LotNumber:   lot.LotNumber,
		Type:        MovementDispensation,
		Quantity:    -take,
		CenterID:    lot.CenterID,
		ActorID:     &actor,
	}
	if err := s.repo.InsertMovement(ctx, mov); err != nil {
		return nil, err
	}

	disp := &Dispensation{
		LineID:      in.LineID,
		LotID:       lot.ID,
		MovementID:  mov.ID,
		ProductID:   lot.ProductID,
		PatientID:   in.PatientID,
		DispenserID: in.ActorID,
		CenterID:    lot.CenterID,
		Quantity:    take,
		LotNumber:   lot.LotNumber,
		Notes:       in.Notes,
	}
	if err := s.repo.CreateDispensation(ctx, disp); err != nil {
		return nil, err
	}

	return &LotDebit{LotID: lot.ID, LotNumber: lot.LotNumber, MovementID: mov.ID, Quantity: take}, nil
}

// Adjust applies a manual correction to one lot. A positive delta records
// CORRECTION_IN, a negative one CORRECTION_OUT. The lot may never go
// negative.
func (s *Service) Adjust(ctx context.Context, lotID uuid.UUID, delta int, reason string, actorID uuid.UUID) (*Movement, error) {
	if delta == 0 {
		return nil, apperror.New(apperror.InvalidQuantity, "adjustment delta must be non-zero")
	}

	var mov *Movement
	err := s.inTx(ctx, func(ctx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.Quantity+delta < 0 {
			return apperror.New(apperror.InvalidAdjustment,
				"lot %s holds %d, adjustment of %d would go negative", lot.LotNumber, lot.Quantity, delta)
		}
		if err := s.repo.UpdateLotQuantity(ctx, lot.ID, lot.Quantity+delta); err != nil {
			return err
		}

		movType := MovementCorrectionIn
		if delta < 0 {
			movType = MovementCorrectionOut
		}
		var comment *string
		if reason != "" {
			comment = &reason
		}
		mov = &Movement{
			ProductID:   lot.ProductID,
			ProductType: lot.ProductType,
			LotID:       lot.ID,
			LotNumber:   lot.LotNumber,
			Type:        movType,
			Quantity:    delta,
			CenterID:    lot.CenterID,
			ActorID:     &actorID,
			Comment:     comment,
		}
		return s.repo.InsertMovement(ctx, mov)
	})
	if err != nil {
		return nil, err
	}
	return mov, nil
}

// WriteOffExpired zeroes an expired lot with an explicit EXPIRY_WRITE_OFF
// movement. MarkExpiredLots never does this implicitly.
func (s *Service) WriteOffExpired(ctx context.Context, lotID uuid.UUID, actorID uuid.UUID, comment string) (*Movement, error) {
	var mov *Movement
	err := s.inTx(ctx, func(ctx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.Status != LotExpired {
			return apperror.New(apperror.InvalidAdjustment, "lot %s is not expired", lot.LotNumber)
		}
		if lot.Quantity == 0 {
			return apperror.New(apperror.InvalidAdjustment, "lot %s already written off", lot.LotNumber)
		}
		if err := s.repo.UpdateLotQuantity(ctx, lot.ID, 0); err != nil {
			return err
		}

		var c *string
		if comment != "" {
			c = &comment
		}
		mov = &Movement{
			ProductID:   lot.ProductID,
			ProductType: lot.ProductType,
			LotID:       lot.ID,
			LotNumber:   lot.LotNumber,
			Type:        MovementExpiryWriteOff,
			Quantity:    -lot.Quantity,
			CenterID:    lot.CenterID,
			ActorID:     &actorID,
			Comment:     c,
		}
		return s.repo.InsertMovement(ctx, mov)
	})
	if err != nil {
		return nil, err
	}
	return mov, nil
}

// DeleteLot removes a lot record. The remaining quantity is compensated
// with an ADJUSTMENT movement in the same transaction so the ledger stays
// reconcilable after the row is gone. The actor is an explicit parameter,
// not a session variable.
func (s *Service) DeleteLot(ctx context.Context, lotID uuid.UUID, actorID uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.Quantity != 0 {
			comment := "lot deleted with remaining stock"
			mov := &Movement{
				ProductID:   lot.ProductID,
				ProductType: lot.ProductType,
				LotID:       lot.ID,
				LotNumber:   lot.LotNumber,
				Type:        MovementAdjustment,
				Quantity:    -lot.Quantity,
				CenterID:    lot.CenterID,
				ActorID:     &actorID,
				Comment:     &comment,
			}
			if err := s.repo.InsertMovement(ctx, mov); err != nil {
				return err
			}
		}
		return s.repo.DeleteLot(ctx, lot.ID)
	})
}

// MarkExpiredLots flips lots whose expiry passed before asOf to EXPIRED.
// Quantities stay untouched; the stock remains visible for audit until an
// explicit write-off.
func (s *Service) MarkExpiredLots(ctx context.Context, asOf time.Time) (int64, error) {
	return s.repo.MarkExpired(ctx, asOf)
}

// ProductLevel computes the current stock position of a product at a
// center from the movement ledger, not the cached lot quantities.
func (s *Service) ProductLevel(ctx context.Context, productType catalog.ProductType, productID string, centerID uuid.UUID) (*Level, error) {
	if _, err := s.products.ResolveProduct(ctx, productType, productID); err != nil {
		return nil, err
	}
	quantity, err := s.repo.SumMovements(ctx, productID, centerID)
	if err != nil {
		return nil, err
	}
	thresholdSum, err := s.repo.ThresholdSum(ctx, productID, centerID)
	if err != nil {
		return nil, err
	}
	return &Level{
		ProductID:      productID,
		ProductType:    productType,
		CenterID:       centerID,
		Quantity:       quantity,
		ThresholdSum:   thresholdSum,
		Classification: Classify(quantity, thresholdSum),
	}, nil
}

// ExpiringLots lists dispensable lots expiring within horizonDays.
func (s *Service) ExpiringLots(ctx context.Context, centerID *uuid.UUID, horizonDays int) ([]*ExpiringLot, error) {
	if horizonDays <= 0 {
		horizonDays = 90
	}
	horizon := time.Now().UTC().AddDate(0, 0, horizonDays)
	return s.repo.ExpiringLots(ctx, centerID, horizon)
}

// LowStock lists products whose summed quantity sits in the low-stock band.
func (s *Service) LowStock(ctx context.Context, centerID *uuid.UUID) ([]*Level, error) {
	return s.repo.LowStockLevels(ctx, centerID)
}

func (s *Service) GetLot(ctx context.Context, id uuid.UUID) (*Lot, error) {
	return s.repo.GetLot(ctx, id)
}

func (s *Service) ListLots(ctx context.Context, centerID *uuid.UUID, limit, offset int) ([]*Lot, int, error) {
	return s.repo.ListLots(ctx, centerID, limit, offset)
}

func (s *Service) ListLotsByProduct(ctx context.Context, productID string, centerID uuid.UUID) ([]*Lot, error) {
	return s.repo.ListLotsByProduct(ctx, productID, centerID)
}

func (s *Service) Movements(ctx context.Context, f MovementFilter, limit, offset int) ([]*Movement, int, error) {
	return s.repo.ListMovements(ctx, f, limit, offset)
}

func (s *Service) DispensationsByLine(ctx context.Context, lineID uuid.UUID) ([]*Dispensation, error) {
	return s.repo.ListDispensationsByLine(ctx, lineID)
}

func (s *Service) DispensationsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error) {
	return s.repo.ListDispensationsByPatient(ctx, patientID, limit, offset)
}
