package stock

import (
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/domain/catalog"
)

// LotStatus tracks whether a lot is still dispensable.
type LotStatus string

const (
	LotNormal  LotStatus = "NORMAL"
	LotExpired LotStatus = "EXPIRED"
)

// MovementType enumerates the ledger entry kinds. Positive quantities are
// inbound, negative outbound; the type records why.
type MovementType string

const (
	MovementReception      MovementType = "RECEPTION"
	MovementDispensation   MovementType = "DISPENSATION"
	MovementCorrectionIn   MovementType = "CORRECTION_IN"
	MovementCorrectionOut  MovementType = "CORRECTION_OUT"
	MovementAdjustment     MovementType = "ADJUSTMENT"
	MovementExpiryWriteOff MovementType = "EXPIRY_WRITE_OFF"
)

// Lot maps to the stock_lot table: one physical batch of a product at one
// center. Quantity is a cache of the movement sum for this lot; every
// write to it is paired with a movement insert in the same transaction.
type Lot struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	ProductID      string              `db:"product_id" json:"product_id"`
	ProductType    catalog.ProductType `db:"product_type" json:"product_type"`
	CenterID       uuid.UUID           `db:"center_id" json:"center_id"`
	Quantity       int                 `db:"quantity" json:"quantity"`
	ReceptionDate  time.Time           `db:"reception_date" json:"reception_date"`
	ExpiryDate     *time.Time          `db:"expiry_date" json:"expiry_date,omitempty"`
	LotNumber      string              `db:"lot_number" json:"lot_number"`
	AlertThreshold int                 `db:"alert_threshold" json:"alert_threshold"`
	Status         LotStatus           `db:"status" json:"status"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// Movement maps to the stock_movement table. Append-only: rows are
// inserted, never updated or deleted. The lot reference is a plain id, not
// a foreign key, so the ledger outlives deleted lots.
type Movement struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	ProductID   string              `db:"product_id" json:"product_id"`
	ProductType catalog.ProductType `db:"product_type" json:"product_type"`
	LotID       uuid.UUID           `db:"lot_id" json:"lot_id"`
	LotNumber   string              `db:"lot_number" json:"lot_number"`
	Type        MovementType        `db:"movement_type" json:"movement_type"`
	Quantity    int                 `db:"quantity" json:"quantity"`
	CenterID    uuid.UUID           `db:"center_id" json:"center_id"`
	ActorID     *uuid.UUID          `db:"actor_id" json:"actor_id,omitempty"`
	Source      *string             `db:"source" json:"source,omitempty"`
	Comment     *string             `db:"comment" json:"comment,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
}

// Dispensation maps to the dispensation table: a quantity of one
// prescription line delivered from one lot, tied to its debit movement.
type Dispensation struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	LineID      uuid.UUID  `db:"line_id" json:"line_id"`
	LotID       uuid.UUID  `db:"lot_id" json:"lot_id"`
	MovementID  uuid.UUID  `db:"movement_id" json:"movement_id"`
	ProductID   string     `db:"product_id" json:"product_id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DispenserID uuid.UUID  `db:"dispenser_id" json:"dispenser_id"`
	CenterID    uuid.UUID  `db:"center_id" json:"center_id"`
	Quantity    int        `db:"quantity" json:"quantity"`
	LotNumber   string     `db:"lot_number" json:"lot_number"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// LotDebit reports one lot consumed by a dispense operation.
type LotDebit struct {
	LotID      uuid.UUID `json:"lot_id"`
	LotNumber  string    `json:"lot_number"`
	MovementID uuid.UUID `json:"movement_id"`
	Quantity   int       `json:"quantity"`
}

// Stock level classification bands.
const (
	LevelOutOfStock = "out-of-stock"
	LevelLowStock   = "low-stock"
	LevelNormal     = "normal"
)

// Level is the computed stock position of one product at one center.
type Level struct {
	ProductID      string              `json:"product_id"`
	ProductType    catalog.ProductType `json:"product_type"`
	CenterID       uuid.UUID           `json:"center_id"`
	Quantity       int                 `json:"quantity"`
	ThresholdSum   int                 `json:"threshold_sum"`
	Classification string              `json:"classification"`
}

// Classify places a quantity into a band against the summed per-lot alert
// thresholds.
func Classify(quantity, thresholdSum int) string {
	switch {
	case quantity == 0:
		return LevelOutOfStock
	case quantity <= thresholdSum:
		return LevelLowStock
	default:
		return LevelNormal
	}
}

// ExpiringLot pairs a lot with the days left before its expiry date.
type ExpiringLot struct {
	Lot           *Lot `json:"lot"`
	DaysRemaining int  `json:"days_remaining"`
}
