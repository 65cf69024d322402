package stock

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/domain/catalog"
	"github.com/his/his/internal/platform/apperror"
)

// -- Mock Repository --

type mockRepo struct {
	lots          map[uuid.UUID]*Lot
	movements     []*Movement
	dispensations []*Dispensation
}

func newMockRepo() *mockRepo {
	return &mockRepo{lots: make(map[uuid.UUID]*Lot)}
}

func (m *mockRepo) CreateLot(_ context.Context, lot *Lot) error {
	lot.ID = uuid.New()
	if lot.Status == "" {
		lot.Status = LotNormal
	}
	lot.CreatedAt = time.Now()
	lot.UpdatedAt = time.Now()
	clone := *lot
	m.lots[lot.ID] = &clone
	return nil
}

func (m *mockRepo) GetLot(_ context.Context, id uuid.UUID) (*Lot, error) {
	lot, ok := m.lots[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "lot %s not found", id)
	}
	clone := *lot
	return &clone, nil
}

func (m *mockRepo) GetLotForUpdate(ctx context.Context, id uuid.UUID) (*Lot, error) {
	return m.GetLot(ctx, id)
}

func (m *mockRepo) FindLotForUpdate(_ context.Context, productID string, centerID uuid.UUID, lotNumber string) (*Lot, error) {
	for _, lot := range m.lots {
		if lot.ProductID == productID && lot.CenterID == centerID && lot.LotNumber == lotNumber {
			clone := *lot
			return &clone, nil
		}
	}
	return nil, apperror.New(apperror.NotFound, "lot %s not found", lotNumber)
}

func (m *mockRepo) LockDispensableLots(_ context.Context, productID string, centerID uuid.UUID) ([]*Lot, error) {
	var lots []*Lot
	for _, lot := range m.lots {
		if lot.ProductID == productID && lot.CenterID == centerID && lot.Quantity > 0 && lot.Status == LotNormal {
			clone := *lot
			lots = append(lots, &clone)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return a.LotNumber < b.LotNumber
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		default:
			return a.LotNumber < b.LotNumber
		}
	})
	return lots, nil
}

func (m *mockRepo) UpdateLotQuantity(_ context.Context, id uuid.UUID, quantity int) error {
	m.lots[id].Quantity = quantity
	return nil
}

func (m *mockRepo) UpdateLotStatus(_ context.Context, id uuid.UUID, status LotStatus) error {
	m.lots[id].Status = status
	return nil
}

func (m *mockRepo) DeleteLot(_ context.Context, id uuid.UUID) error {
	delete(m.lots, id)
	return nil
}

func (m *mockRepo) ListLots(_ context.Context, centerID *uuid.UUID, limit, offset int) ([]*Lot, int, error) {
	var lots []*Lot
	for _, lot := range m.lots {
		if centerID == nil || lot.CenterID == *centerID {
			lots = append(lots, lot)
		}
	}
	return lots, len(lots), nil
}

func (m *mockRepo) ListLotsByProduct(ctx context.Context, productID string, centerID uuid.UUID) ([]*Lot, error) {
	var lots []*Lot
	for _, lot := range m.lots {
		if lot.ProductID == productID && lot.CenterID == centerID {
			lots = append(lots, lot)
		}
	}
	return lots, nil
}

func (m *mockRepo) InsertMovement(_ context.Context, mov *Movement) error {
	mov.ID = uuid.New()
	mov.CreatedAt = time.Now()
	m.movements = append(m.movements, mov)
	return nil
}

func (m *mockRepo) ListMovements(_ context.Context, f MovementFilter, limit, offset int) ([]*Movement, int, error) {
	var movs []*Movement
	for _, mov := range m.movements {
		if f.ProductID != nil && mov.ProductID != *f.ProductID {
			continue
		}
		if f.LotID != nil && mov.LotID != *f.LotID {
			continue
		}
		if f.CenterID != nil && mov.CenterID != *f.CenterID {
			continue
		}
		movs = append(movs, mov)
	}
	return movs, len(movs), nil
}

func (m *mockRepo) SumMovements(_ context.Context, productID string, centerID uuid.UUID) (int, error) {
	sum := 0
	for _, mov := range m.movements {
		if mov.ProductID == productID && mov.CenterID == centerID {
			sum += mov.Quantity
		}
	}
	return sum, nil
}

func (m *mockRepo) SumMovementsByLot(_ context.Context, lotID uuid.UUID) (int, error) {
	sum := 0
	for _, mov := range m.movements {
		if mov.LotID == lotID {
			sum += mov.Quantity
		}
	}
	return sum, nil
}

func (m *mockRepo) MarkExpired(_ context.Context, asOf time.Time) (int64, error) {
	var count int64
	for _, lot := range m.lots {
		if lot.ExpiryDate != nil && lot.ExpiryDate.Before(asOf) && lot.Status != LotExpired {
			lot.Status = LotExpired
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) ExpiringLots(_ context.Context, centerID *uuid.UUID, horizon time.Time) ([]*ExpiringLot, error) {
	var result []*ExpiringLot
	for _, lot := range m.lots {
		if lot.Quantity <= 0 || lot.Status != LotNormal || lot.ExpiryDate == nil {
			continue
		}
		if centerID != nil && lot.CenterID != *centerID {
			continue
		}
		if lot.ExpiryDate.After(horizon) {
			continue
		}
		days := int(time.Until(*lot.ExpiryDate).Hours() / 24)
		if days < 0 {
			days = 0
		}
		result = append(result, &ExpiringLot{Lot: lot, DaysRemaining: days})
	}
	return result, nil
}

func (m *mockRepo) LowStockLevels(_ context.Context, centerID *uuid.UUID) ([]*Level, error) {
	type key struct {
		product string
		center  uuid.UUID
	}
	quantities := make(map[key]int)
	thresholds := make(map[key]int)
	types := make(map[key]catalog.ProductType)
	for _, lot := range m.lots {
		if centerID != nil && lot.CenterID != *centerID {
			continue
		}
		k := key{lot.ProductID, lot.CenterID}
		quantities[k] += lot.Quantity
		thresholds[k] += lot.AlertThreshold
		types[k] = lot.ProductType
	}

	var levels []*Level
	for k, q := range quantities {
		if q > 0 && q <= thresholds[k] {
			levels = append(levels, &Level{
				ProductID:      k.product,
				ProductType:    types[k],
				CenterID:       k.center,
				Quantity:       q,
				ThresholdSum:   thresholds[k],
				Classification: Classify(q, thresholds[k]),
			})
		}
	}
	return levels, nil
}

func (m *mockRepo) ThresholdSum(_ context.Context, productID string, centerID uuid.UUID) (int, error) {
	sum := 0
	for _, lot := range m.lots {
		if lot.ProductID == productID && lot.CenterID == centerID {
			sum += lot.AlertThreshold
		}
	}
	return sum, nil
}

func (m *mockRepo) CreateDispensation(_ context.Context, d *Dispensation) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.dispensations = append(m.dispensations, d)
	return nil
}

func (m *mockRepo) ListDispensationsByLine(_ context.Context, lineID uuid.UUID) ([]*Dispensation, error) {
	var result []*Dispensation
	for _, d := range m.dispensations {
		if d.LineID == lineID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockRepo) ListDispensationsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispensation, int, error) {
	var result []*Dispensation
	for _, d := range m.dispensations {
		if d.PatientID == patientID {
			result = append(result, d)
		}
	}
	return result, len(result), nil
}

// -- Mock product resolver --

type mockResolver struct {
	products map[string]catalog.ProductType
}

func (m *mockResolver) ResolveProduct(_ context.Context, t catalog.ProductType, id string) (*catalog.ProductInfo, error) {
	registered, ok := m.products[id]
	if !ok || registered != t {
		return nil, apperror.New(apperror.InvalidProductReference, "product %s does not exist", id)
	}
	return &catalog.ProductInfo{ID: id, Type: t, Name: id}, nil
}

// -- Test helpers --

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	resolver := &mockResolver{products: map[string]catalog.ProductType{
		"PARA500": catalog.ProductMedicament,
		"AMOX250": catalog.ProductMedicament,
		"GLOVE-M": catalog.ProductDevice,
	}}
	return NewService(repo, resolver, nil), repo
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func receive(t *testing.T, svc *Service, center uuid.UUID, product, lotNumber string, qty int, expiry *time.Time) *Lot {
	t.Helper()
	result, err := svc.Receive(context.Background(), ReceiveInput{
		ProductID:   product,
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		Quantity:    qty,
		LotNumber:   lotNumber,
		ExpiryDate:  expiry,
	})
	if err != nil {
		t.Fatalf("receive %s: %v", lotNumber, err)
	}
	return result.Lot
}

// checkInvariant verifies that every lot's cached quantity equals the sum
// of the movements referencing it.
func checkInvariant(t *testing.T, repo *mockRepo) {
	t.Helper()
	for id, lot := range repo.lots {
		sum, _ := repo.SumMovementsByLot(context.Background(), id)
		if lot.Quantity != sum {
			t.Errorf("lot %s: cached quantity %d, movement sum %d", lot.LotNumber, lot.Quantity, sum)
		}
	}
}

// -- Receive --

func TestReceive_CreatesLotAndMovement(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	result, err := svc.Receive(context.Background(), ReceiveInput{
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		Quantity:    100,
		LotNumber:   "L1",
		ExpiryDate:  date("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Lot.Quantity != 100 {
		t.Errorf("expected lot quantity 100, got %d", result.Lot.Quantity)
	}
	if result.Movement.Type != MovementReception {
		t.Errorf("expected RECEPTION movement, got %s", result.Movement.Type)
	}
	if result.Movement.Quantity != 100 {
		t.Errorf("expected movement quantity +100, got %d", result.Movement.Quantity)
	}
	checkInvariant(t, repo)
}

func TestReceive_TopsUpExistingLot(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	receive(t, svc, center, "PARA500", "L1", 100, date("2025-01-01"))
	lot := receive(t, svc, center, "PARA500", "L1", 50, date("2025-01-01"))

	if lot.Quantity != 150 {
		t.Errorf("expected topped-up quantity 150, got %d", lot.Quantity)
	}
	if len(repo.movements) != 2 {
		t.Errorf("expected 2 movements, got %d", len(repo.movements))
	}
	checkInvariant(t, repo)
}

func TestReceive_RejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newTestService()
	for _, qty := range []int{0, -5} {
		_, err := svc.Receive(context.Background(), ReceiveInput{
			ProductID:   "PARA500",
			ProductType: catalog.ProductMedicament,
			CenterID:    uuid.New(),
			Quantity:    qty,
			LotNumber:   "L1",
		})
		if !apperror.IsKind(err, apperror.InvalidQuantity) {
			t.Errorf("quantity %d: expected InvalidQuantity, got %v", qty, err)
		}
	}
}

func TestReceive_RejectsUnknownProduct(t *testing.T) {
	svc, repo := newTestService()
	_, err := svc.Receive(context.Background(), ReceiveInput{
		ProductID:   "NOPE",
		ProductType: catalog.ProductMedicament,
		CenterID:    uuid.New(),
		Quantity:    10,
		LotNumber:   "L1",
	})
	if !apperror.IsKind(err, apperror.InvalidProductReference) {
		t.Errorf("expected InvalidProductReference, got %v", err)
	}
	if len(repo.movements) != 0 {
		t.Error("expected no movements after rejected receive")
	}
}

// -- Dispense --

// Receive 100 units of L1 expiring 2025-01-01 and 50 units of L2 expiring
// 2025-06-01, dispense 120: expect -100 against L1 and -20 against L2.
func TestDispense_EarliestExpiryFirst(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	l1 := receive(t, svc, center, "PARA500", "L1", 100, date("2025-01-01"))
	l2 := receive(t, svc, center, "PARA500", "L2", 50, date("2025-06-01"))

	debits, err := svc.Dispense(context.Background(), DispenseInput{
		LineID:      uuid.New(),
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   uuid.New(),
		Quantity:    120,
		ActorID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(debits) != 2 {
		t.Fatalf("expected 2 debits, got %d", len(debits))
	}
	if debits[0].LotNumber != "L1" || debits[0].Quantity != 100 {
		t.Errorf("expected first debit L1/100, got %s/%d", debits[0].LotNumber, debits[0].Quantity)
	}
	if debits[1].LotNumber != "L2" || debits[1].Quantity != 20 {
		t.Errorf("expected second debit L2/20, got %s/%d", debits[1].LotNumber, debits[1].Quantity)
	}
	if repo.lots[l1.ID].Quantity != 0 {
		t.Errorf("expected L1 emptied, got %d", repo.lots[l1.ID].Quantity)
	}
	if repo.lots[l2.ID].Quantity != 30 {
		t.Errorf("expected L2 at 30, got %d", repo.lots[l2.ID].Quantity)
	}
	checkInvariant(t, repo)
}

func TestDispense_TieBreakOnLotNumber(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	receive(t, svc, center, "PARA500", "B2", 50, date("2025-03-01"))
	receive(t, svc, center, "PARA500", "A1", 50, date("2025-03-01"))

	debits, err := svc.Dispense(context.Background(), DispenseInput{
		LineID:      uuid.New(),
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   uuid.New(),
		Quantity:    60,
		ActorID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if debits[0].LotNumber != "A1" || debits[0].Quantity != 50 {
		t.Errorf("expected A1 consumed first, got %s/%d", debits[0].LotNumber, debits[0].Quantity)
	}
	if debits[1].LotNumber != "B2" || debits[1].Quantity != 10 {
		t.Errorf("expected B2 second, got %s/%d", debits[1].LotNumber, debits[1].Quantity)
	}
	checkInvariant(t, repo)
}

func TestDispense_NullExpiryLast(t *testing.T) {
	svc, _ := newTestService()
	center := uuid.New()

	receive(t, svc, center, "PARA500", "NOEXP", 50, nil)
	receive(t, svc, center, "PARA500", "DATED", 50, date("2026-01-01"))

	debits, err := svc.Dispense(context.Background(), DispenseInput{
		LineID:      uuid.New(),
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   uuid.New(),
		Quantity:    60,
		ActorID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if debits[0].LotNumber != "DATED" {
		t.Errorf("expected dated lot consumed before undated one, got %s", debits[0].LotNumber)
	}
}

func TestDispense_InsufficientStockIsAtomic(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	lot := receive(t, svc, center, "PARA500", "L1", 50, date("2025-01-01"))
	movementsBefore := len(repo.movements)

	_, err := svc.Dispense(context.Background(), DispenseInput{
		LineID:      uuid.New(),
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   uuid.New(),
		Quantity:    80,
		ActorID:     uuid.New(),
	})
	if !apperror.IsKind(err, apperror.InsufficientStock) {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}

	if len(repo.movements) != movementsBefore {
		t.Error("expected no movements written on failed dispense")
	}
	if repo.lots[lot.ID].Quantity != 50 {
		t.Errorf("expected lot untouched at 50, got %d", repo.lots[lot.ID].Quantity)
	}
	checkInvariant(t, repo)
}

// Two dispensations of 60 against a lot of 100: the first succeeds, the
// second fails, and the final quantity is 100 minus the successful debit.
func TestDispense_SerializedOversellAttempt(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	lot := receive(t, svc, center, "PARA500", "L1", 100, date("2025-01-01"))

	in := DispenseInput{
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   uuid.New(),
		Quantity:    60,
		ActorID:     uuid.New(),
	}
	in.LineID = uuid.New()
	if _, err := svc.Dispense(context.Background(), in); err != nil {
		t.Fatalf("first dispense failed: %v", err)
	}

	in.LineID = uuid.New()
	_, err := svc.Dispense(context.Background(), in)
	if !apperror.IsKind(err, apperror.InsufficientStock) {
		t.Fatalf("expected InsufficientStock on second dispense, got %v", err)
	}

	if repo.lots[lot.ID].Quantity != 40 {
		t.Errorf("expected final quantity 40, got %d", repo.lots[lot.ID].Quantity)
	}
	checkInvariant(t, repo)
}

func TestDispense_CreatesDispensationRecords(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()
	lineID := uuid.New()
	patientID := uuid.New()

	receive(t, svc, center, "PARA500", "L1", 100, date("2025-01-01"))

	debits, err := svc.Dispense(context.Background(), DispenseInput{
		LineID:      lineID,
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   patientID,
		Quantity:    30,
		ActorID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	disps, _ := repo.ListDispensationsByLine(context.Background(), lineID)
	if len(disps) != 1 {
		t.Fatalf("expected 1 dispensation record, got %d", len(disps))
	}
	if disps[0].MovementID != debits[0].MovementID {
		t.Error("expected dispensation tied to its debit movement")
	}
	if disps[0].Quantity != 30 {
		t.Errorf("expected dispensation quantity 30, got %d", disps[0].Quantity)
	}
}

func TestDispenseFromLot_ExplicitPartial(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	lot := receive(t, svc, center, "PARA500", "L1", 40, date("2025-01-01"))

	// The pool is short of 60, but the caller explicitly takes the 40
	// this lot holds.
	debit, err := svc.DispenseFromLot(context.Background(), lot.ID, DispenseInput{
		LineID:    uuid.New(),
		PatientID: uuid.New(),
		Quantity:  40,
		ActorID:   uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if debit.Quantity != 40 {
		t.Errorf("expected debit of 40, got %d", debit.Quantity)
	}
	if repo.lots[lot.ID].Quantity != 0 {
		t.Errorf("expected lot emptied, got %d", repo.lots[lot.ID].Quantity)
	}
	checkInvariant(t, repo)
}

func TestDispenseFromLot_OverLotQuantity(t *testing.T) {
	svc, _ := newTestService()
	center := uuid.New()

	lot := receive(t, svc, center, "PARA500", "L1", 40, date("2025-01-01"))

	_, err := svc.DispenseFromLot(context.Background(), lot.ID, DispenseInput{
		LineID:    uuid.New(),
		PatientID: uuid.New(),
		Quantity:  50,
		ActorID:   uuid.New(),
	})
	if !apperror.IsKind(err, apperror.InsufficientStock) {
		t.Errorf("expected InsufficientStock, got %v", err)
	}
}

// -- Adjust --

func TestAdjust_CorrectionInAndOut(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()
	lot := receive(t, svc, center, "PARA500", "L1", 100, date("2025-01-01"))

	mov, err := svc.Adjust(context.Background(), lot.ID, 5, "inventory recount", uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mov.Type != MovementCorrectionIn {
		t.Errorf("expected CORRECTION_IN, got %s", mov.Type)
	}

	mov, err = svc.Adjust(context.Background(), lot.ID, -15, "breakage", uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mov.Type != MovementCorrectionOut {
		t.Errorf("expected CORRECTION_OUT, got %s", mov.Type)
	}

	if repo.lots[lot.ID].Quantity != 90 {
		t.Errorf("expected quantity 90, got %d", repo.lots[lot.ID].Quantity)
	}
	checkInvariant(t, repo)
}

func TestAdjust_RejectsNegativeResult(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()
	lot := receive(t, svc, center, "PARA500", "L1", 10, date("2025-01-01"))

	_, err := svc.Adjust(context.Background(), lot.ID, -11, "bad count", uuid.New())
	if !apperror.IsKind(err, apperror.InvalidAdjustment) {
		t.Errorf("expected InvalidAdjustment, got %v", err)
	}
	if repo.lots[lot.ID].Quantity != 10 {
		t.Errorf("expected quantity untouched at 10, got %d", repo.lots[lot.ID].Quantity)
	}
}

func TestAdjust_RejectsZeroDelta(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Adjust(context.Background(), uuid.New(), 0, "", uuid.New())
	if !apperror.IsKind(err, apperror.InvalidQuantity) {
		t.Errorf("expected InvalidQuantity, got %v", err)
	}
}

// -- Expiry --

// markExpiredLots flips the status but leaves the quantity alone: no
// implicit write-off.
func TestMarkExpiredLots_StatusOnly(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()
	lot := receive(t, svc, center, "PARA500", "L1", 10, date("2025-06-01"))
	movementsBefore := len(repo.movements)

	count, err := svc.MarkExpiredLots(context.Background(), *date("2025-07-01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 lot flipped, got %d", count)
	}
	if repo.lots[lot.ID].Status != LotExpired {
		t.Errorf("expected status EXPIRED, got %s", repo.lots[lot.ID].Status)
	}
	if repo.lots[lot.ID].Quantity != 10 {
		t.Errorf("expected quantity untouched at 10, got %d", repo.lots[lot.ID].Quantity)
	}
	if len(repo.movements) != movementsBefore {
		t.Error("expected no movement created by markExpiredLots")
	}
}

func TestWriteOffExpired(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()
	lot := receive(t, svc, center, "PARA500", "L1", 10, date("2025-06-01"))

	if _, err := svc.MarkExpiredLots(context.Background(), *date("2025-07-01")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mov, err := svc.WriteOffExpired(context.Background(), lot.ID, uuid.New(), "quarterly destruction")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mov.Type != MovementExpiryWriteOff {
		t.Errorf("expected EXPIRY_WRITE_OFF, got %s", mov.Type)
	}
	if mov.Quantity != -10 {
		t.Errorf("expected movement -10, got %d", mov.Quantity)
	}
	if repo.lots[lot.ID].Quantity != 0 {
		t.Errorf("expected lot zeroed, got %d", repo.lots[lot.ID].Quantity)
	}
	checkInvariant(t, repo)
}

func TestWriteOffExpired_RejectsDispensableLot(t *testing.T) {
	svc, _ := newTestService()
	center := uuid.New()
	lot := receive(t, svc, center, "PARA500", "L1", 10, date("2099-01-01"))

	_, err := svc.WriteOffExpired(context.Background(), lot.ID, uuid.New(), "")
	if !apperror.IsKind(err, apperror.InvalidAdjustment) {
		t.Errorf("expected InvalidAdjustment, got %v", err)
	}
}

// -- Delete --

func TestDeleteLot_CompensatingMovement(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()
	lot := receive(t, svc, center, "PARA500", "L1", 30, date("2025-01-01"))

	if err := svc.DeleteLot(context.Background(), lot.ID, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := repo.lots[lot.ID]; ok {
		t.Error("expected lot removed")
	}
	// The ledger remains reconcilable: + 30 reception, -30 compensation.
	sum, _ := repo.SumMovementsByLot(context.Background(), lot.ID)
	if sum != 0 {
		t.Errorf("expected movement sum 0 after delete, got %d", sum)
	}

	last := repo.movements[len(repo.movements)-1]
	if last.Type != MovementAdjustment || last.Quantity != -30 {
		t.Errorf("expected compensating ADJUSTMENT of -30, got %s/%d", last.Type, last.Quantity)
	}
}

func TestDeleteLot_EmptyLotNoCompensation(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()
	lot := receive(t, svc, center, "PARA500", "L1", 20, date("2025-01-01"))

	if _, err := svc.Adjust(context.Background(), lot.ID, -20, "emptied", uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	movementsBefore := len(repo.movements)

	if err := svc.DeleteLot(context.Background(), lot.ID, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.movements) != movementsBefore {
		t.Error("expected no compensating movement for an empty lot")
	}
}

// -- Levels --

func TestProductLevel_Classification(t *testing.T) {
	svc, _ := newTestService()
	center := uuid.New()

	// Two lots, thresholds default to 10 each.
	receive(t, svc, center, "PARA500", "L1", 100, date("2025-01-01"))
	receive(t, svc, center, "PARA500", "L2", 50, date("2025-06-01"))

	level, err := svc.ProductLevel(context.Background(), catalog.ProductMedicament, "PARA500", center)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level.Quantity != 150 {
		t.Errorf("expected quantity 150, got %d", level.Quantity)
	}
	if level.Classification != LevelNormal {
		t.Errorf("expected normal, got %s", level.Classification)
	}

	// Dispense down into the low band (threshold sum is 20).
	_, err = svc.Dispense(context.Background(), DispenseInput{
		LineID:      uuid.New(),
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   uuid.New(),
		Quantity:    135,
		ActorID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	level, err = svc.ProductLevel(context.Background(), catalog.ProductMedicament, "PARA500", center)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level.Quantity != 15 {
		t.Errorf("expected quantity 15, got %d", level.Quantity)
	}
	if level.Classification != LevelLowStock {
		t.Errorf("expected low-stock, got %s", level.Classification)
	}
}

func TestProductLevel_RejectsUnknownProduct(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.ProductLevel(context.Background(), catalog.ProductMedicament, "NOPE", uuid.New())
	if !apperror.IsKind(err, apperror.InvalidProductReference) {
		t.Errorf("expected InvalidProductReference, got %v", err)
	}
}

func TestLowStock(t *testing.T) {
	svc, _ := newTestService()
	center := uuid.New()

	receive(t, svc, center, "PARA500", "L1", 5, date("2025-01-01"))
	receive(t, svc, center, "AMOX250", "L9", 500, date("2025-01-01"))

	levels, err := svc.LowStock(context.Background(), &center)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("expected 1 low-stock product, got %d", len(levels))
	}
	if levels[0].ProductID != "PARA500" {
		t.Errorf("expected PARA500, got %s", levels[0].ProductID)
	}
}

// -- Invariant over a mixed sequence --

func TestLedgerInvariant_MixedOperations(t *testing.T) {
	svc, repo := newTestService()
	center := uuid.New()

	l1 := receive(t, svc, center, "PARA500", "L1", 100, date("2025-01-01"))
	receive(t, svc, center, "PARA500", "L2", 60, date("2025-06-01"))
	receive(t, svc, center, "PARA500", "L1", 40, date("2025-01-01"))

	if _, err := svc.Dispense(context.Background(), DispenseInput{
		LineID:      uuid.New(),
		ProductID:   "PARA500",
		ProductType: catalog.ProductMedicament,
		CenterID:    center,
		PatientID:   uuid.New(),
		Quantity:    150,
		ActorID:     uuid.New(),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Adjust(context.Background(), l1.ID, 7, "recount", uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Adjust(context.Background(), l1.ID, -3, "breakage", uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checkInvariant(t, repo)

	sum, _ := repo.SumMovements(context.Background(), "PARA500", center)
	total := 0
	for _, lot := range repo.lots {
		total += lot.Quantity
	}
	if sum != total {
		t.Errorf("product movement sum %d != total lot quantity %d", sum, total)
	}
}
