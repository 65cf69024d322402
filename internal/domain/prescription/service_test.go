package prescription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/domain/catalog"
	"github.com/his/his/internal/domain/consultation"
	"github.com/his/his/internal/domain/stock"
	"github.com/his/his/internal/platform/apperror"
)

type mockRepo struct {
	prescriptions map[uuid.UUID]*Prescription
	lines         map[uuid.UUID]*Line
	exams         map[uuid.UUID]*Exam
	patientOf     map[uuid.UUID]uuid.UUID // consultation id -> patient id
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		prescriptions: make(map[uuid.UUID]*Prescription),
		lines:         make(map[uuid.UUID]*Line),
		exams:         make(map[uuid.UUID]*Exam),
		patientOf:     make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockRepo) CreatePrescription(_ context.Context, p *Prescription) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	clone := *p
	clone.Lines, clone.Exams = nil, nil
	m.prescriptions[p.ID] = &clone
	return nil
}

func (m *mockRepo) CreateLine(_ context.Context, l *Line) error {
	l.ID = uuid.New()
	l.CreatedAt = time.Now().UTC()
	clone := *l
	m.lines[l.ID] = &clone
	return nil
}

func (m *mockRepo) CreateExam(_ context.Context, e *Exam) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()
	clone := *e
	m.exams[e.ID] = &clone
	return nil
}

func (m *mockRepo) GetPrescription(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "prescription %s not found", id)
	}
	clone := *p
	return &clone, nil
}

func (m *mockRepo) GetLines(_ context.Context, prescriptionID uuid.UUID) ([]*Line, error) {
	var out []*Line
	for _, l := range m.lines {
		if l.PrescriptionID == prescriptionID {
			clone := *l
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockRepo) GetExams(_ context.Context, prescriptionID uuid.UUID) ([]*Exam, error) {
	var out []*Exam
	for _, e := range m.exams {
		if e.PrescriptionID == prescriptionID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockRepo) GetLine(_ context.Context, id uuid.UUID) (*Line, error) {
	l, ok := m.lines[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "prescription line %s not found", id)
	}
	clone := *l
	return &clone, nil
}

func (m *mockRepo) GetLineForUpdate(ctx context.Context, id uuid.UUID) (*Line, error) {
	return m.GetLine(ctx, id)
}

func (m *mockRepo) GetExam(_ context.Context, id uuid.UUID) (*Exam, error) {
	e, ok := m.exams[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "exam order %s not found", id)
	}
	clone := *e
	return &clone, nil
}

func (m *mockRepo) UpdateLineFulfillment(_ context.Context, id uuid.UUID, dispensed int, status Status) error {
	l, ok := m.lines[id]
	if !ok {
		return apperror.New(apperror.NotFound, "prescription line %s not found", id)
	}
	l.QuantityDispensed = dispensed
	l.Status = status
	return nil
}

func (m *mockRepo) UpdatePrescriptionStatus(_ context.Context, id uuid.UUID, status Status) error {
	p, ok := m.prescriptions[id]
	if !ok {
		return apperror.New(apperror.NotFound, "prescription %s not found", id)
	}
	p.Status = status
	return nil
}

func (m *mockRepo) UpdateExamStatus(_ context.Context, id uuid.UUID, status ExamStatus) error {
	e, ok := m.exams[id]
	if !ok {
		return apperror.New(apperror.NotFound, "exam order %s not found", id)
	}
	e.Status = status
	return nil
}

func (m *mockRepo) ListByConsultation(_ context.Context, consultationID uuid.UUID) ([]*Prescription, error) {
	var out []*Prescription
	for _, p := range m.prescriptions {
		if p.ConsultationID == consultationID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockRepo) ListByProfessional(_ context.Context, professionalID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.prescriptions {
		if p.ProfessionalID == professionalID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.prescriptions {
		if m.patientOf[p.ConsultationID] == patientID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListExamsByStatus(_ context.Context, status ExamStatus) ([]*Exam, error) {
	var out []*Exam
	for _, e := range m.exams {
		if e.Status == status {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

type mockWorkflow struct {
	cons map[uuid.UUID]*consultation.Consultation
}

func (m *mockWorkflow) Get(_ context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	c, ok := m.cons[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "consultation %s not found", id)
	}
	clone := *c
	return &clone, nil
}

// mockLedger carries per-product lots already in earliest-expiry-first
// order and debits them the way the stock service does.
type mockLot struct {
	id       uuid.UUID
	number   string
	quantity int
}

type mockLedger struct {
	lots map[string][]*mockLot
}

func (m *mockLedger) Dispense(_ context.Context, in stock.DispenseInput) ([]stock.LotDebit, error) {
	lots := m.lots[in.ProductID]
	available := 0
	for _, lot := range lots {
		available += lot.quantity
	}
	if available < in.Quantity {
		return nil, apperror.New(apperror.InsufficientStock,
			"product %s: requested %d, available %d", in.ProductID, in.Quantity, available)
	}

	var debits []stock.LotDebit
	remaining := in.Quantity
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := lot.quantity
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		lot.quantity -= take
		remaining -= take
		debits = append(debits, stock.LotDebit{
			LotID:      lot.id,
			LotNumber:  lot.number,
			MovementID: uuid.New(),
			Quantity:   take,
		})
	}
	return debits, nil
}

func (m *mockLedger) DispenseFromLot(_ context.Context, lotID uuid.UUID, in stock.DispenseInput) (*stock.LotDebit, error) {
	for _, lots := range m.lots {
		for _, lot := range lots {
			if lot.id != lotID {
				continue
			}
			if lot.quantity < in.Quantity {
				return nil, apperror.New(apperror.InsufficientStock,
					"lot %s: requested %d, available %d", lot.number, in.Quantity, lot.quantity)
			}
			lot.quantity -= in.Quantity
			return &stock.LotDebit{
				LotID:      lot.id,
				LotNumber:  lot.number,
				MovementID: uuid.New(),
				Quantity:   in.Quantity,
			}, nil
		}
	}
	return nil, apperror.New(apperror.NotFound, "lot %s not found", lotID)
}

type mockResolver struct {
	known map[string]catalog.ProductType
}

func (m *mockResolver) ResolveProduct(_ context.Context, productType catalog.ProductType, id string) (*catalog.ProductInfo, error) {
	t, ok := m.known[id]
	if !ok || t != productType {
		return nil, apperror.New(apperror.InvalidProductReference, "unknown product %s of type %s", id, productType)
	}
	return &catalog.ProductInfo{ID: id, Type: t, Name: id}, nil
}

type fixture struct {
	svc    *Service
	repo   *mockRepo
	wf     *mockWorkflow
	ledger *mockLedger
	consID uuid.UUID
}

func newFixture(t *testing.T, status consultation.Status) *fixture {
	t.Helper()
	repo := newMockRepo()
	consID := uuid.New()
	wf := &mockWorkflow{cons: map[uuid.UUID]*consultation.Consultation{
		consID: {
			ID:        consID,
			PatientID: uuid.New(),
			CenterID:  uuid.New(),
			Status:    status,
		},
	}}
	repo.patientOf[consID] = wf.cons[consID].PatientID
	ledger := &mockLedger{lots: map[string][]*mockLot{
		"PARA500": {
			{id: uuid.New(), number: "L1", quantity: 100},
			{id: uuid.New(), number: "L2", quantity: 50},
		},
	}}
	resolver := &mockResolver{known: map[string]catalog.ProductType{
		"PARA500": catalog.ProductMedicament,
		"AMOX250": catalog.ProductMedicament,
	}}
	return &fixture{
		svc:    NewService(repo, wf, ledger, resolver, nil),
		repo:   repo,
		wf:     wf,
		ledger: ledger,
		consID: consID,
	}
}

func (f *fixture) prescribe(t *testing.T, lines ...LineInput) *Prescription {
	t.Helper()
	p, err := f.svc.Create(context.Background(), CreateInput{
		ConsultationID: f.consID,
		ProfessionalID: uuid.New(),
		Lines:          lines,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestCreate_RejectedUnlessInProgress(t *testing.T) {
	f := newFixture(t, consultation.StatusAwaitingVitals)

	_, err := f.svc.Create(context.Background(), CreateInput{
		ConsultationID: f.consID,
		ProfessionalID: uuid.New(),
	})
	if !apperror.IsKind(err, apperror.InvalidTransition) {
		t.Fatalf("got %v, want InvalidTransition", err)
	}

	// Once the clinician has the patient in the room, prescribing works.
	f.wf.cons[f.consID].Status = consultation.StatusInProgress
	p, err := f.svc.Create(context.Background(), CreateInput{
		ConsultationID: f.consID,
		ProfessionalID: uuid.New(),
		Lines:          []LineInput{{ProductID: "PARA500", ProductType: catalog.ProductMedicament, Quantity: 150}},
	})
	if err != nil {
		t.Fatalf("Create after IN_PROGRESS: %v", err)
	}
	if p.Status != StatusPrescribed {
		t.Errorf("status = %s, want %s", p.Status, StatusPrescribed)
	}
	if len(p.Lines) != 1 || p.Lines[0].Status != StatusPrescribed {
		t.Errorf("line not created as PRESCRIBED")
	}
}

func TestCreate_RejectsUnknownProductBeforeAnyWrite(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)

	_, err := f.svc.Create(context.Background(), CreateInput{
		ConsultationID: f.consID,
		ProfessionalID: uuid.New(),
		Lines: []LineInput{
			{ProductID: "PARA500", ProductType: catalog.ProductMedicament, Quantity: 10},
			{ProductID: "NOPE999", ProductType: catalog.ProductMedicament, Quantity: 5},
		},
	})
	if !apperror.IsKind(err, apperror.InvalidProductReference) {
		t.Fatalf("got %v, want InvalidProductReference", err)
	}
	if len(f.repo.prescriptions) != 0 || len(f.repo.lines) != 0 {
		t.Error("partial prescription persisted")
	}
}

func TestCreate_RequiresConsultationAndProfessional(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)

	_, err := f.svc.Create(context.Background(), CreateInput{ProfessionalID: uuid.New()})
	if !apperror.IsKind(err, apperror.MissingRequiredField) {
		t.Errorf("missing consultation: got %v, want MissingRequiredField", err)
	}
	_, err = f.svc.Create(context.Background(), CreateInput{ConsultationID: f.consID})
	if !apperror.IsKind(err, apperror.MissingRequiredField) {
		t.Errorf("missing professional: got %v, want MissingRequiredField", err)
	}
}

func TestCreate_ExamsOnly(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)

	p, err := f.svc.Create(context.Background(), CreateInput{
		ConsultationID: f.consID,
		ProfessionalID: uuid.New(),
		Exams: []ExamInput{
			{ExamType: "hematology", ExamName: "Complete blood count"},
			{ExamType: "imaging", ExamName: "Chest X-ray", Priority: PriorityUrgent},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(p.Exams) != 2 {
		t.Fatalf("got %d exams, want 2", len(p.Exams))
	}
	if p.Exams[0].Status != ExamRequested {
		t.Errorf("exam status = %s, want %s", p.Exams[0].Status, ExamRequested)
	}
	if p.Exams[0].Priority != PriorityNormal {
		t.Errorf("default priority = %s, want %s", p.Exams[0].Priority, PriorityNormal)
	}
}

func TestAddLine_GatedOnInProgress(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)
	p := f.prescribe(t)

	f.wf.cons[f.consID].Status = consultation.StatusDone
	_, err := f.svc.AddLine(context.Background(), p.ID, LineInput{
		ProductID: "AMOX250", ProductType: catalog.ProductMedicament, Quantity: 20,
	})
	if !apperror.IsKind(err, apperror.InvalidTransition) {
		t.Fatalf("got %v, want InvalidTransition", err)
	}
}

func TestDispenseLine_AcrossLotsAndStatusDerivation(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)
	p := f.prescribe(t, LineInput{ProductID: "PARA500", ProductType: catalog.ProductMedicament, Quantity: 150})
	line := p.Lines[0]
	actor := uuid.New()

	result, err := f.svc.DispenseLine(context.Background(), line.ID, 120, actor, nil)
	if err != nil {
		t.Fatalf("DispenseLine: %v", err)
	}
	if len(result.Debits) != 2 {
		t.Fatalf("got %d debits, want 2", len(result.Debits))
	}
	if result.Debits[0].LotNumber != "L1" || result.Debits[0].Quantity != 100 {
		t.Errorf("first debit = %s/%d, want L1/100", result.Debits[0].LotNumber, result.Debits[0].Quantity)
	}
	if result.Debits[1].LotNumber != "L2" || result.Debits[1].Quantity != 20 {
		t.Errorf("second debit = %s/%d, want L2/20", result.Debits[1].LotNumber, result.Debits[1].Quantity)
	}
	if result.LineStatus != StatusPartiallyDispensed {
		t.Errorf("line status = %s, want %s", result.LineStatus, StatusPartiallyDispensed)
	}
	if got := f.repo.prescriptions[p.ID].Status; got != StatusPartiallyDispensed {
		t.Errorf("prescription status = %s, want %s", got, StatusPartiallyDispensed)
	}

	// Handing over the remaining 30 completes the line and the
	// prescription.
	result, err = f.svc.DispenseLine(context.Background(), line.ID, 30, actor, nil)
	if err != nil {
		t.Fatalf("second DispenseLine: %v", err)
	}
	if result.LineStatus != StatusDispensed {
		t.Errorf("line status = %s, want %s", result.LineStatus, StatusDispensed)
	}
	if got := f.repo.prescriptions[p.ID].Status; got != StatusDispensed {
		t.Errorf("prescription status = %s, want %s", got, StatusDispensed)
	}
}

func TestDispenseLine_RejectsMoreThanOpenQuantity(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)
	p := f.prescribe(t, LineInput{ProductID: "PARA500", ProductType: catalog.ProductMedicament, Quantity: 50})

	_, err := f.svc.DispenseLine(context.Background(), p.Lines[0].ID, 60, uuid.New(), nil)
	if !apperror.IsKind(err, apperror.InvalidQuantity) {
		t.Fatalf("got %v, want InvalidQuantity", err)
	}
	if f.ledger.lots["PARA500"][0].quantity != 100 {
		t.Error("ledger debited despite rejected request")
	}
}

func TestDispenseLine_InsufficientStockLeavesLineUntouched(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)
	p := f.prescribe(t, LineInput{ProductID: "PARA500", ProductType: catalog.ProductMedicament, Quantity: 500})

	_, err := f.svc.DispenseLine(context.Background(), p.Lines[0].ID, 200, uuid.New(), nil)
	if !apperror.IsKind(err, apperror.InsufficientStock) {
		t.Fatalf("got %v, want InsufficientStock", err)
	}
	line := f.repo.lines[p.Lines[0].ID]
	if line.Status != StatusPrescribed || line.QuantityDispensed != 0 {
		t.Errorf("line settled despite failed dispensation: %s/%d", line.Status, line.QuantityDispensed)
	}
}

func TestDispenseLineFromLot_ExplicitPartial(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)
	p := f.prescribe(t, LineInput{ProductID: "PARA500", ProductType: catalog.ProductMedicament, Quantity: 150})
	lotL2 := f.ledger.lots["PARA500"][1]

	result, err := f.svc.DispenseLineFromLot(context.Background(), p.Lines[0].ID, lotL2.id, 30, uuid.New(), nil)
	if err != nil {
		t.Fatalf("DispenseLineFromLot: %v", err)
	}
	if len(result.Debits) != 1 || result.Debits[0].LotNumber != "L2" || result.Debits[0].Quantity != 30 {
		t.Errorf("debit = %+v, want 30 from L2", result.Debits)
	}
	if result.LineStatus != StatusPartiallyDispensed {
		t.Errorf("line status = %s, want %s", result.LineStatus, StatusPartiallyDispensed)
	}
	if f.ledger.lots["PARA500"][0].quantity != 100 {
		t.Error("untargeted lot was debited")
	}
}

func TestUpdateExamStatus_Workflow(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)
	p, err := f.svc.Create(context.Background(), CreateInput{
		ConsultationID: f.consID,
		ProfessionalID: uuid.New(),
		Exams:          []ExamInput{{ExamType: "hematology", ExamName: "Malaria smear"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	examID := p.Exams[0].ID

	// REQUESTED -> COMPLETED skips the bench work and is illegal.
	_, err = f.svc.UpdateExamStatus(context.Background(), examID, ExamCompleted)
	if !apperror.IsKind(err, apperror.InvalidTransition) {
		t.Fatalf("got %v, want InvalidTransition", err)
	}

	if _, err := f.svc.UpdateExamStatus(context.Background(), examID, ExamInProgress); err != nil {
		t.Fatalf("to IN_PROGRESS: %v", err)
	}
	// Retrying the same move is a no-op success.
	if _, err := f.svc.UpdateExamStatus(context.Background(), examID, ExamInProgress); err != nil {
		t.Fatalf("retry to IN_PROGRESS: %v", err)
	}
	exam, err := f.svc.UpdateExamStatus(context.Background(), examID, ExamCompleted)
	if err != nil {
		t.Fatalf("to COMPLETED: %v", err)
	}
	if exam.Status != ExamCompleted {
		t.Errorf("status = %s, want %s", exam.Status, ExamCompleted)
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		dispensed, prescribed int
		want                  Status
	}{
		{0, 10, StatusPrescribed},
		{3, 10, StatusPartiallyDispensed},
		{10, 10, StatusDispensed},
		{0, 0, StatusPrescribed},
	}
	for _, tc := range cases {
		if got := deriveStatus(tc.dispensed, tc.prescribed); got != tc.want {
			t.Errorf("deriveStatus(%d, %d) = %s, want %s", tc.dispensed, tc.prescribed, got, tc.want)
		}
	}
}

func TestListByPatient_ResolvesThroughConsultation(t *testing.T) {
	f := newFixture(t, consultation.StatusInProgress)
	if _, err := f.svc.Create(context.Background(), CreateInput{
		ConsultationID: f.consID,
		ProfessionalID: uuid.New(),
		Lines:          []LineInput{{ProductID: "PARA500", ProductType: catalog.ProductMedicament, Quantity: 10}},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	patientID := f.wf.cons[f.consID].PatientID
	out, total, err := f.svc.ListByPatient(context.Background(), patientID, 20, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 1 || len(out) != 1 {
		t.Fatalf("total = %d, len = %d, want 1 and 1", total, len(out))
	}

	out, total, err = f.svc.ListByPatient(context.Background(), uuid.New(), 20, 0)
	if err != nil {
		t.Fatalf("ListByPatient (other patient): %v", err)
	}
	if total != 0 || len(out) != 0 {
		t.Fatalf("total = %d, len = %d, want 0 and 0", total, len(out))
	}
}
