package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/his/his/internal/domain/catalog"
	"github.com/his/his/internal/domain/consultation"
	"github.com/his/his/internal/domain/stock"
	"github.com/his/his/internal/platform/apperror"
	"github.com/his/his/internal/platform/db"
)

// Workflow is the slice of the consultation service prescribing needs:
// the owning consultation's current state, patient and center.
type Workflow interface {
	Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
}

// Ledger is the slice of the stock service dispensation needs. Debits run
// inside the caller's transaction so line fulfillment and lot movements
// commit together.
type Ledger interface {
	Dispense(ctx context.Context, in stock.DispenseInput) ([]stock.LotDebit, error)
	DispenseFromLot(ctx context.Context, lotID uuid.UUID, in stock.DispenseInput) (*stock.LotDebit, error)
}

// ProductResolver validates line product references against the catalog.
type ProductResolver interface {
	ResolveProduct(ctx context.Context, productType catalog.ProductType, id string) (*catalog.ProductInfo, error)
}

type Service struct {
	repo     Repository
	workflow Workflow
	ledger   Ledger
	products ProductResolver
	pool     *pgxpool.Pool
}

func NewService(repo Repository, workflow Workflow, ledger Ledger, products ProductResolver, pool *pgxpool.Pool) *Service {
	return &Service{repo: repo, workflow: workflow, ledger: ledger, products: products, pool: pool}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.InTx(ctx, s.pool, fn)
}

// LineInput is one medicament entry of a new prescription.
type LineInput struct {
	ProductID    string              `json:"product_id"`
	ProductType  catalog.ProductType `json:"product_type"`
	Posology     *string             `json:"posology,omitempty"`
	Quantity     int                 `json:"quantity"`
	DurationDays *int                `json:"duration_days,omitempty"`
	Notes        *string             `json:"notes,omitempty"`
}

// ExamInput is one exam order of a new prescription.
type ExamInput struct {
	ExamType     string       `json:"exam_type"`
	ExamName     string       `json:"exam_name"`
	Instructions *string      `json:"instructions,omitempty"`
	Priority     ExamPriority `json:"priority,omitempty"`
}

// CreateInput is a complete new prescription. Lines and exams are both
// optional, a prescription is never required to have both.
type CreateInput struct {
	ConsultationID uuid.UUID   `json:"consultation_id"`
	ProfessionalID uuid.UUID   `json:"professional_id"`
	Notes          *string     `json:"notes,omitempty"`
	Lines          []LineInput `json:"lines,omitempty"`
	Exams          []ExamInput `json:"exams,omitempty"`
}

// Create writes the prescription with all its lines and exam orders as
// one unit: all rows commit or none do. Prescribing is only allowed
// while the owning consultation is IN_PROGRESS.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Prescription, error) {
	if in.ConsultationID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "consultation_id is required")
	}
	if in.ProfessionalID == uuid.Nil {
		return nil, apperror.New(apperror.MissingRequiredField, "professional_id is required")
	}
	for i := range in.Exams {
		if in.Exams[i].ExamName == "" {
			return nil, apperror.New(apperror.MissingRequiredField, "exam_name is required")
		}
		if in.Exams[i].Priority == "" {
			in.Exams[i].Priority = PriorityNormal
		}
		if _, err := ParseExamPriority(string(in.Exams[i].Priority)); err != nil {
			return nil, err
		}
	}

	p := &Prescription{
		ConsultationID: in.ConsultationID,
		ProfessionalID: in.ProfessionalID,
		Status:         StatusPrescribed,
		PrescribedAt:   time.Now().UTC(),
		Notes:          in.Notes,
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.requireInProgress(ctx, in.ConsultationID); err != nil {
			return err
		}

		for _, li := range in.Lines {
			if err := s.validateLine(ctx, li); err != nil {
				return err
			}
		}

		if err := s.repo.CreatePrescription(ctx, p); err != nil {
			return err
		}
		for _, li := range in.Lines {
			line := newLine(p.ID, li)
			if err := s.repo.CreateLine(ctx, line); err != nil {
				return err
			}
			p.Lines = append(p.Lines, line)
		}
		now := time.Now().UTC()
		for _, ei := range in.Exams {
			exam := &Exam{
				PrescriptionID: p.ID,
				ExamType:       ei.ExamType,
				ExamName:       ei.ExamName,
				Instructions:   ei.Instructions,
				Priority:       ei.Priority,
				Status:         ExamRequested,
				RequestedAt:    now,
			}
			if err := s.repo.CreateExam(ctx, exam); err != nil {
				return err
			}
			p.Exams = append(p.Exams, exam)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddLine appends one line to an existing prescription, under the same
// IN_PROGRESS gate as creation.
func (s *Service) AddLine(ctx context.Context, prescriptionID uuid.UUID, in LineInput) (*Line, error) {
	var line *Line
	err := s.inTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if err := s.requireInProgress(ctx, p.ConsultationID); err != nil {
			return err
		}
		if err := s.validateLine(ctx, in); err != nil {
			return err
		}
		line = newLine(p.ID, in)
		return s.repo.CreateLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// AddExam appends one exam order to an existing prescription, under the
// same IN_PROGRESS gate as creation.
func (s *Service) AddExam(ctx context.Context, prescriptionID uuid.UUID, in ExamInput) (*Exam, error) {
	if in.ExamName == "" {
		return nil, apperror.New(apperror.MissingRequiredField, "exam_name is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if _, err := ParseExamPriority(string(in.Priority)); err != nil {
		return nil, err
	}

	var exam *Exam
	err := s.inTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if err := s.requireInProgress(ctx, p.ConsultationID); err != nil {
			return err
		}
		exam = &Exam{
			PrescriptionID: p.ID,
			ExamType:       in.ExamType,
			ExamName:       in.ExamName,
			Instructions:   in.Instructions,
			Priority:       in.Priority,
			Status:         ExamRequested,
			RequestedAt:    time.Now().UTC(),
		}
		return s.repo.CreateExam(ctx, exam)
	})
	if err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *Service) requireInProgress(ctx context.Context, consultationID uuid.UUID) error {
	cons, err := s.workflow.Get(ctx, consultationID)
	if err != nil {
		return err
	}
	if cons.Status != consultation.StatusInProgress {
		return apperror.New(apperror.InvalidTransition,
			"cannot prescribe on consultation in status %s", cons.Status)
	}
	return nil
}

func (s *Service) validateLine(ctx context.Context, in LineInput) error {
	if in.Quantity <= 0 {
		return apperror.New(apperror.InvalidQuantity, "prescribed quantity must be positive, got %d", in.Quantity)
	}
	if in.ProductID == "" {
		return apperror.New(apperror.MissingRequiredField, "product_id is required")
	}
	_, err := s.products.ResolveProduct(ctx, in.ProductType, in.ProductID)
	return err
}

func newLine(prescriptionID uuid.UUID, in LineInput) *Line {
	return &Line{
		PrescriptionID:     prescriptionID,
		ProductID:          in.ProductID,
		ProductType:        in.ProductType,
		Posology:           in.Posology,
		QuantityPrescribed: in.Quantity,
		DurationDays:       in.DurationDays,
		Notes:              in.Notes,
		Status:             StatusPrescribed,
	}
}

// DispenseResult reports one fulfillment step against a line.
type DispenseResult struct {
	Debits     []stock.LotDebit `json:"debits"`
	LineStatus Status           `json:"line_status"`
	Dispensed  int              `json:"quantity_dispensed"`
	Prescribed int              `json:"quantity_prescribed"`
}

// DispenseLine debits the requested quantity against the ledger,
// earliest expiry first, and updates the line's fulfillment status, all
// in one transaction. Requesting more than the line still has open fails
// with InvalidQuantity before any ledger write.
func (s *Service) DispenseLine(ctx context.Context, lineID uuid.UUID, quantity int, actorID uuid.UUID, notes *string) (*DispenseResult, error) {
	if quantity <= 0 {
		return nil, apperror.New(apperror.InvalidQuantity, "dispensed quantity must be positive, got %d", quantity)
	}

	var result DispenseResult
	err := s.inTx(ctx, func(ctx context.Context) error {
		line, cons, err := s.lineForDispense(ctx, lineID, quantity)
		if err != nil {
			return err
		}

		debits, err := s.ledger.Dispense(ctx, stock.DispenseInput{
			LineID:      line.ID,
			ProductID:   line.ProductID,
			ProductType: line.ProductType,
			CenterID:    cons.CenterID,
			PatientID:   cons.PatientID,
			Quantity:    quantity,
			ActorID:     actorID,
			Notes:       notes,
		})
		if err != nil {
			return err
		}
		result.Debits = debits
		return s.settleLine(ctx, line, quantity, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DispenseLineFromLot is the explicit partial-fulfillment path: the
// pharmacist names the lot and the exact quantity to take from it.
func (s *Service) DispenseLineFromLot(ctx context.Context, lineID, lotID uuid.UUID, quantity int, actorID uuid.UUID, notes *string) (*DispenseResult, error) {
	if quantity <= 0 {
		return nil, apperror.New(apperror.InvalidQuantity, "dispensed quantity must be positive, got %d", quantity)
	}

	var result DispenseResult
	err := s.inTx(ctx, func(ctx context.Context) error {
		line, cons, err := s.lineForDispense(ctx, lineID, quantity)
		if err != nil {
			return err
		}

		debit, err := s.ledger.DispenseFromLot(ctx, lotID, stock.DispenseInput{
			LineID:      line.ID,
			ProductID:   line.ProductID,
			ProductType: line.ProductType,
			CenterID:    cons.CenterID,
			PatientID:   cons.PatientID,
			Quantity:    quantity,
			ActorID:     actorID,
			Notes:       notes,
		})
		if err != nil {
			return err
		}
		result.Debits = []stock.LotDebit{*debit}
		return s.settleLine(ctx, line, quantity, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// lineForDispense locks the line, checks the open quantity and loads the
// owning consultation for its patient and center.
func (s *Service) lineForDispense(ctx context.Context, lineID uuid.UUID, quantity int) (*Line, *consultation.Consultation, error) {
	line, err := s.repo.GetLineForUpdate(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	if open := line.QuantityPrescribed - line.QuantityDispensed; quantity > open {
		return nil, nil, apperror.New(apperror.InvalidQuantity,
			"line %s: requested %d, only %d of %d still open",
			line.ID, quantity, open, line.QuantityPrescribed)
	}

	p, err := s.repo.GetPrescription(ctx, line.PrescriptionID)
	if err != nil {
		return nil, nil, err
	}
	cons, err := s.workflow.Get(ctx, p.ConsultationID)
	if err != nil {
		return nil, nil, err
	}
	return line, cons, nil
}

// settleLine records the debit on the line and re-derives the line and
// prescription statuses.
func (s *Service) settleLine(ctx context.Context, line *Line, quantity int, result *DispenseResult) error {
	line.QuantityDispensed += quantity
	line.Status = deriveStatus(line.QuantityDispensed, line.QuantityPrescribed)
	if err := s.repo.UpdateLineFulfillment(ctx, line.ID, line.QuantityDispensed, line.Status); err != nil {
		return err
	}

	result.LineStatus = line.Status
	result.Dispensed = line.QuantityDispensed
	result.Prescribed = line.QuantityPrescribed

	lines, err := s.repo.GetLines(ctx, line.PrescriptionID)
	if err != nil {
		return err
	}
	dispensed, prescribed := 0, 0
	for _, l := range lines {
		dispensed += l.QuantityDispensed
		prescribed += l.QuantityPrescribed
	}
	return s.repo.UpdatePrescriptionStatus(ctx, line.PrescriptionID, deriveStatus(dispensed, prescribed))
}

// UpdateExamStatus moves an exam order through the lab workflow. Illegal
// moves fail with InvalidTransition; asking for the current status is a
// no-op success.
func (s *Service) UpdateExamStatus(ctx context.Context, examID uuid.UUID, target ExamStatus) (*Exam, error) {
	if _, err := ParseExamStatus(string(target)); err != nil {
		return nil, err
	}

	exam, err := s.repo.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status == target {
		return exam, nil
	}
	if !exam.Status.CanTransitionTo(target) {
		return nil, apperror.New(apperror.InvalidTransition,
			"cannot move exam order from %s to %s", exam.Status, target)
	}
	if err := s.repo.UpdateExamStatus(ctx, examID, target); err != nil {
		return nil, err
	}
	exam.Status = target
	return exam, nil
}

// Get loads a prescription with its lines and exam orders.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetPrescription(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Lines, err = s.repo.GetLines(ctx, id); err != nil {
		return nil, err
	}
	if p.Exams, err = s.repo.GetExams(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetLine(ctx context.Context, id uuid.UUID) (*Line, error) {
	return s.repo.GetLine(ctx, id)
}

func (s *Service) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*Prescription, error) {
	return s.repo.ListByConsultation(ctx, consultationID)
}

func (s *Service) ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByProfessional(ctx, professionalID, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ExamWorklist lists exam orders in one status, urgent first.
func (s *Service) ExamWorklist(ctx context.Context, status ExamStatus) ([]*Exam, error) {
	if _, err := ParseExamStatus(string(status)); err != nil {
		return nil, err
	}
	return s.repo.ListExamsByStatus(ctx, status)
}
