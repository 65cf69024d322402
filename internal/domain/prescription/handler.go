package prescription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/his/his/internal/platform/apperror"
	"github.com/his/his/internal/platform/auth"
	"github.com/his/his/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "lab_tech", "nurse"))
	readGroup.GET("/prescriptions", h.List)
	readGroup.GET("/prescriptions/:id", h.Get)
	readGroup.GET("/exam-orders", h.ExamWorklist)

	prescribeGroup := api.Group("", auth.RequireRole("admin", "physician"))
	prescribeGroup.POST("/prescriptions", h.Create)
	prescribeGroup.POST("/prescriptions/:id/lines", h.AddLine)
	prescribeGroup.POST("/prescriptions/:id/exams", h.AddExam)

	dispenseGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	dispenseGroup.POST("/prescription-lines/:id/dispense", h.DispenseLine)

	labGroup := api.Group("", auth.RequireRole("admin", "lab_tech"))
	labGroup.PATCH("/exam-orders/:id/status", h.UpdateExamStatus)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	if consultationID := c.QueryParam("consultation_id"); consultationID != "" {
		cid, err := uuid.Parse(consultationID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid consultation_id")
		}
		out, err := h.svc.ListByConsultation(c.Request().Context(), cid)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, out)
	}

	pg := pagination.FromContext(c)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		out, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
	}

	professionalID := c.QueryParam("professional_id")
	if professionalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "consultation_id, patient_id or professional_id is required")
	}
	pid, err := uuid.Parse(professionalID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid professional_id")
	}
	out, total, err := h.svc.ListByProfessional(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddLine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in LineInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	line, err := h.svc.AddLine(c.Request().Context(), id, in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, line)
}

func (h *Handler) AddExam(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in ExamInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exam, err := h.svc.AddExam(c.Request().Context(), id, in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, exam)
}

func (h *Handler) DispenseLine(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Quantity int        `json:"quantity"`
		LotID    *uuid.UUID `json:"lot_id,omitempty"`
		Notes    *string    `json:"notes,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actorID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown dispensing user")
	}

	var result *DispenseResult
	if body.LotID != nil {
		result, err = h.svc.DispenseLineFromLot(c.Request().Context(), id, *body.LotID, body.Quantity, actorID, body.Notes)
	} else {
		result, err = h.svc.DispenseLine(c.Request().Context(), id, body.Quantity, actorID, body.Notes)
	}
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ExamWorklist(c echo.Context) error {
	status := ExamStatus(c.QueryParam("status"))
	if status == "" {
		status = ExamRequested
	}
	exams, err := h.svc.ExamWorklist(c.Request().Context(), status)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, exams)
}

func (h *Handler) UpdateExamStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exam, err := h.svc.UpdateExamStatus(c.Request().Context(), id, ExamStatus(body.Status))
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, exam)
}
