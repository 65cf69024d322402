package consultation

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
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	readGroup.GET("/consultations", h.List)
	readGroup.GET("/consultations/queue", h.Queue)
	readGroup.GET("/consultations/vitals-queue", h.VitalsQueue)
	readGroup.GET("/consultations/:id", h.Get)
	readGroup.GET("/consultations/:id/status", h.Status)

	intakeGroup := api.Group("", auth.RequireRole("admin", "nurse", "registrar"))
	intakeGroup.POST("/consultations", h.InitIntake)
	intakeGroup.PATCH("/consultations/:id/triage", h.Triage)

	clinicalGroup := api.Group("", auth.RequireRole("admin", "physician"))
	clinicalGroup.POST("/consultations/:id/begin", h.Begin)
	clinicalGroup.POST("/consultations/:id/complete", h.Complete)
	clinicalGroup.PATCH("/consultations/:id/status", h.Transition)

	cancelGroup := api.Group("", auth.RequireRole("admin", "physician", "registrar"))
	cancelGroup.POST("/consultations/:id/cancel", h.Cancel)
}

func (h *Handler) InitIntake(c echo.Context) error {
	var in IntakeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cons, err := h.svc.InitIntake(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, cons)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cons, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Status(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	status, err := h.svc.Status(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]Status{"status": status})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		cons, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(cons, total, pg.Limit, pg.Offset))
	}

	if professionalID := c.QueryParam("professional_id"); professionalID != "" {
		pid, err := uuid.Parse(professionalID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid professional_id")
		}
		var statuses []Status
		if raw := c.QueryParam("status"); raw != "" {
			status, err := ParseStatus(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			statuses = append(statuses, status)
		}
		cons, total, err := h.svc.ListByProfessional(c.Request().Context(), pid, statuses, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(cons, total, pg.Limit, pg.Offset))
	}

	centerID, err := optionalUUIDParam(c, "center_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}
	cons, total, err := h.svc.List(c.Request().Context(), centerID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cons, total, pg.Limit, pg.Offset))
}

func (h *Handler) Queue(c echo.Context) error {
	centerID, err := optionalUUIDParam(c, "center_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}
	cons, err := h.svc.Queue(c.Request().Context(), centerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) VitalsQueue(c echo.Context) error {
	centerID, err := optionalUUIDParam(c, "center_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}
	cons, err := h.svc.VitalsQueue(c.Request().Context(), centerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Triage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in TriageInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cons, err := h.svc.Triage(c.Request().Context(), id, in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Begin(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cons, err := h.svc.Begin(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var fields ClinicalFields
	if err := c.Bind(&fields); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cons, err := h.svc.Complete(c.Request().Context(), id, fields)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cons, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Transition(c echo.Context) error {
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
	cons, err := h.svc.TransitionTo(c.Request().Context(), id, Status(body.Status))
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]Status{"status": cons.Status})
}

func optionalUUIDParam(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
