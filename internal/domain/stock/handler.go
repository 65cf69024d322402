package stock

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/his/his/internal/domain/catalog"
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
	readGroup := api.Group("", auth.RequireRole("admin", "pharmacist", "physician", "nurse"))
	readGroup.GET("/stock/lots", h.ListLots)
	readGroup.GET("/stock/lots/:id", h.GetLot)
	readGroup.GET("/stock/levels", h.ProductLevel)
	readGroup.GET("/stock/expiring", h.ExpiringLots)
	readGroup.GET("/stock/low", h.LowStock)
	readGroup.GET("/stock/movements", h.ListMovements)
	readGroup.GET("/stock/dispensations", h.ListDispensations)

	writeGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	writeGroup.POST("/stock/receive", h.Receive)
	writeGroup.POST("/stock/lots/:id/adjust", h.Adjust)
	writeGroup.POST("/stock/lots/:id/write-off", h.WriteOff)
	writeGroup.DELETE("/stock/lots/:id", h.DeleteLot)
	writeGroup.POST("/stock/mark-expired", h.MarkExpired)
}

func (h *Handler) Receive(c echo.Context) error {
	var in ReceiveInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.ActorID == nil {
		if actor, err := actorFromContext(c); err == nil {
			in.ActorID = &actor
		}
	}
	result, err := h.svc.Receive(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) GetLot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	lot, err := h.svc.GetLot(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, lot)
}

func (h *Handler) ListLots(c echo.Context) error {
	pg := pagination.FromContext(c)
	centerID, err := optionalUUIDParam(c, "center_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}

	if productID := c.QueryParam("product_id"); productID != "" && centerID != nil {
		lots, err := h.svc.ListLotsByProduct(c.Request().Context(), productID, *centerID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, lots)
	}

	lots, total, err := h.svc.ListLots(c.Request().Context(), centerID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(lots, total, pg.Limit, pg.Offset))
}

func (h *Handler) ProductLevel(c echo.Context) error {
	productID := c.QueryParam("product_id")
	if productID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "product_id is required")
	}
	productType := catalog.ProductType(c.QueryParam("product_type"))
	if productType == "" {
		productType = catalog.ProductMedicament
	}
	centerID, err := uuid.Parse(c.QueryParam("center_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}

	level, err := h.svc.ProductLevel(c.Request().Context(), productType, productID, centerID)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, level)
}

func (h *Handler) Adjust(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Delta  int    `json:"delta"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown actor")
	}

	mov, err := h.svc.Adjust(c.Request().Context(), id, body.Delta, body.Reason, actor)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, mov)
}

func (h *Handler) WriteOff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown actor")
	}

	mov, err := h.svc.WriteOffExpired(c.Request().Context(), id, actor, body.Comment)
	if err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, mov)
}

func (h *Handler) DeleteLot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown actor")
	}
	if err := h.svc.DeleteLot(c.Request().Context(), id, actor); err != nil {
		return echo.NewHTTPError(apperror.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkExpired(c echo.Context) error {
	var body struct {
		AsOf string `json:"as_of"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	asOf := time.Now().UTC()
	if body.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", body.AsOf)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "as_of must be YYYY-MM-DD")
		}
		asOf = parsed
	}

	count, err := h.svc.MarkExpiredLots(c.Request().Context(), asOf)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"expired": count})
}

func (h *Handler) ExpiringLots(c echo.Context) error {
	centerID, err := optionalUUIDParam(c, "center_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}
	horizon, _ := strconv.Atoi(c.QueryParam("horizon_days"))

	lots, err := h.svc.ExpiringLots(c.Request().Context(), centerID, horizon)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, lots)
}

func (h *Handler) LowStock(c echo.Context) error {
	centerID, err := optionalUUIDParam(c, "center_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}
	levels, err := h.svc.LowStock(c.Request().Context(), centerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, levels)
}

func (h *Handler) ListMovements(c echo.Context) error {
	pg := pagination.FromContext(c)

	var f MovementFilter
	if p := c.QueryParam("product_id"); p != "" {
		f.ProductID = &p
	}
	lotID, err := optionalUUIDParam(c, "lot_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid lot_id")
	}
	f.LotID = lotID
	centerID, err := optionalUUIDParam(c, "center_id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
	}
	f.CenterID = centerID

	movs, total, err := h.svc.Movements(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(movs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListDispensations(c echo.Context) error {
	pg := pagination.FromContext(c)

	if lineID, err := optionalUUIDParam(c, "line_id"); err == nil && lineID != nil {
		disps, err := h.svc.DispensationsByLine(c.Request().Context(), *lineID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, disps)
	}

	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id or line_id is required")
	}
	disps, total, err := h.svc.DispensationsByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(disps, total, pg.Limit, pg.Offset))
}

func actorFromContext(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
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
