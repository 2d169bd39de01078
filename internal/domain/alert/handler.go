package alert

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medalert/medalert/internal/platform/auth"
	"github.com/medalert/medalert/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: every clinical role plus operators
	readGroup := api.Group("", auth.RequireRole(readRoles...))
	readGroup.GET("/alerts", h.ListAlerts)
	readGroup.GET("/alerts/:id", h.GetAlert)
	readGroup.GET("/alerts/:id/timeline", h.ListTimeline)
	readGroup.GET("/alerts/:id/acknowledgments", h.ListAcknowledgments)
	readGroup.GET("/alerts/:id/escalations", h.ListEscalations)

	createGroup := api.Group("", auth.RequireRole(createRoles...))
	createGroup.POST("/alerts", h.CreateAlert)

	// Response endpoints: clinical staff only
	respondGroup := api.Group("", auth.RequireRole(respondRoles...))
	respondGroup.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	respondGroup.POST("/alerts/:id/delegate", h.DelegateAlert)
	respondGroup.POST("/alerts/:id/start", h.StartAlert)
	respondGroup.POST("/alerts/:id/resolve", h.ResolveAlert)

	escalateGroup := api.Group("", auth.RequireRole(escalateRoles...))
	escalateGroup.POST("/alerts/:id/escalate", h.EscalateAlert)
}

func actorFrom(c echo.Context) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return actor, nil
}

func alertID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps engine errors onto HTTP statuses.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message":  "validation failed",
			"problems": ve.Problems,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func (h *Handler) CreateAlert(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.CreateAlert(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAlert(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	if c.QueryParam("detail") == "true" {
		d, err := h.svc.GetAlertDetail(c.Request().Context(), actor, id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, d)
	}
	a, err := h.svc.GetAlert(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAlerts(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	f := ListFilter{
		HospitalID:   c.QueryParam("hospital"),
		DepartmentID: c.QueryParam("department"),
	}
	if v := c.QueryParam("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.Statuses = append(f.Statuses, Status(strings.TrimSpace(s)))
		}
	}
	if v := c.QueryParam("max_urgency"); v != "" {
		u, err := strconv.Atoi(v)
		if err != nil || u < 1 || u > 5 {
			return echo.NewHTTPError(http.StatusBadRequest, "max_urgency must be between 1 and 5")
		}
		f.MaxUrgency = u
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAlerts(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Alert{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) ListTimeline(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListTimeline(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListAcknowledgments(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAcknowledgments(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListEscalations(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListEscalations(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	var in AckInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AcknowledgeAlert(c.Request().Context(), actor, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type delegateRequest struct {
	DelegateTo string `json:"delegate_to"`
}

func (h *Handler) DelegateAlert(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	var req delegateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.DelegateAlert(c.Request().Context(), actor, id, req.DelegateTo)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) StartAlert(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.StartAlert(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type resolveRequest struct {
	Notes *string `json:"notes"`
}

func (h *Handler) ResolveAlert(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.ResolveAlert(c.Request().Context(), actor, id, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) EscalateAlert(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := alertID(c)
	if err != nil {
		return err
	}
	var in EscalateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// Over HTTP only manual escalation exists; deadline escalations come
	// from the scheduler.
	in.Reason = ReasonManual
	in.ExpectedDeadline = nil
	a, err := h.svc.EscalateAlert(c.Request().Context(), actor, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
