package ledger

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
	"github.com/ehr/clinicledger/pkg/pagination"
	"github.com/ehr/clinicledger/pkg/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:patientId/timeline", h.Timeline)
	api.POST("/events", h.CreateEvent)
	api.GET("/events/:id", h.GetEvent)
	api.DELETE("/events/:id", h.DeleteEvent)
	api.POST("/events/:id/amendments", h.AmendEvent)
	api.GET("/events/:id/versions", h.ListVersions)
}

type createEventRequest struct {
	PatientID      uuid.UUID       `json:"patient_id" validate:"required"`
	ProfessionalID *uuid.UUID      `json:"professional_id"`
	EncounterID    *uuid.UUID      `json:"encounter_id"`
	EventType      string          `json:"event_type" validate:"required,max=64"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
}

type amendEventRequest struct {
	ProfessionalID *uuid.UUID      `json:"professional_id"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	Reason         string          `json:"reason" validate:"required,max=2000"`
}

// professionalFor prefers the id in the request and falls back to the
// professional record linked to the caller's account.
func professionalFor(explicit *uuid.UUID, actor auth.Actor) uuid.UUID {
	if explicit != nil {
		return *explicit
	}
	if actor.ProfessionalID != nil {
		return *actor.ProfessionalID
	}
	return uuid.Nil
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) CreateEvent(c echo.Context) error {
	var req createEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := validation.Struct(&req); err != nil {
		return apperr.ToHTTPError(err)
	}

	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	id, err := h.svc.AppendEvent(ctx, actor, NewEvent{
		PatientID:      req.PatientID,
		ProfessionalID: professionalFor(req.ProfessionalID, actor),
		EncounterID:    req.EncounterID,
		EventType:      req.EventType,
		Payload:        req.Payload,
	})
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	event, err := h.svc.GetEvent(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, event)
}

func (h *Handler) AmendEvent(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req amendEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := validation.Struct(&req); err != nil {
		return apperr.ToHTTPError(err)
	}

	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	event, err := h.svc.AmendEvent(ctx, actor, Amendment{
		EventID:        id,
		ProfessionalID: professionalFor(req.ProfessionalID, actor),
		Payload:        req.Payload,
		Reason:         req.Reason,
	})
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, event)
}

func (h *Handler) DeleteEvent(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.DeleteEvent(ctx, auth.ActorFromContext(ctx), id); err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListVersions(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	versions, err := h.svc.ListVersions(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": versions})
}

func (h *Handler) Timeline(c echo.Context) error {
	patientID, err := parseID(c, "patientId")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	q := TimelineQuery{PatientID: patientID, Limit: pg.Limit, Offset: pg.Offset}

	if q.From, err = parseTime(c, "from"); err != nil {
		return err
	}
	if q.To, err = parseTime(c, "to"); err != nil {
		return err
	}
	for _, v := range c.QueryParams()["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.EventTypes = append(q.EventTypes, t)
			}
		}
	}

	ctx := c.Request().Context()
	entries, total, err := h.svc.Timeline(ctx, auth.ActorFromContext(ctx), q)
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	if entries == nil {
		entries = []*TimelineEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}

func parseTime(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
	}
	return &t, nil
}
