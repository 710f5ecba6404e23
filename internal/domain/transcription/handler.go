package transcription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicledger/internal/platform/apperr"
	"github.com/ehr/clinicledger/internal/platform/auth"
	"github.com/ehr/clinicledger/pkg/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/transcriptions", h.Submit)
	api.GET("/transcriptions/:id", h.Poll)
	api.POST("/transcriptions/:id/events", h.Attach)
}

type submitRequest struct {
	AudioRef  string     `json:"audio_ref" validate:"required,max=2048"`
	PatientID *uuid.UUID `json:"patient_id"`
}

type attachRequest struct {
	PatientID      *uuid.UUID `json:"patient_id"`
	ProfessionalID *uuid.UUID `json:"professional_id"`
}

func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := validation.Struct(&req); err != nil {
		return apperr.ToHTTPError(err)
	}

	ctx := c.Request().Context()
	id, err := h.svc.Submit(ctx, auth.ActorFromContext(ctx), SubmitRequest{
		AudioRef:  req.AudioRef,
		PatientID: req.PatientID,
	})
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"id": id, "status": StatusPending})
}

func (h *Handler) Poll(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	job, err := h.svc.Poll(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *Handler) Attach(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req attachRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	professional := uuid.Nil
	switch {
	case req.ProfessionalID != nil:
		professional = *req.ProfessionalID
	case actor.ProfessionalID != nil:
		professional = *actor.ProfessionalID
	}

	eventID, err := h.svc.AttachTranscript(ctx, actor, AttachRequest{
		JobID:          id,
		PatientID:      req.PatientID,
		ProfessionalID: professional,
	})
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]uuid.UUID{"event_id": eventID})
}
