package documents

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
	api.POST("/documents", h.CreateDocument)
	api.GET("/documents/:id", h.GetDocument)
	api.POST("/documents/:id/sign", h.SignDocument)
}

type createDocumentRequest struct {
	EventID      *uuid.UUID `json:"event_id"`
	DocumentType string     `json:"document_type" validate:"required,max=64"`
	Content      string     `json:"content" validate:"required"`
}

type signDocumentRequest struct {
	SignerID         *uuid.UUID `json:"signer_id"`
	CertificateToken string     `json:"certificate_token" validate:"max=4096"`
}

func (h *Handler) CreateDocument(c echo.Context) error {
	var req createDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := validation.Struct(&req); err != nil {
		return apperr.ToHTTPError(err)
	}

	ctx := c.Request().Context()
	doc, err := h.svc.CreateDraft(ctx, auth.ActorFromContext(ctx), NewDraft{
		EventID:      req.EventID,
		DocumentType: req.DocumentType,
		Content:      req.Content,
	})
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) GetDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	view, err := h.svc.Get(ctx, auth.ActorFromContext(ctx), id)
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// SignDocument signs as the caller's professional record unless the body
// names a signer.
func (h *Handler) SignDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req signDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := validation.Struct(&req); err != nil {
		return apperr.ToHTTPError(err)
	}

	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	signer := uuid.Nil
	switch {
	case req.SignerID != nil:
		signer = *req.SignerID
	case actor.ProfessionalID != nil:
		signer = *actor.ProfessionalID
	}

	view, err := h.svc.Sign(ctx, actor, SignRequest{
		DocumentID:       id,
		SignerID:         signer,
		CertificateToken: req.CertificateToken,
	})
	if err != nil {
		return apperr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}
