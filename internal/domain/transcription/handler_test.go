package transcription

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicledger/internal/platform/auth"
)

func serve(f *fixture, actor auth.Actor, method, path, body string) *httptest.ResponseRecorder {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	})
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SubmitPollAttach(t *testing.T) {
	f := newFixture()

	rec := serve(f, f.clerk, http.MethodPost, "/api/v1/transcriptions",
		`{"audio_ref":"visit.ogg","patient_id":"`+f.patient.String()+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var submitted struct {
		ID     uuid.UUID `json:"id"`
		Status Status    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, StatusPending, submitted.Status)

	rec = serve(f, f.clerk, http.MethodPost, "/api/v1/transcriptions/"+submitted.ID.String()+"/events", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.complete(t, submitted.ID)
	rec = serve(f, f.clerk, http.MethodGet, "/api/v1/transcriptions/"+submitted.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, StatusCompleted, job.Status)

	rec = serve(f, f.clerk, http.MethodPost, "/api/v1/transcriptions/"+submitted.ID.String()+"/events", "")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.events.events, 1)
	assert.Equal(t, f.doctor, f.events.events[0].ProfessionalID)
}

func TestHandler_TranscriptionErrors(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusBadRequest, serve(f, f.clerk, http.MethodPost, "/api/v1/transcriptions", `{}`).Code)
	assert.Equal(t, http.StatusForbidden, serve(f, f.other, http.MethodPost, "/api/v1/transcriptions", `{"audio_ref":"a"}`).Code)
	assert.Equal(t, http.StatusNotFound, serve(f, f.clerk, http.MethodGet, "/api/v1/transcriptions/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(f, f.clerk, http.MethodGet, "/api/v1/transcriptions/x", "").Code)
}
