// Package api contains the HTTP handlers for the forma core engine.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"forma/backend/internal/services"
	"forma/backend/pkg/apperror"
)

// Server holds the dependencies for the API handlers.
type Server struct {
	Batch   *services.BatchService
	Wizards *services.WizardService
}

// NewServer creates a new Server.
func NewServer(batch *services.BatchService, wizards *services.WizardService) *Server {
	return &Server{Batch: batch, Wizards: wizards}
}

// RegisterRoutes mounts the operation routes on the given group. The group
// is expected to carry the auth middleware.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/models/:modelID/batch-update", s.BatchUpdate)
	g.POST("/wizards/:wizardID/runs", s.StartWizardRun)
	g.GET("/wizard-runs/:runID", s.GetWizardRun)
	g.POST("/wizard-runs/:runID/steps/:stepIndex", s.SubmitWizardStep)
	g.POST("/wizard-runs/:runID/abandon", s.AbandonWizardRun)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "forma",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	ObjectID string `json:"object_id,omitempty"`
	Property string `json:"property,omitempty"`
}

// writeProblem maps a classified engine error to a ProblemDetails response.
func writeProblem(c echo.Context, err error) error {
	kind := apperror.KindOf(err)
	status := statusForKind(kind)

	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    kind.String(),
		Status:   status,
		Detail:   err.Error(),
		Instance: c.Request().URL.Path,
	}
	var e *apperror.Error
	if errors.As(err, &e) {
		problem.ObjectID = e.ObjectID
		problem.Property = e.Property
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, problem)
}

func statusForKind(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusUnprocessableEntity
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindUnauthorized:
		return http.StatusUnauthorized
	case apperror.KindForbidden:
		return http.StatusForbidden
	case apperror.KindIllegalTransition:
		return http.StatusConflict
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindAlreadyTerminal:
		return http.StatusConflict
	case apperror.KindInvalidStepOrder:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
