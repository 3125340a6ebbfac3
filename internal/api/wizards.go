package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"forma/backend/internal/auth"
	"forma/backend/pkg/models"
)

// StartWizardRun creates a new run of the wizard for the acting user.
// (POST /api/v1/wizards/:wizardID/runs)
func (s *Server) StartWizardRun(c echo.Context) error {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity resolved")
	}

	run, err := s.Wizards.StartRun(c.Request().Context(), identity, c.Param("wizardID"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// stepSubmissionBody is the wire shape of a step submission.
type stepSubmissionBody struct {
	StepType       models.StepType `json:"step_type"`
	FormData       map[string]any  `json:"form_data,omitempty"`
	LookupObjectID string          `json:"lookup_object_id,omitempty"`
}

// SubmitWizardStep submits one step of a run. Steps must arrive strictly in
// order; the final step triggers the atomic commit.
// (POST /api/v1/wizard-runs/:runID/steps/:stepIndex)
func (s *Server) SubmitWizardStep(c echo.Context) error {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity resolved")
	}

	stepIndex, err := strconv.Atoi(c.Param("stepIndex"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "step index must be an integer")
	}

	var body stepSubmissionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	result, err := s.Wizards.SubmitStep(c.Request().Context(), identity, c.Param("runID"), stepIndex, models.StepSubmission{
		StepType: body.StepType,
		FormData: body.FormData,
		ObjectID: body.LookupObjectID,
	})
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// AbandonWizardRun abandons an in-progress run.
// (POST /api/v1/wizard-runs/:runID/abandon)
func (s *Server) AbandonWizardRun(c echo.Context) error {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity resolved")
	}

	if err := s.Wizards.AbandonRun(c.Request().Context(), identity, c.Param("runID")); err != nil {
		return writeProblem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetWizardRun returns the owner-restricted view of a run.
// (GET /api/v1/wizard-runs/:runID)
func (s *Server) GetWizardRun(c echo.Context) error {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity resolved")
	}

	view, err := s.Wizards.GetRun(c.Request().Context(), identity, c.Param("runID"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, view)
}
