package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"forma/backend/internal/auth"
	"forma/backend/internal/services"
)

// BatchUpdate applies one property (or workflow-state) change to many objects
// of a model at once.
// (POST /api/v1/models/:modelID/batch-update)
func (s *Server) BatchUpdate(c echo.Context) error {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no identity resolved")
	}

	var req services.BatchUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	req.ModelID = c.Param("modelID")

	result, err := s.Batch.Apply(c.Request().Context(), identity, &req)
	if err != nil {
		return writeProblem(c, err)
	}

	// A rolled-back batch is still a well-formed answer; the status code
	// distinguishes it from a fully applied one.
	status := http.StatusOK
	if result.Status == services.BatchStatusNothingApplied {
		status = http.StatusConflict
	}
	return c.JSON(status, result)
}
