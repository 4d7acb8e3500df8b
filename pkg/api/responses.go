// Package api is the rule management control plane: CRUD over rules,
// expression validation, dry-run testing, and health.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// Response is the uniform envelope: code 0 on success, the HTTP status
// on failure, with details in data.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "success", Data: data})
}

func respondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: message})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: message})
}

// respondValidationErrors reports per-field validation failures with 422.
func respondValidationErrors(c *gin.Context, errs []models.FieldError) {
	c.JSON(http.StatusUnprocessableEntity, Response{
		Code:    http.StatusUnprocessableEntity,
		Message: "validation failed",
		Data:    gin.H{"errors": errs},
	})
}

// respondInternal hides the error detail unless debug mode is on.
func (s *Server) respondInternal(c *gin.Context, err error) {
	message := "internal server error"
	if s.debug && err != nil {
		message = err.Error()
	}
	c.JSON(http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: message,
	})
}
