package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/logging"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RespondError sends an error response
func RespondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// RespondSuccess sends a success response
func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// errorStatus maps each error kind to its HTTP status and error code
var errorStatus = []struct {
	kind   error
	status int
	code   string
}{
	{apperr.ErrValidation, http.StatusBadRequest, "invalid_request"},
	{apperr.ErrAuthorization, http.StatusForbidden, "forbidden"},
	{apperr.ErrSignature, http.StatusUnprocessableEntity, "invalid_signature"},
	{apperr.ErrSigning, http.StatusInternalServerError, "signing_failed"},
	{apperr.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
	{apperr.ErrExpired, http.StatusUnauthorized, "session_expired"},
	{apperr.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperr.ErrConflict, http.StatusConflict, "conflict"},
}

// RespondServiceError translates a service error into a response. Errors
// without a kind are logged and reported as internal errors.
func RespondServiceError(c *gin.Context, logger *zap.Logger, err error) {
	respondServiceError(c, logger, err, nil)
}

// RespondServiceErrorWithDetails is RespondServiceError with a details
// payload, for operations that fail after partially succeeding.
func RespondServiceErrorWithDetails(c *gin.Context, logger *zap.Logger, err error, details interface{}) {
	respondServiceError(c, logger, err, details)
}

func respondServiceError(c *gin.Context, logger *zap.Logger, err error, details interface{}) {
	status, code, message := http.StatusInternalServerError, "internal_error", "Internal server error"
	for _, m := range errorStatus {
		if errors.Is(err, m.kind) {
			status, code, message = m.status, m.code, apperr.Message(err)
			break
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", logging.Method(c.Request.Method), logging.Path(c.FullPath()), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// paramID parses the :id path parameter, responding 400 when malformed
func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid_id", "Invalid id")
		return 0, false
	}
	return id, true
}

// queryInt reads an integer query parameter, returning def when absent or
// malformed
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
