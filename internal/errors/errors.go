package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/talentvine/webdesk/internal/logger"
)

// WebdeskError represents a structured error with HTTP context
type WebdeskError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
	Retryable  bool                   `json:"retryable,omitempty"`
}

func (e *WebdeskError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *WebdeskError) Unwrap() error {
	return e.Cause
}

// ToGinResponse sends the error as a standardized JSON response
func (e *WebdeskError) ToGinResponse(c *gin.Context) {
	statusCode := e.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}
	if e.Retryable {
		response["retryable"] = true
	}
	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	logger.Error("HTTP error response status=%d code=%s message=%q path=%s method=%s",
		statusCode, e.Code, e.Message, c.Request.URL.Path, c.Request.Method)

	c.JSON(statusCode, response)
}

// Common error constructors

func NewValidationError(message string, field string) *WebdeskError {
	return &WebdeskError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource string, id string) *WebdeskError {
	return &WebdeskError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Context:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewInternalError(message string, cause error) *WebdeskError {
	return &WebdeskError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewDatabaseError(operation string, cause error) *WebdeskError {
	return &WebdeskError{
		Code:       "DATABASE_ERROR",
		Message:    "Database operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Context:    map[string]interface{}{"operation": operation},
		Cause:      cause,
	}
}

// NewPermissionError reports a failed media permission grant. It is
// retryable: the session stays in its current state and the client may
// ask again.
func NewPermissionError(reason string, cause error) *WebdeskError {
	return &WebdeskError{
		Code:       "PERMISSION_ERROR",
		Message:    "Media permission was not granted",
		HTTPStatus: http.StatusConflict,
		Context:    map[string]interface{}{"reason": reason},
		Cause:      cause,
		Retryable:  true,
	}
}

// NewInvalidStateError reports an operation attempted in a session
// state that does not allow it.
func NewInvalidStateError(operation string, state string) *WebdeskError {
	return &WebdeskError{
		Code:       "INVALID_STATE",
		Message:    "Operation not allowed in current session state",
		HTTPStatus: http.StatusConflict,
		Context:    map[string]interface{}{"operation": operation, "state": state},
	}
}

// HTTP helpers to eliminate duplicate error handling

// HandleValidationError sends a validation error response
func HandleValidationError(c *gin.Context, message string, field string) {
	NewValidationError(message, field).ToGinResponse(c)
}

// HandleNotFound sends a not found error response
func HandleNotFound(c *gin.Context, resource string, id string) {
	NewNotFoundError(resource, id).ToGinResponse(c)
}

// HandleInternalError sends an internal server error response
func HandleInternalError(c *gin.Context, message string, err error) {
	NewInternalError(message, err).ToGinResponse(c)
}
