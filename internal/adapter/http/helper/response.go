package helper

import (
	"errors"
	"net/http"

	. "accounts/internal/adapter/http/validation"
	"accounts/internal/core/domain"
	"accounts/internal/core/model/response"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
)

func SendSuccess(c *gin.Context, statusCode int, data any, message ...string) {
	response := response.SuccessResponse{
		Data: data,
	}

	if len(message) > 0 && message[0] != "" {
		response.Message = message[0]
	}

	c.JSON(statusCode, response)
}

func SendError(c *gin.Context, statusCode int, code string, errors []response.ValidationError, details ...any) {
	errorResponse := response.ErrorResponse{
		Error: response.ResponseError{
			Code:   code,
			Errors: errors,
		},
	}

	if len(details) > 0 {
		errorResponse.Error.Details = details[0]
	}

	c.JSON(statusCode, errorResponse)
}

func SendValidationError(c *gin.Context, err error) {
	validationErrors := FormatValidationErrors(err)
	SendError(c, http.StatusBadRequest, "VALIDATION_ERROR", validationErrors)
}

func SendInternalError(c *gin.Context, message string, details ...any) {
	errors := []response.ValidationError{
		{
			Field:   "server",
			Message: message,
		},
	}

	SendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", errors, details...)
}

func SendUnauthorizedError(c *gin.Context, message string) {
	errors := []response.ValidationError{
		{
			Field:   "auth",
			Message: message,
		},
	}

	SendError(c, http.StatusUnauthorized, "UNAUTHORIZED", errors)
}

func SendBadRequestError(c *gin.Context, field string, message string) {
	errors := []response.ValidationError{
		{
			Field:   field,
			Message: message,
		},
	}

	SendError(c, http.StatusBadRequest, "BAD_REQUEST", errors)
}

func SendNotFoundError(c *gin.Context, message string) {
	errors := []response.ValidationError{
		{
			Field:   "resource",
			Message: message,
		},
	}

	SendError(c, http.StatusNotFound, "NOT_FOUND", errors)
}

func SendConflictError(c *gin.Context, field string, message string) {
	errors := []response.ValidationError{
		{
			Field:   field,
			Message: message,
		},
	}

	SendError(c, http.StatusConflict, "CONFLICT", errors)
}

func SendForbiddenError(c *gin.Context, message string) {
	errors := []response.ValidationError{
		{
			Field:   "auth",
			Message: message,
		},
	}

	SendError(c, http.StatusForbidden, "FORBIDDEN", errors)
}

// SendDomainError maps service errors onto status codes. Only the public
// message of known errors reaches the client; anything else is a 500.
func SendDomainError(c *gin.Context, err error) {
	message := publicMessage(err)

	switch {
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateKey):
		SendConflictError(c, "request", message)
	case errors.Is(err, domain.ErrUnauthorized):
		SendUnauthorizedError(c, message)
	case errors.Is(err, domain.ErrNotFound):
		SendNotFoundError(c, message)
	case errors.Is(err, domain.ErrValidation):
		field := "request"
		if oopsErr, ok := oops.AsOops(err); ok {
			if f, ok := oopsErr.Context()["field"].(string); ok {
				field = f
			}
		}
		SendBadRequestError(c, field, message)
	default:
		SendInternalError(c, "Internal server error")
	}
}

// publicMessage returns the caller-safe message attached with oops Public.
// Errors without one fall back to their sentinel's text so store details
// never reach the client.
func publicMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Public() != "" {
		return oopsErr.Public()
	}

	for _, sentinel := range []error{
		domain.ErrConflict,
		domain.ErrDuplicateKey,
		domain.ErrUnauthorized,
		domain.ErrNotFound,
		domain.ErrValidation,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	return "internal server error"
}
