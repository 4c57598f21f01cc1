package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/store"
	"github.com/mark3748/servicedesk/internal/ticket"
)

// Error represents a structured error response.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps successful data or an error.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError records an error and aborts the handler. The response will be
// rendered by the Errors middleware.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set("app_error", &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// Fail maps an engine error onto an http status and aborts.
func Fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		AbortError(c, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, ticket.ErrIllegalTransition):
		AbortError(c, http.StatusConflict, "illegal_transition", err.Error(), nil)
	case errors.Is(err, store.ErrStaleTransition):
		AbortError(c, http.StatusConflict, "stale_transition", "ticket was changed by someone else, reload and retry", nil)
	case errors.Is(err, ticket.ErrValidation), errors.Is(err, sla.ErrInvalidRule):
		AbortError(c, http.StatusBadRequest, "validation", err.Error(), nil)
	case errors.Is(err, sla.ErrConfiguration):
		AbortError(c, http.StatusInternalServerError, "sla_configuration", err.Error(), nil)
	case errors.Is(err, sla.ErrInvariant):
		AbortError(c, http.StatusInternalServerError, "sla_invariant", err.Error(), nil)
	default:
		AbortError(c, http.StatusInternalServerError, "internal", "internal error", nil)
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("unhandled")
	}
}

// BindError aborts with per-field messages for binding failures.
func BindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		AbortError(c, http.StatusBadRequest, "invalid_json", "invalid request body", nil)
		return
	}
	fields := map[string]string{}
	for _, fe := range ve {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	AbortError(c, http.StatusBadRequest, "validation", "invalid request", fields)
}

// Errors emits a JSON error envelope and structured log entry when an error
// was recorded via AbortError.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get("app_error")
		if !ok {
			return
		}
		err, ok := v.(*Error)
		if !ok {
			return
		}
		status := c.Writer.Status()
		logger := log.Ctx(c.Request.Context()).Error().Str("code", err.Code)
		if err.FieldErrors != nil {
			for k, v := range err.FieldErrors {
				logger = logger.Str("field_"+k, v)
			}
		}
		logger.Msg(err.Message)
		c.JSON(status, Envelope{Error: err})
	}
}
