package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/progresshub/internal/apperr"
	"github.com/geocoder89/progresshub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.AbortWithStatusJSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: middlewares.RequestIDFromContext(ctx),
			Details:   details,
		},
	})
}

// RespondErr maps a classified error onto the error envelope. Anything that
// is not an *apperr.Error, and every internal error, is logged here and
// answered with a generic message.
func RespondErr(ctx *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal("Internal server error", err)
	}

	if appErr.Kind == apperr.KindInternal {
		slog.Default().ErrorContext(ctx.Request.Context(), "request failed",
			"route", ctx.FullPath(),
			"request_id", middlewares.RequestIDFromContext(ctx),
			"err", err,
		)
		RespondInternal(ctx, "Internal server error")
		return
	}

	code := appErr.Code
	if code == "" {
		code = defaultCode(appErr.Kind)
	}

	RespondError(ctx, appErr.Kind.HTTPStatus(), code, appErr.Message, appErr.Details)
}

func defaultCode(k apperr.Kind) string {
	switch k {
	case apperr.KindValidation:
		return "invalid_request"
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindAuthentication:
		return "unauthorized"
	case apperr.KindAuthorization:
		return "forbidden"
	case apperr.KindNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}
