package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// apiError is the transport rendering of a service error.
type apiError struct {
	status int
	code   response.ErrCode
	fields map[string]string
}

// classify maps the engine's error taxonomy onto status codes and API codes.
func classify(err error) apiError {
	var (
		admission   *service.AdmissionError
		validation  *service.ValidationError
		persistence *service.PersistenceError
	)

	switch {
	case errors.As(err, &admission):
		switch admission.Reason {
		case service.AdmissionTooEarly:
			return apiError{status: http.StatusForbidden, code: response.ErrExamTooEarly}
		case service.AdmissionTooLate:
			return apiError{
				status: http.StatusForbidden,
				code:   response.ErrExamTooLate,
				fields: map[string]string{"reason": string(admission.Late)},
			}
		case service.AdmissionNotPublished:
			return apiError{status: http.StatusNotFound, code: response.ErrNotFound}
		default:
			return apiError{status: http.StatusForbidden, code: response.ErrForbidden}
		}
	case errors.As(err, &validation):
		return apiError{status: http.StatusBadRequest, code: response.ErrValidation, fields: validation.Fields}
	case errors.As(err, &persistence):
		return apiError{
			status: http.StatusServiceUnavailable,
			code:   response.ErrPersistence,
			fields: map[string]string{"retryable": strconv.FormatBool(persistence.Retryable())},
		}
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrExamNotFound):
		return apiError{status: http.StatusNotFound, code: response.ErrNotFound}
	case errors.Is(err, service.ErrForbidden):
		return apiError{status: http.StatusForbidden, code: response.ErrForbidden}
	case errors.Is(err, service.ErrSessionClosed):
		return apiError{status: http.StatusConflict, code: response.ErrSessionClosed}
	case errors.Is(err, service.ErrNotSubmitted):
		return apiError{status: http.StatusConflict, code: response.ErrSessionNotSubmitted}
	case errors.Is(err, service.ErrAlreadyGraded):
		return apiError{status: http.StatusConflict, code: response.ErrSessionGraded}
	case errors.Is(err, service.ErrForeignAnswer):
		return apiError{status: http.StatusUnprocessableEntity, code: response.ErrForeignAnswer}
	}
	return apiError{status: http.StatusInternalServerError, code: response.ErrInternal}
}

// failWith writes err as an API error response. Unexpected errors are logged.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	apiErr := classify(err)
	if apiErr.status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.GetRequestID(c)).
			Msg("Request failed")
	}
	if len(apiErr.fields) > 0 {
		response.FailWithFields(c, apiErr.status, apiErr.code, apiErr.fields)
		return
	}
	response.Fail(c, apiErr.status, apiErr.code)
}
