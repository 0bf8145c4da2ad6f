package rest

import (
	"errors"
	"net/http"

	"github.com/smilemakc/mbflow/pkg/models"
)

// ErrorBody is the exit/error convention of spec.md §6: every 4xx/5xx
// response carries exactly this shape.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// statusFor classifies a domain error into the HTTP status spec.md §6
// assigns it: caller errors (bad graph edits, unknown flow/node/run) are
// 4xx, anything else is a 5xx internal failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrFlowNotFound),
		errors.Is(err, models.ErrNodeNotFound),
		errors.Is(err, models.ErrEdgeNotFound),
		errors.Is(err, models.ErrRunNotFound),
		errors.Is(err, models.ErrArtifactNotFound):
		return http.StatusNotFound

	case errors.Is(err, models.ErrNodeExists),
		errors.Is(err, models.ErrRunAlreadyActive),
		errors.Is(err, models.ErrFlowLocked),
		errors.Is(err, models.ErrPortOccupied):
		return http.StatusConflict

	case errors.Is(err, models.ErrCycle),
		errors.Is(err, models.ErrUnknownKind):
		return http.StatusBadRequest
	}

	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	var se *models.SchemaError
	if errors.As(err, &se) {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}
