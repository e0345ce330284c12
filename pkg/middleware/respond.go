package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
	"github.com/Ruscigno/vprism/pkg/models"
)

const contentTypeJSON = "application/json; charset=utf-8"

// WriteSuccess writes data inside the success envelope with status 200.
func WriteSuccess(ctx context.Context, w http.ResponseWriter, data any) error {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(models.NewSuccessEnvelope(data, RequestIDFromContext(ctx)))
}

// WriteError writes err inside the error envelope with the status derived from its code.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	// The status line is already out; an encode failure here has no recovery.
	_ = json.NewEncoder(w).Encode(models.NewErrorEnvelope(err, RequestIDFromContext(ctx)))
}
