package handler

import (
	"errors"
	"net/http"

	"github.com/dtroode/electorate-server/internal/model"
)

// handleError maps service errors onto HTTP responses. Business-rule
// rejections become structured 409 error values; everything else is a server
// fault.
func handleError(w http.ResponseWriter, err error) {
	if ue, ok := model.AsUserError(err); ok {
		writeError(w, http.StatusConflict, ue.Message)
		return
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrSecretUnavailable):
		writeError(w, http.StatusConflict, "vote is no longer active")
	case errors.Is(err, model.ErrUnknownTally):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
