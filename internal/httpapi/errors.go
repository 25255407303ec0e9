package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/stevenzev/expressdiff/internal/apperrors"
)

// writeAppError maps an apperrors.Kind to its HTTP status (spec §7) and
// writes the envelope. A non-apperrors error is treated as an unexpected
// internal failure (500).
func writeAppError(w http.ResponseWriter, err error) {
	ae, ok := apperrors.As(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ErrorResponse{Error: ae.Error(), Remediation: ae.Remediation, Errors: ae.Errors, Warnings: ae.Warnings}
	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict, apperrors.KindRerunNeeded:
		status = http.StatusConflict
	case apperrors.KindValidation, apperrors.KindDependency:
		status = http.StatusBadRequest
	case apperrors.KindScheduler:
		status = http.StatusBadGateway
	case apperrors.KindTemplate, apperrors.KindConfig:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
