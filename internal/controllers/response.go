package controllers

import (
	"net/http"

	json "github.com/goccy/go-json"

	"shd/internal/apperrors"
	"shd/internal/providers"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	gson, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, gson)
}

func writeRaw(w http.ResponseWriter, status int, gson []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(gson)
}

// writeError answers with the stable error code of err. Server-side
// failures are logged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, logger providers.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf(providers.GetLogTypeByRequestType(r.Method), "%s %s [%s]: %v",
			r.Method, r.URL.Path, providers.RequestID(r.Context()), err)
	}
	writeJSON(w, status, errorResponse{Error: errorDetail{
		Code:    apperrors.CodeOf(err),
		Message: apperrors.PublicMessage(err),
	}})
}
