// internal/controller/errors.go
package controller

import (
    "encoding/json"
    "errors"
    "net/http"

    "github.com/rs/zerolog"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
)

type errorBody struct {
    Error     string            `json:"error"`
    Message   string            `json:"message,omitempty"`
    Available *int              `json:"available,omitempty"`
    Fields    map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and JSON body. Unknown errors are
// logged and reported as 500 without their text.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
    var (
        qe  *appErrors.QuotaExceededError
        tnf *appErrors.TemplateNotFoundError
        anf *appErrors.AccountNotFoundError
        mnf *appErrors.MessageNotFoundError
        ir  *appErrors.InvalidRecipientError
        it  *appErrors.InvalidTemplateError
        pe  *appErrors.PersistenceError
    )
    switch {
    case errors.As(err, &qe):
        remaining := qe.Remaining
        writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "quota_exceeded", Message: err.Error(), Available: &remaining})
    case errors.As(err, &tnf), errors.As(err, &anf), errors.As(err, &mnf):
        writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
    case errors.As(err, &ir), errors.As(err, &it),
        errors.Is(err, appErrors.ErrNoContacts), errors.Is(err, appErrors.ErrInvalidPeriod):
        writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
    case errors.Is(err, appErrors.ErrInvalidCredential), errors.Is(err, appErrors.ErrCredentialExpired):
        writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: err.Error()})
    case errors.Is(err, appErrors.ErrIPNotAllowed):
        writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: err.Error()})
    case errors.Is(err, appErrors.ErrInvalidTransition):
        writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Message: err.Error()})
    case errors.As(err, &pe):
        log.Error().Err(err).Str("op", pe.Op).Msg("persistence failure")
        writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
    default:
        log.Error().Err(err).Msg("unhandled error")
        writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
    }
}
