package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/medrex/caseledger/pkg/types"
)

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorResponse struct {
	Error     errorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// statusFor maps a ledger error kind to its HTTP status
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindUnauthorized:
		return http.StatusForbidden
	case types.KindUnauthenticated:
		return http.StatusUnauthorized
	case types.KindAlreadyRegistered, types.KindAlreadyClosed, types.KindCaseClosed, types.KindConflict:
		return http.StatusConflict
	case types.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err; internal causes are logged and never returned to the client
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	detail := errorDetail{Code: types.ErrCodeInternalError, Message: "internal error"}

	var le *types.LedgerError
	if errors.As(err, &le) && le.Kind != types.KindInternal {
		detail = errorDetail{Code: le.Code, Message: le.Message, Details: le.Details}
	} else {
		s.logger.WithContext(r.Context()).WithError(err).Error("Request failed")
	}

	writeJSON(w, statusFor(types.KindOf(err)), errorResponse{Error: detail, Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
