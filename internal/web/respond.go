package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	appLog "taskcal/internal/log"
	"taskcal/internal/occurrence"
	"taskcal/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeFailure maps domain errors onto HTTP statuses: invalid rules, zones
// and windows are the caller's fault, a missing task is 404, anything else
// is logged and reported as 500.
func writeFailure(w http.ResponseWriter, op string, err error) {
	var (
		ruleErr   *occurrence.InvalidRuleError
		tzErr     *occurrence.InvalidTimezoneError
		windowErr *occurrence.InvalidWindowError
	)
	switch {
	case errors.As(err, &ruleErr), errors.As(err, &tzErr), errors.As(err, &windowErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error(op+" failed", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// On failure it writes a 400 and returns false.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "wrong format: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, verrs[0].Error())
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
