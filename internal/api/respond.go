package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/vulnsentinel/vulnsentinel/internal/database"
	apperrors "github.com/vulnsentinel/vulnsentinel/internal/errors"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	maxRequestBody   = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeRequest parses a JSON body strictly. Unknown fields are rejected,
// which keeps server-owned columns out of the request schema entirely.
func decodeRequest(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validationMessage flattens validator output into one readable line.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag())
	}
	return err.Error()
}

// pagination extracts ?cursor= and ?limit= from a list request.
func (s *Server) pagination(r *http.Request) (*database.Cursor, int, error) {
	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, 0, fmt.Errorf("limit must be a positive integer")
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		limit = n
	}

	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return nil, limit, nil
	}
	cur, err := s.codec.Decode(raw)
	if err != nil {
		return nil, 0, err
	}
	return &cur, limit, nil
}

// storeError maps data-layer failures onto status codes.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrConflict) || apperrors.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case apperrors.IsInvalidTransition(err):
		writeError(w, http.StatusConflict, err.Error())
	case apperrors.IsPrecondition(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("api.internal_error", "path", r.URL.Path, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
