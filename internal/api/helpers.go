package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"alliance.ledger/internal/ledger"
)

const (
	defaultPageSize = 20
	maxBodyBytes    = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// amountField renders a request amount for logs without expanding a huge
// exponent into digits.
func amountField(d decimal.Decimal) string {
	if e := d.Exponent(); e > 18 || e < -18 {
		return d.Coefficient().String() + "e" + strconv.Itoa(int(e))
	}
	return d.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

// decodeJSON reads exactly one JSON object of at most maxBodyBytes with no
// unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// errorStatus maps a failed operation to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, ledger.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ledger.ErrMemberExists):
		return http.StatusConflict, "member_exists"
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity, "idempotency_conflict"
	case errors.Is(err, ledger.ErrAlreadyWithdrawnToday):
		return http.StatusConflict, "already_withdrawn_today"
	}
	return http.StatusInternalServerError, "internal_error"
}

// fail writes the response for err and logs event with the reason.
func (s *Server) fail(w http.ResponseWriter, event string, err error, fields map[string]any) {
	status, code := errorStatus(err)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["reason"] = code

	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		fields["field"] = verr.Field
		writeJSON(w, status, errorResponse{Error: code, Field: verr.Field})
	} else {
		writeError(w, status, code)
	}

	if status == http.StatusInternalServerError {
		fields["error"] = err.Error()
		s.logError(event, fields)
		return
	}
	s.logEvent(event, fields)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, ledger.Invalid(name, "must be a UUID")
	}
	return id, nil
}

// pageParams reads page and page_size, defaulting to the first page.
func pageParams(r *http.Request) (int, int, error) {
	page, size := 1, defaultPageSize
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, ledger.Invalid("page", "must be an integer")
		}
		page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, ledger.Invalid("page_size", "must be an integer")
		}
		size = n
	}
	return page, size, nil
}
