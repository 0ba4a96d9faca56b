package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/apostella/api/internal/platform/httpx"
	"github.com/apostella/api/internal/services"
)

const maxRequestBody = 256 * 1024

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeRequest parses and validates a JSON request body into dst.
func decodeRequest(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("invalid field %s (%s)", jsonFieldName(first), first.Tag())
		}
		return err
	}
	return nil
}

// jsonFieldName lowercases the leading rune so validation errors reference
// the JSON field rather than the Go struct field.
func jsonFieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return "body"
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

// writeServiceError maps service layer errors onto the HTTP
// taxonomy. AlreadyResolvedError is not handled here; callers surface it as
// success-with-state per the confirmation contract.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrConfirmationInvalidInput):
		writeBadRequest(ctx, w, err)
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrConfirmationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_not_found", "confirmation not found", http.StatusNotFound))
	case errors.Is(err, services.ErrConfirmationExpired):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_expired", "confirmation link has expired", http.StatusGone))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}
