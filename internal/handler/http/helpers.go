package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "min":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "uuid":
			details[field] = "must be a valid UUID"
		case "required_with":
			details[field] = fmt.Sprintf("is required together with %s", fe.Param())
		default:
			details[field] = fmt.Sprintf("failed on '%s' validation", fe.Tag())
		}
	}
	return details
}

// Ошибки, которые клиент может исправить сам: текст уходит в ответ как есть.
var cartErrors = []error{
	order.ErrEmptyCart,
	order.ErrPhoneRequired,
	order.ErrNoTerminal,
	order.ErrTerminalNotFound,
	order.ErrTerminalAmbiguous,
	order.ErrAddressNotFound,
	order.ErrPaymentTypeNotFound,
	order.ErrProductNotFound,
	order.ErrProductUnavailable,
	order.ErrModifierNotFound,
	order.ErrModifierQuantity,
	order.ErrInvalidQuantity,
}

var conflictErrors = []error{
	order.ErrInvalidTransition,
	order.ErrNotResubmittable,
	order.ErrNotSubmitted,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, organization.ErrOrganizationNotFound):
		return http.StatusNotFound
	case isAny(err, cartErrors):
		return http.StatusUnprocessableEntity
	case isAny(err, conflictErrors):
		return http.StatusConflict
	case iiko.IsAPIError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError пишет ответ по ошибке сервиса; внутренние детали клиенту не отдаются.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)
	switch code {
	case http.StatusInternalServerError:
		log.Error().Err(err).Msg(fallback)
		respondWithError(w, code, fallback)
	case http.StatusBadGateway:
		log.Error().Err(err).Msg(fallback)
		respondWithError(w, code, "iiko is unavailable, try again later")
	default:
		log.Warn().Err(err).Msg(fallback)
		respondWithError(w, code, err.Error())
	}
}
