package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

type CartModifierRequest struct {
	ModifierID string `json:"modifier_id" validate:"required,uuid"`
	Quantity   int    `json:"quantity" validate:"required,min=1"`
}

type CartItemRequest struct {
	ProductID string                `json:"product_id" validate:"required"` // productId iiko
	Quantity  int                   `json:"quantity" validate:"required,min=1"`
	Modifiers []CartModifierRequest `json:"modifiers" validate:"omitempty,dive"`
}

type CreateOrderRequest struct {
	OrganizationID     string            `json:"organization_id" validate:"required,uuid"`
	UserID             string            `json:"user_id" validate:"required,uuid"`
	TerminalID         *string           `json:"terminal_id,omitempty" validate:"omitempty,uuid"`
	DeliveryAddressID  *string           `json:"delivery_address_id,omitempty" validate:"omitempty,uuid"`
	Latitude           *float64          `json:"latitude,omitempty" validate:"required_with=Longitude,omitempty,latitude"`
	Longitude          *float64          `json:"longitude,omitempty" validate:"required_with=Latitude,omitempty,longitude"`
	CustomerName       string            `json:"customer_name" validate:"max=255"`
	Phone              string            `json:"phone" validate:"required,max=32"`
	RemotePaymentPhone string            `json:"remote_payment_phone,omitempty" validate:"max=32"`
	PaymentTypeID      string            `json:"payment_type_id" validate:"required,uuid"`
	DeliveryCost       *decimal.Decimal  `json:"delivery_cost,omitempty"`
	Comment            string            `json:"comment" validate:"max=1000"`
	Items              []CartItemRequest `json:"items" validate:"required,min=1,dive"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Post("/orders/{id}/status", h.handleRefreshStatus)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
	router.Post("/orders/{id}/resubmit", h.handleResubmitOrder)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return
	}

	// Валидатор уже проверил формат uuid, поэтому ошибки разбора здесь не ожидаются.
	in := order.PlaceOrderInput{
		OrganizationID:     uuid.FromStringOrNil(requestPayload.OrganizationID),
		UserID:             uuid.FromStringOrNil(requestPayload.UserID),
		TerminalID:         optionalUUID(requestPayload.TerminalID),
		DeliveryAddressID:  optionalUUID(requestPayload.DeliveryAddressID),
		Latitude:           requestPayload.Latitude,
		Longitude:          requestPayload.Longitude,
		CustomerName:       requestPayload.CustomerName,
		Phone:              requestPayload.Phone,
		RemotePaymentPhone: requestPayload.RemotePaymentPhone,
		PaymentTypeID:      uuid.FromStringOrNil(requestPayload.PaymentTypeID),
		DeliveryCost:       requestPayload.DeliveryCost,
		Comment:            requestPayload.Comment,
	}
	for _, item := range requestPayload.Items {
		cartItem := order.CartItem{ProductID: item.ProductID, Quantity: item.Quantity}
		for _, m := range item.Modifiers {
			cartItem.Modifiers = append(cartItem.Modifiers, order.CartModifier{
				ModifierID: uuid.FromStringOrNil(m.ModifierID),
				Quantity:   m.Quantity,
			})
		}
		in.Items = append(in.Items, cartItem)
	}

	created, err := h.service.PlaceOrder(r.Context(), in)
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func optionalUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id := uuid.FromStringOrNil(*s)
	return &id
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return orderID, true
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	found, err := h.service.Get(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	updated, err := h.service.RefreshStatus(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to refresh order status")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}
	respondWithJSON(w, http.StatusOK, cancelled)
}

func (h *OrderHandler) handleResubmitOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	queued, err := h.service.Resubmit(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to resubmit order")
		return
	}
	respondWithJSON(w, http.StatusAccepted, queued)
}
