package iiko

import "encoding/json"

const (
	ServiceTypeCourier = "DeliveryByCourier"
	ServiceTypePickup  = "DeliveryByClient"

	ItemTypeProduct = "Product"

	DeliveryPointCoordinates = "coordinates"

	CreationSuccess    = "Success"
	CreationError      = "Error"
	CreationInProgress = "InProgress"
)

// DeliveryRequest: тело /api/1/deliveries/create.
type DeliveryRequest struct {
	OrganizationID  string        `json:"organizationId"`
	TerminalGroupID string        `json:"terminalGroupId"`
	Order           DeliveryOrder `json:"order"`
}

type DeliveryOrder struct {
	OrderServiceType string         `json:"orderServiceType"`
	Customer         Customer       `json:"customer"`
	Phone            string         `json:"phone"`
	DeliveryPoint    *DeliveryPoint `json:"deliveryPoint,omitempty"`
	Items            []OrderLine    `json:"items"`
	Comment          string         `json:"comment,omitempty"`
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type OrderLine struct {
	Type      string         `json:"type"`
	ProductID string         `json:"productId"`
	Amount    int            `json:"amount"`
	Price     float64        `json:"price"`
	Modifiers []LineModifier `json:"modifiers,omitempty"`
}

type LineModifier struct {
	ProductID string `json:"productId"`
	Amount    int    `json:"amount"`
}

type DeliveryPoint struct {
	Type        string       `json:"type,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Address     *Address     `json:"address,omitempty"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Address struct {
	City     string  `json:"city"`
	Street   *Street `json:"street,omitempty"`
	House    string  `json:"house,omitempty"`
	Flat     string  `json:"flat,omitempty"`
	Entrance string  `json:"entrance,omitempty"`
	Floor    string  `json:"floor,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

type Street struct {
	Name string `json:"name"`
}

type CreateDeliveryResponse struct {
	CorrelationID string    `json:"correlationId"`
	OrderInfo     OrderInfo `json:"orderInfo"`

	Raw json.RawMessage `json:"-"`
}

type OrderInfo struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	CreationStatus string `json:"creationStatus"`
}

type CommandStatus struct {
	State     string `json:"state"`
	Exception *struct {
		Message string `json:"message"`
	} `json:"exception,omitempty"`
	Result Fields `json:"result,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (s *CommandStatus) ErrorMessage() string {
	if s.Exception != nil && s.Exception.Message != "" {
		return s.Exception.Message
	}
	return "Неизвестная ошибка iiko"
}

// DeliveryNumber достаёт номер доставки из result.orderInfo (number, затем externalNumber).
func (s *CommandStatus) DeliveryNumber() string {
	if s.Result == nil {
		return ""
	}
	info := s.Result.Object("orderInfo")
	if info == nil {
		return ""
	}
	return info.String("number", "externalNumber")
}
