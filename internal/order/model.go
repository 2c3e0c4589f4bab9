package order

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
)

type Status string

// InProgress и Success совпадают со строками creationStatus iiko и хранятся как есть.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "InProgress"
	StatusSuccess    Status = "Success"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"

	StatusConfirmed  Status = "confirmed"
	StatusPreparing  Status = "preparing"
	StatusDelivering Status = "delivering"
	StatusCompleted  Status = "completed"
)

func (s Status) String() string {
	return string(s)
}

var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusSuccess, StatusError, StatusCancelled},
	StatusInProgress: {StatusSuccess, StatusError, StatusCancelled},
	StatusSuccess:    {StatusConfirmed, StatusPreparing, StatusDelivering, StatusCompleted, StatusCancelled},
	StatusError:      {StatusPending, StatusCancelled},
	StatusConfirmed:  {StatusPreparing, StatusDelivering, StatusCompleted, StatusCancelled},
	StatusPreparing:  {StatusDelivering, StatusCompleted, StatusCancelled},
	StatusDelivering: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	OrganizationID    uuid.UUID        `json:"organization_id" db:"organization_id"`
	TerminalID        *uuid.UUID       `json:"terminal_id,omitempty" db:"terminal_id"`
	UserID            uuid.UUID        `json:"user_id" db:"user_id"`
	OrderNumber       string           `json:"order_number" db:"order_number"`
	CustomerName      string           `json:"customer_name" db:"customer_name"`
	Phone             string           `json:"phone" db:"phone"`
	BillingPhone      string           `json:"billing_phone,omitempty" db:"billing_phone"`
	PaymentTypeID     *uuid.UUID       `json:"payment_type_id,omitempty" db:"payment_type_id"`
	DeliveryAddressID *uuid.UUID       `json:"delivery_address_id,omitempty" db:"delivery_address_id"`
	Latitude          *float64         `json:"latitude,omitempty" db:"latitude"`
	Longitude         *float64         `json:"longitude,omitempty" db:"longitude"`
	DeliveryCost      *decimal.Decimal `json:"delivery_cost,omitempty" db:"delivery_cost"`
	Comment           string           `json:"comment" db:"comment"`
	Status            Status           `json:"status" db:"status"`
	TotalAmount       decimal.Decimal  `json:"total_amount" db:"total_amount"`
	IikoOrderID       *string          `json:"iiko_order_id,omitempty" db:"iiko_order_id"`
	CorrelationID     *string          `json:"correlation_id,omitempty" db:"correlation_id"`
	DeliveryNumber    *string          `json:"delivery_number,omitempty" db:"delivery_number"`
	SubmittingAt      *time.Time       `json:"-" db:"submitting_at"`
	SentAt            *time.Time       `json:"sent_at,omitempty" db:"sent_at"`
	QueryToIiko       json.RawMessage  `json:"-" db:"query_to_iiko"`
	IikoResponse      json.RawMessage  `json:"-" db:"iiko_response"`
	ErrorMessage      *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`

	Items   []Item   `json:"items,omitempty" db:"-"`
	Address *Address `json:"address,omitempty" db:"-"`
}

type Item struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	TotalPrice  decimal.Decimal `json:"total_price" db:"total_price"`

	Modifiers []ItemModifier `json:"modifiers,omitempty" db:"-"`
	// Product: товар каталога со всеми определениями модификаторов; заполняется при загрузке для отправки.
	Product *catalog.Product `json:"-" db:"-"`
}

type ItemModifier struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrderItemID  uuid.UUID       `json:"order_item_id" db:"order_item_id"`
	ModifierID   *uuid.UUID      `json:"modifier_id,omitempty" db:"modifier_id"`
	ModifierName string          `json:"modifier_name" db:"modifier_name"`
	Quantity     int             `json:"quantity" db:"quantity"` // на одну единицу товара
	Price        decimal.Decimal `json:"price" db:"price"`

	// Modifier: nil, если строка каталога удалена после оформления заказа.
	Modifier *catalog.Modifier `json:"-" db:"-"`
}

type Address struct {
	ID       uuid.UUID `json:"id" db:"id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	City     string    `json:"city" db:"city"`
	Street   string    `json:"street" db:"street"`
	House    string    `json:"house" db:"house"`
	Flat     string    `json:"flat" db:"flat"`
	Entrance string    `json:"entrance" db:"entrance"`
	Floor    string    `json:"floor" db:"floor"`
	Comment  string    `json:"comment" db:"comment"`
}
