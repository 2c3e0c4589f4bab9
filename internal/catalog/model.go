package catalog

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type SourceType string

const (
	SourceNomenclature SourceType = "nomenclature"
	SourceExternal     SourceType = "external"
)

func (s SourceType) String() string {
	return string(s)
}

type Menu struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	OrganizationID  uuid.UUID  `json:"organization_id" db:"organization_id"`
	Name            string     `json:"name" db:"name"`
	SourceType      SourceType `json:"source_type" db:"source_type"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	ExternalMenuID  string     `json:"external_menu_id,omitempty" db:"external_menu_id"`
	PriceCategoryID string     `json:"price_category_id,omitempty" db:"price_category_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

type Category struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	MenuID     uuid.UUID  `json:"menu_id" db:"menu_id"`
	ExternalID string     `json:"external_id" db:"external_id"`
	Name       string     `json:"name" db:"name"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	SortOrder  int        `json:"sort_order" db:"sort_order"`
}

type Product struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	MenuID       uuid.UUID       `json:"menu_id" db:"menu_id"`
	CategoryID   *uuid.UUID      `json:"category_id,omitempty" db:"category_id"`
	ExternalID   string          `json:"external_id" db:"external_id"` // productId в iiko
	Code         string          `json:"code" db:"code"`
	Name         string          `json:"name" db:"name"`
	Description  string          `json:"description" db:"description"`
	Price        decimal.Decimal `json:"price" db:"price"`
	ImageURL     string          `json:"image_url" db:"image_url"`
	MeasureUnit  string          `json:"measure_unit" db:"measure_unit"`
	Type         string          `json:"type" db:"product_type"`
	SortOrder    int             `json:"sort_order" db:"sort_order"`
	IsAvailable  bool            `json:"is_available" db:"is_available"`
	HasModifiers bool            `json:"has_modifiers" db:"has_modifiers"`
	Raw          json.RawMessage `json:"-" db:"raw"`
	Modifiers    []Modifier      `json:"modifiers,omitempty" db:"-"`
}

type Modifier struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ProductID  uuid.UUID       `json:"product_id" db:"product_id"`
	Code       string          `json:"modifier_code" db:"modifier_code"` // productId модификатора в iiko
	Name       string          `json:"name" db:"name"`
	GroupID    string          `json:"group_id,omitempty" db:"group_id"`
	MinAmount  int             `json:"min_amount" db:"min_amount"`
	MaxAmount  int             `json:"max_amount" db:"max_amount"`
	IsRequired bool            `json:"is_required" db:"is_required"`
	Price      decimal.Decimal `json:"price" db:"price"`
	SortOrder  int             `json:"sort_order" db:"sort_order"`
}

// Mandatory: модификатор должен попасть в заказ, даже если клиент его не выбрал.
func (m Modifier) Mandatory() bool {
	return m.IsRequired || m.MinAmount > 0
}

// MinimumAmount: количество, с которым обязательный модификатор подставляется в заказ.
func (m Modifier) MinimumAmount() int {
	if m.MinAmount > 0 {
		return m.MinAmount
	}
	if m.IsRequired {
		return 1
	}
	return 0
}

// ValidCode: непустой код, не равный строковому "None", пришедшему из грязных выгрузок.
func ValidCode(code string) bool {
	return NormalizeCode(code) != ""
}
