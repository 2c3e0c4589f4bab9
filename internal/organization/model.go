package organization

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Organization struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"` // organizationId в iiko
	Name       string    `json:"name" db:"name"`
	APIKey     string    `json:"-" db:"api_key"`
	City       string    `json:"city" db:"city"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// WorkingHours: окно работы терминала в формате "HH:MM"; End < Start означает окно через полночь.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Terminal struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	ExternalID          string        `json:"external_id" db:"external_id"` // terminalGroupId в iiko
	OrganizationID      uuid.UUID     `json:"organization_id" db:"organization_id"`
	Name                string        `json:"name" db:"name"`
	Address             string        `json:"address" db:"address"`
	WorkingHours        *WorkingHours `json:"working_hours,omitempty" db:"-"`
	StopListIntervalMin *int          `json:"stop_list_interval_min,omitempty" db:"stop_list_interval_min"`
	StopListSyncedAt    *time.Time    `json:"stop_list_synced_at,omitempty" db:"stop_list_synced_at"`
	IsActive            bool          `json:"is_active" db:"is_active"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

type SystemType string

const (
	SystemCash           SystemType = "cash"
	SystemRemotePayment  SystemType = "remote_payment"
	SystemCardOnDelivery SystemType = "card_on_delivery"
)

func (s SystemType) String() string {
	return string(s)
}

type PaymentType struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	ExternalID     string     `json:"external_id" db:"external_id"`
	Name           string     `json:"name" db:"name"`
	Kind           string     `json:"kind" db:"kind"` // paymentTypeKind из iiko
	SystemType     SystemType `json:"system_type" db:"system_type"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type Discount struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id" db:"organization_id"`
	ExternalID      string          `json:"external_id" db:"external_id"`
	Name            string          `json:"name" db:"name"`
	Percent         decimal.Decimal `json:"percent" db:"percent"`
	Mode            string          `json:"mode" db:"mode"`
	IsManual        bool            `json:"is_manual" db:"is_manual"`
	IsDeletedInIiko bool            `json:"is_deleted_in_iiko" db:"is_deleted_in_iiko"`
	IsActive        bool            `json:"is_active" db:"is_active"` // false, если скидка пропала из ответа iiko
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// DiscountSyncResult: итог синхронизации скидок одной организации.
type DiscountSyncResult struct {
	Synced      int `json:"synced"`
	Deactivated int `json:"deactivated"`
}

// systemTypeForKind: начальное значение для новых способов оплаты; дальше его
// правит оператор, повторная синхронизация не перезаписывает.
func systemTypeForKind(kind string) SystemType {
	switch kind {
	case "Cash":
		return SystemCash
	case "Card":
		return SystemCardOnDelivery
	default:
		return SystemRemotePayment
	}
}
