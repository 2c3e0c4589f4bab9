package stoplist

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Entry: товар, недоступный на терминале.
type Entry struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	ProductID      uuid.UUID       `json:"product_id" db:"product_id"`
	TerminalID     uuid.UUID       `json:"terminal_id" db:"terminal_id"`
	OrganizationID uuid.UUID       `json:"organization_id" db:"organization_id"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	Reason         string          `json:"reason" db:"reason"`
	IsAutoAdded    bool            `json:"is_auto_added" db:"is_auto_added"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Item: позиция стоп-листа в ответе iiko, до сопоставления с локальным товаром.
type Item struct {
	ProductExternalID string
	Balance           decimal.Decimal
}

type Result struct {
	TerminalID uuid.UUID `json:"terminal_id"`
	Upserted   int       `json:"upserted"`
	Deleted    int       `json:"deleted"`
	Unresolved []string  `json:"unresolved,omitempty"`
}

// Summary: итог прохода планировщика.
type Summary struct {
	Synced  int    `json:"synced"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	Reason  string `json:"reason,omitempty"`
}

const ReasonOutsideWorkingHours = "outside_working_hours"
