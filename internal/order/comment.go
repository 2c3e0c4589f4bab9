package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

const (
	DefaultCustomerName = "Клиент"
	defaultPaymentName  = "Не указан"
)

type CommentInput struct {
	PaymentName     string
	SystemType      organization.SystemType
	BillingPhone    string
	DeliveryCost    *decimal.Decimal
	CustomerComment string
}

// RenderComment собирает текст комментария для iiko: у iiko нет полей под способ
// оплаты и стоимость доставки, поэтому они уходят строками комментария.
func RenderComment(in CommentInput) string {
	name := strings.TrimSpace(in.PaymentName)
	if name == "" {
		name = defaultPaymentName
	}

	lines := []string{fmt.Sprintf("Оплата: %s.", name)}

	if in.SystemType == organization.SystemRemotePayment && in.BillingPhone != "" {
		lines = append(lines, fmt.Sprintf("Номер телефона для оплаты: %s.", in.BillingPhone))
	}

	if in.DeliveryCost != nil {
		if in.DeliveryCost.IsZero() {
			lines = append(lines, "Доставка: Бесплатная.")
		} else {
			lines = append(lines, fmt.Sprintf("Доставка: Платная. Сумма: %s ₸.", in.DeliveryCost.String()))
		}
	}

	if c := strings.TrimSpace(in.CustomerComment); c != "" {
		lines = append(lines, c)
	}
	return strings.Join(lines, "\n")
}

func customerName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return DefaultCustomerName
}
