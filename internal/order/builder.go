package order

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

// Ошибки сборки заказа означают, что каталог расходится с заказом и меню нужно пересинхронизировать.
var (
	ErrModifierUnresolved  = errors.New("order modifier has no linked catalog modifier")
	ErrInvalidModifierCode = errors.New("modifier has empty or invalid modifier_code")
	ErrProductUnresolved   = errors.New("order item has no linked catalog product")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrNoTerminal          = errors.New("no terminal configured for order")
)

const defaultCity = "Алматы"

// Submission: всё, что нужно для сборки тела /deliveries/create.
type Submission struct {
	Order        *Order
	Organization *organization.Organization
	Terminal     *organization.Terminal
}

// BuildPayload детерминированно превращает сохранённый заказ в документ iiko.
func BuildPayload(s Submission) (*iiko.DeliveryRequest, error) {
	if s.Terminal == nil || s.Terminal.ExternalID == "" {
		return nil, ErrNoTerminal
	}
	o := s.Order

	lines := make([]iiko.OrderLine, 0, len(o.Items))
	for _, item := range o.Items {
		itemLines, err := buildLines(o, item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, itemLines...)
	}

	phone := NormalizePhone(o.Phone)
	req := &iiko.DeliveryRequest{
		OrganizationID:  s.Organization.ExternalID,
		TerminalGroupID: s.Terminal.ExternalID,
		Order: iiko.DeliveryOrder{
			OrderServiceType: iiko.ServiceTypeCourier,
			Customer: iiko.Customer{
				Name:  customerName(o.CustomerName),
				Phone: phone,
			},
			Phone:   phone,
			Items:   lines,
			Comment: o.Comment,
		},
	}

	req.Order.DeliveryPoint = deliveryPoint(o, s.Organization)
	if req.Order.DeliveryPoint == nil {
		req.Order.OrderServiceType = iiko.ServiceTypePickup
	}
	return req, nil
}

func buildLines(o *Order, item Item) ([]iiko.OrderLine, error) {
	if item.Product == nil {
		return nil, fmt.Errorf("%w: item %q (%s)", ErrProductUnresolved, item.ProductName, item.ID)
	}
	if item.Quantity <= 0 {
		return nil, fmt.Errorf("%w: item %q has quantity %d", ErrInvalidQuantity, item.ProductName, item.Quantity)
	}

	modifiers, err := resolveModifiers(o, item)
	if err != nil {
		return nil, err
	}

	price := item.Price.InexactFloat64()
	if len(modifiers) == 0 {
		return []iiko.OrderLine{{
			Type:      iiko.ItemTypeProduct,
			ProductID: item.Product.ExternalID,
			Amount:    item.Quantity,
			Price:     price,
		}}, nil
	}

	// iiko не принимает одну строку с amount > 1 и модификаторами: раскладываем по единице.
	lines := make([]iiko.OrderLine, 0, item.Quantity)
	for i := 0; i < item.Quantity; i++ {
		mods := make([]iiko.LineModifier, len(modifiers))
		copy(mods, modifiers)
		lines = append(lines, iiko.OrderLine{
			Type:      iiko.ItemTypeProduct,
			ProductID: item.Product.ExternalID,
			Amount:    1,
			Price:     price,
			Modifiers: mods,
		})
	}
	return lines, nil
}

// resolveModifiers: выбранные клиентом модификаторы (на единицу товара), склеенные по коду,
// плюс обязательные модификаторы товара не ниже их минимума.
func resolveModifiers(o *Order, item Item) ([]iiko.LineModifier, error) {
	var (
		codes   []string
		amounts = make(map[string]int)
	)

	for _, sel := range item.Modifiers {
		if sel.Modifier == nil {
			log.Error().Stringer("order_id", o.ID).Str("product", item.ProductName).Str("modifier", sel.ModifierName).
				Msg("builder: order modifier has no linked catalog modifier, menu must be re-synced")
			return nil, fmt.Errorf("%w: %q of item %q", ErrModifierUnresolved, sel.ModifierName, item.ProductName)
		}
		code := catalog.NormalizeCode(sel.Modifier.Code)
		if code == "" {
			log.Error().Stringer("order_id", o.ID).Str("product", item.ProductName).Stringer("modifier_id", sel.Modifier.ID).
				Msg("builder: modifier has invalid code, menu must be re-synced")
			return nil, fmt.Errorf("%w: %q of item %q", ErrInvalidModifierCode, sel.ModifierName, item.ProductName)
		}
		if sel.Quantity <= 0 {
			return nil, fmt.Errorf("%w: modifier %q of item %q", ErrInvalidQuantity, sel.ModifierName, item.ProductName)
		}

		if _, seen := amounts[code]; seen {
			log.Warn().Stringer("order_id", o.ID).Str("product", item.ProductName).Str("modifier_code", code).
				Msg("builder: duplicate modifier merged")
		} else {
			codes = append(codes, code)
		}
		amounts[code] += sel.Quantity
	}

	for _, def := range item.Product.Modifiers {
		if !def.Mandatory() {
			continue
		}
		code := catalog.NormalizeCode(def.Code)
		if code == "" {
			return nil, fmt.Errorf("%w: required modifier %q of product %q", ErrInvalidModifierCode, def.Name, item.ProductName)
		}
		minimum := def.MinimumAmount()
		current, selected := amounts[code]
		switch {
		case !selected:
			codes = append(codes, code)
			amounts[code] = minimum
		case current < minimum:
			amounts[code] = minimum
		}
	}

	out := make([]iiko.LineModifier, 0, len(codes))
	for _, code := range codes {
		out = append(out, iiko.LineModifier{ProductID: code, Amount: amounts[code]})
	}
	return out, nil
}

func deliveryPoint(o *Order, org *organization.Organization) *iiko.DeliveryPoint {
	if o.Address != nil {
		addr := &iiko.Address{
			City:     o.Address.City,
			House:    o.Address.House,
			Flat:     o.Address.Flat,
			Entrance: o.Address.Entrance,
			Floor:    o.Address.Floor,
			Comment:  o.Address.Comment,
		}
		if o.Address.Street != "" {
			addr.Street = &iiko.Street{Name: o.Address.Street}
		}
		return &iiko.DeliveryPoint{Address: addr}
	}

	if o.Latitude != nil && o.Longitude != nil {
		city := org.City
		if city == "" {
			city = defaultCity
		}
		return &iiko.DeliveryPoint{
			Type:        iiko.DeliveryPointCoordinates,
			Coordinates: &iiko.Coordinates{Latitude: *o.Latitude, Longitude: *o.Longitude},
			Address:     &iiko.Address{City: city},
		}
	}
	return nil
}
