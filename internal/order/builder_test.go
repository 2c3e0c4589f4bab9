package order_test

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

func builderOrganization() *organization.Organization {
	return &organization.Organization{ID: uuid.Must(uuid.NewV4()), ExternalID: "org-ext", Name: "Pizza", City: "Астана"}
}

func builderTerminal() *organization.Terminal {
	return &organization.Terminal{ID: uuid.Must(uuid.NewV4()), ExternalID: "tg-ext", Name: "Центр", IsActive: true}
}

// productWithRequired: товар P с обязательным модификатором M1 (код X1, минимум 1).
func productWithRequired() *catalog.Product {
	return &catalog.Product{
		ID:         uuid.Must(uuid.NewV4()),
		ExternalID: "P",
		Name:       "Пицца",
		Price:      decimal.NewFromInt(2500),
		Modifiers: []catalog.Modifier{
			{ID: uuid.Must(uuid.NewV4()), Code: "X1", Name: "M1", MinAmount: 1, MaxAmount: 1, IsRequired: true},
			{ID: uuid.Must(uuid.NewV4()), Code: "X2", Name: "Сыр", MaxAmount: 3, Price: decimal.NewFromInt(300)},
		},
	}
}

func itemOf(p *catalog.Product, qty int, selected ...order.ItemModifier) order.Item {
	return order.Item{
		ID:          uuid.Must(uuid.NewV4()),
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    qty,
		Price:       p.Price,
		Product:     p,
		Modifiers:   selected,
	}
}

func selectedOf(def *catalog.Modifier, qty int) order.ItemModifier {
	return order.ItemModifier{
		ID:           uuid.Must(uuid.NewV4()),
		ModifierID:   &def.ID,
		ModifierName: def.Name,
		Quantity:     qty,
		Price:        def.Price,
		Modifier:     def,
	}
}

func submissionOf(items ...order.Item) order.Submission {
	return order.Submission{
		Order: &order.Order{
			ID:           uuid.Must(uuid.NewV4()),
			CustomerName: "Айгерим",
			Phone:        "8 777 123 45 67",
			Comment:      "Оплата: Наличные.",
			Items:        items,
		},
		Organization: builderOrganization(),
		Terminal:     builderTerminal(),
	}
}

func TestBuildPayload_RequiredModifierExpandedPerUnit(t *testing.T) {
	p := productWithRequired()
	s := submissionOf(itemOf(p, 2))

	req, err := order.BuildPayload(s)
	require.NoError(t, err)

	want := []iiko.OrderLine{
		{Type: "Product", ProductID: "P", Amount: 1, Price: 2500, Modifiers: []iiko.LineModifier{{ProductID: "X1", Amount: 1}}},
		{Type: "Product", ProductID: "P", Amount: 1, Price: 2500, Modifiers: []iiko.LineModifier{{ProductID: "X1", Amount: 1}}},
	}
	if diff := cmp.Diff(want, req.Order.Items); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "org-ext", req.OrganizationID)
	assert.Equal(t, "tg-ext", req.TerminalGroupID)
}

func TestBuildPayload_ExpansionPreservesQuantity(t *testing.T) {
	p := productWithRequired()
	plain := &catalog.Product{ID: uuid.Must(uuid.NewV4()), ExternalID: "W", Name: "Вода", Price: decimal.NewFromInt(400)}

	testCases := []struct {
		name      string
		item      order.Item
		wantLines int
	}{
		{name: "without modifiers stays one line", item: itemOf(plain, 5), wantLines: 1},
		{name: "with modifiers one line per unit", item: itemOf(p, 3, selectedOf(&p.Modifiers[1], 2)), wantLines: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := order.BuildPayload(submissionOf(tc.item))
			require.NoError(t, err)
			require.Len(t, req.Order.Items, tc.wantLines)

			total := 0
			for _, line := range req.Order.Items {
				total += line.Amount
			}
			assert.Equal(t, tc.item.Quantity, total)
		})
	}
}

func TestBuildPayload_LinesDoNotShareModifiers(t *testing.T) {
	p := productWithRequired()
	req, err := order.BuildPayload(submissionOf(itemOf(p, 2)))
	require.NoError(t, err)

	req.Order.Items[0].Modifiers[0].Amount = 42
	assert.Equal(t, 1, req.Order.Items[1].Modifiers[0].Amount)
}

func TestBuildPayload_ModifierCompleteness(t *testing.T) {
	p := productWithRequired()
	p.Modifiers = append(p.Modifiers, catalog.Modifier{ID: uuid.Must(uuid.NewV4()), Code: "X3", Name: "Соус", MinAmount: 2, MaxAmount: 4})

	testCases := []struct {
		name     string
		selected []order.ItemModifier
		want     []iiko.LineModifier
	}{
		{
			name: "missing required added at minimum",
			want: []iiko.LineModifier{{ProductID: "X1", Amount: 1}, {ProductID: "X3", Amount: 2}},
		},
		{
			name:     "selection below minimum raised",
			selected: []order.ItemModifier{selectedOf(&p.Modifiers[2], 1)},
			want:     []iiko.LineModifier{{ProductID: "X3", Amount: 2}, {ProductID: "X1", Amount: 1}},
		},
		{
			name:     "selection above minimum kept",
			selected: []order.ItemModifier{selectedOf(&p.Modifiers[2], 3)},
			want:     []iiko.LineModifier{{ProductID: "X3", Amount: 3}, {ProductID: "X1", Amount: 1}},
		},
		{
			name:     "duplicates merged in first-seen order",
			selected: []order.ItemModifier{selectedOf(&p.Modifiers[1], 1), selectedOf(&p.Modifiers[0], 1), selectedOf(&p.Modifiers[1], 2)},
			want:     []iiko.LineModifier{{ProductID: "X2", Amount: 3}, {ProductID: "X1", Amount: 1}, {ProductID: "X3", Amount: 2}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := order.BuildPayload(submissionOf(itemOf(p, 1, tc.selected...)))
			require.NoError(t, err)
			require.Len(t, req.Order.Items, 1)
			if diff := cmp.Diff(tc.want, req.Order.Items[0].Modifiers); diff != "" {
				t.Errorf("modifiers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildPayload_IntegrityErrors(t *testing.T) {
	testCases := []struct {
		name    string
		item    func() order.Item
		wantErr error
	}{
		{
			name: "selected modifier lost its catalog row",
			item: func() order.Item {
				p := productWithRequired()
				sel := selectedOf(&p.Modifiers[1], 1)
				sel.ModifierID, sel.Modifier = nil, nil
				return itemOf(p, 1, sel)
			},
			wantErr: order.ErrModifierUnresolved,
		},
		{
			name: "selected modifier has None code",
			item: func() order.Item {
				p := productWithRequired()
				p.Modifiers[1].Code = "None"
				return itemOf(p, 1, selectedOf(&p.Modifiers[1], 1))
			},
			wantErr: order.ErrInvalidModifierCode,
		},
		{
			name: "required modifier has empty code",
			item: func() order.Item {
				p := productWithRequired()
				p.Modifiers[0].Code = " "
				return itemOf(p, 1)
			},
			wantErr: order.ErrInvalidModifierCode,
		},
		{
			name: "product removed from catalog",
			item: func() order.Item {
				it := itemOf(productWithRequired(), 1)
				it.Product = nil
				return it
			},
			wantErr: order.ErrProductUnresolved,
		},
		{
			name: "zero quantity",
			item: func() order.Item {
				return itemOf(productWithRequired(), 0)
			},
			wantErr: order.ErrInvalidQuantity,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := order.BuildPayload(submissionOf(tc.item()))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestBuildPayload_NoTerminal(t *testing.T) {
	s := submissionOf(itemOf(productWithRequired(), 1))
	s.Terminal = nil

	_, err := order.BuildPayload(s)
	assert.ErrorIs(t, err, order.ErrNoTerminal)
}

func TestBuildPayload_DeliveryPoint(t *testing.T) {
	lat, lon := 43.238949, 76.889709

	t.Run("saved address", func(t *testing.T) {
		s := submissionOf(itemOf(productWithRequired(), 1))
		s.Order.Address = &order.Address{City: "Алматы", Street: "Абая", House: "10", Flat: "5"}

		req, err := order.BuildPayload(s)
		require.NoError(t, err)

		want := &iiko.DeliveryPoint{Address: &iiko.Address{City: "Алматы", Street: &iiko.Street{Name: "Абая"}, House: "10", Flat: "5"}}
		if diff := cmp.Diff(want, req.Order.DeliveryPoint); diff != "" {
			t.Errorf("delivery point mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, iiko.ServiceTypeCourier, req.Order.OrderServiceType)
	})

	t.Run("coordinates use organization city", func(t *testing.T) {
		s := submissionOf(itemOf(productWithRequired(), 1))
		s.Order.Latitude, s.Order.Longitude = &lat, &lon

		req, err := order.BuildPayload(s)
		require.NoError(t, err)

		want := &iiko.DeliveryPoint{
			Type:        iiko.DeliveryPointCoordinates,
			Coordinates: &iiko.Coordinates{Latitude: lat, Longitude: lon},
			Address:     &iiko.Address{City: "Астана"},
		}
		if diff := cmp.Diff(want, req.Order.DeliveryPoint); diff != "" {
			t.Errorf("delivery point mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("coordinates fall back to default city", func(t *testing.T) {
		s := submissionOf(itemOf(productWithRequired(), 1))
		s.Organization.City = ""
		s.Order.Latitude, s.Order.Longitude = &lat, &lon

		req, err := order.BuildPayload(s)
		require.NoError(t, err)
		assert.Equal(t, "Алматы", req.Order.DeliveryPoint.Address.City)
	})

	t.Run("no address is pickup", func(t *testing.T) {
		req, err := order.BuildPayload(submissionOf(itemOf(productWithRequired(), 1)))
		require.NoError(t, err)
		assert.Nil(t, req.Order.DeliveryPoint)
		assert.Equal(t, iiko.ServiceTypePickup, req.Order.OrderServiceType)
	})
}

func TestBuildPayload_Customer(t *testing.T) {
	s := submissionOf(itemOf(productWithRequired(), 1))
	s.Order.CustomerName = "  "

	req, err := order.BuildPayload(s)
	require.NoError(t, err)

	assert.Equal(t, iiko.Customer{Name: order.DefaultCustomerName, Phone: "+77771234567"}, req.Order.Customer)
	assert.Equal(t, "+77771234567", req.Order.Phone)
	assert.Equal(t, "Оплата: Наличные.", req.Order.Comment)
}
