package stoplist

import (
	"sort"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
)

// TerminalItems находит в ответе /stop_lists подсписок терминала:
// terminalGroupStopLists[] (организация) → items[] (терминал) → items[] (товары).
// found=false, если терминала в ответе нет; для сверки это то же самое, что пустой список.
func TerminalItems(resp iiko.Fields, organizationExternalID, terminalExternalID string) ([]Item, bool) {
	var (
		items []Item
		found bool
	)
	for _, orgBlock := range resp.List("terminalGroupStopLists") {
		if orgID := orgBlock.String("organizationId"); orgID != "" && organizationExternalID != "" &&
			!strings.EqualFold(orgID, organizationExternalID) {
			continue
		}
		for _, group := range orgBlock.List("items") {
			if !strings.EqualFold(group.String("terminalGroupId"), terminalExternalID) {
				continue
			}
			found = true
			for _, raw := range group.List("items") {
				id := raw.String("productId", "id", "itemId", "product_id")
				if id == "" {
					continue
				}
				balance := decimal.Zero
				if n, ok := raw.Number("balance", "amount"); ok {
					if b, err := decimal.NewFromString(n); err == nil {
						balance = b
					}
				}
				items = append(items, Item{ProductExternalID: id, Balance: balance})
			}
		}
	}
	return items, found
}

// Resolve сопоставляет позиции стоп-листа с товарами активного меню. Повторы
// одного товара схлопываются, последний остаток побеждает.
func Resolve(items []Item, products map[string]uuid.UUID) (map[uuid.UUID]decimal.Decimal, []string) {
	desired := make(map[uuid.UUID]decimal.Decimal, len(items))
	var unresolved []string
	for _, it := range items {
		id, ok := products[it.ProductExternalID]
		if !ok {
			unresolved = append(unresolved, it.ProductExternalID)
			continue
		}
		desired[id] = it.Balance
	}
	return desired, unresolved
}

type Upsert struct {
	ProductID uuid.UUID
	Balance   decimal.Decimal
}

// Plan сравнивает текущие строки терминала с желаемым набором. Пишутся только
// новые и изменившиеся строки, поэтому повторная сверка с теми же данными
// ничего не меняет. Строки, которых нет в желаемом наборе, удаляются, включая ручные.
func Plan(existing []Entry, desired map[uuid.UUID]decimal.Decimal) ([]Upsert, []uuid.UUID) {
	current := make(map[uuid.UUID]Entry, len(existing))
	for _, e := range existing {
		current[e.ProductID] = e
	}

	var upserts []Upsert
	for productID, balance := range desired {
		e, ok := current[productID]
		if ok && e.IsAutoAdded && e.Balance.Equal(balance) {
			continue
		}
		upserts = append(upserts, Upsert{ProductID: productID, Balance: balance})
	}

	var deletes []uuid.UUID
	for _, e := range existing {
		if _, ok := desired[e.ProductID]; !ok {
			deletes = append(deletes, e.ID)
		}
	}

	sort.Slice(upserts, func(i, j int) bool { return upserts[i].ProductID.String() < upserts[j].ProductID.String() })
	return upserts, deletes
}
