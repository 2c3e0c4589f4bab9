package catalog

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
)

const defaultMeasureUnit = "порц"

// Snapshot: нормализованное содержимое одного меню, готовое к записи одной транзакцией.
type Snapshot struct {
	Menu       MenuSpec
	Categories []CategoryRecord
	Products   []ProductRecord
}

func (s Snapshot) Empty() bool {
	return len(s.Categories) == 0 && len(s.Products) == 0
}

type MenuSpec struct {
	Name            string
	SourceType      SourceType
	ExternalMenuID  string
	PriceCategoryID string
	Activate        bool
}

type CategoryRecord struct {
	ExternalID       string
	Name             string
	ParentExternalID string
	SortOrder        int
}

type ProductRecord struct {
	ExternalID         string
	CategoryExternalID string
	Code               string
	Name               string
	Description        string
	ImageURL           string
	MeasureUnit        string
	Type               string
	Price              decimal.Decimal
	SortOrder          int
	Raw                json.RawMessage
	Modifiers          []ModifierRecord
}

func (p ProductRecord) HasModifiers() bool {
	return len(p.Modifiers) > 0
}

type ModifierRecord struct {
	Code       string
	Name       string
	GroupID    string
	MinAmount  int
	MaxAmount  int
	IsRequired bool
	Price      decimal.Decimal
}

// NormalizeCode обрезает пробелы и отбрасывает "None"/"null", которые приходят
// вместо отсутствующего идентификатора.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if strings.EqualFold(code, "none") || strings.EqualFold(code, "null") {
		return ""
	}
	return code
}

// ResolvePrice: цена из priceCategoryPrices для указанной ценовой категории,
// затем прямое поле price, затем первая цена во вложенных itemSizes/sizePrices/prices,
// иначе 0. Останавливается на первом найденном значении.
func ResolvePrice(item iiko.Fields, priceCategoryID string) decimal.Decimal {
	if priceCategoryID != "" {
		if p, ok := priceForCategory(item, priceCategoryID, 0); ok {
			return p
		}
	}
	if p, ok := priceValue(item, "price"); ok {
		return p
	}
	if p, ok := nestedPrice(item, 0); ok {
		return p
	}
	return decimal.Zero
}

var priceContainers = []string{"itemSizes", "sizePrices", "prices"}

const maxPriceDepth = 3

func priceForCategory(item iiko.Fields, priceCategoryID string, depth int) (decimal.Decimal, bool) {
	for _, entry := range item.List("priceCategoryPrices", "pricesByCategory") {
		if !strings.EqualFold(entry.String("priceCategoryId", "categoryId", "id"), priceCategoryID) {
			continue
		}
		if p, ok := priceValue(entry, "price", "currentPrice"); ok {
			return p, true
		}
	}
	if depth >= maxPriceDepth {
		return decimal.Zero, false
	}
	for _, key := range priceContainers {
		for _, nested := range item.List(key) {
			if p, ok := priceForCategory(nested, priceCategoryID, depth+1); ok {
				return p, true
			}
		}
	}
	return decimal.Zero, false
}

func nestedPrice(item iiko.Fields, depth int) (decimal.Decimal, bool) {
	if depth >= maxPriceDepth {
		return decimal.Zero, false
	}
	for _, key := range priceContainers {
		for _, entry := range item.List(key) {
			if p, ok := priceValue(entry, "price", "currentPrice"); ok {
				return p, true
			}
			if p, ok := nestedPrice(entry, depth+1); ok {
				return p, true
			}
		}
	}
	return decimal.Zero, false
}

// priceValue понимает и число, и объект вида {"currentPrice": ...}.
func priceValue(f iiko.Fields, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		if obj := f.Object(key); obj != nil {
			if p, ok := priceValue(obj, "currentPrice", "price", "value"); ok {
				return p, true
			}
			continue
		}
		if raw, ok := f.Number(key); ok {
			p, err := decimal.NewFromString(raw)
			if err == nil {
				return p, true
			}
		}
	}
	return decimal.Zero, false
}

func isDeleted(f iiko.Fields) bool {
	deleted, _ := f.Bool("isDeleted")
	return deleted
}

func intOr(f iiko.Fields, def int, keys ...string) int {
	if n, ok := f.Int(keys...); ok {
		return n
	}
	return def
}

// sellable: в меню попадают только блюда и товары; модификаторы и услуги живут внутри них.
func sellable(p iiko.Fields) bool {
	if isDeleted(p) {
		return false
	}
	switch strings.ToLower(p.String("type")) {
	case "dish", "good":
		return true
	default:
		return false
	}
}

type nomenclature struct {
	groups       []iiko.Fields
	groupByID    map[string]iiko.Fields
	children     map[string][]string
	products     []iiko.Fields
	productsByID map[string]iiko.Fields
}

func indexNomenclature(payload iiko.Fields) *nomenclature {
	n := &nomenclature{
		groupByID:    make(map[string]iiko.Fields),
		children:     make(map[string][]string),
		productsByID: make(map[string]iiko.Fields),
	}
	for _, g := range payload.List("groups") {
		id := g.String("id")
		if id == "" || isDeleted(g) {
			continue
		}
		n.groups = append(n.groups, g)
		n.groupByID[id] = g
		if parent := g.String("parentGroup"); parent != "" {
			n.children[parent] = append(n.children[parent], id)
		}
	}
	for _, p := range payload.List("products") {
		id := p.String("id")
		if id == "" {
			continue
		}
		n.productsByID[id] = p
		if sellable(p) {
			n.products = append(n.products, p)
		}
	}
	return n
}

// descendants: все потомки группы (без неё самой), обход в ширину без рекурсии.
func (n *nomenclature) descendants(rootID string) map[string]bool {
	out := make(map[string]bool)
	queue := append([]string(nil), n.children[rootID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if out[id] || id == rootID {
			continue
		}
		out[id] = true
		queue = append(queue, n.children[id]...)
	}
	return out
}

func (n *nomenclature) snapshot(spec MenuSpec, inScope func(p iiko.Fields) bool, allowedGroup func(id string) bool) Snapshot {
	snap := Snapshot{Menu: spec}

	var scoped []iiko.Fields
	referenced := make(map[string]bool)
	for _, p := range n.products {
		if !inScope(p) {
			continue
		}
		scoped = append(scoped, p)
		for _, key := range []string{"groupId", "parentGroup"} {
			if id := p.String(key); id != "" {
				referenced[id] = true
			}
		}
	}

	// Группы без ссылающихся товаров: контейнеры модификаторов, в категории не попадают.
	survived := make(map[string]bool)
	for _, g := range n.groups {
		id := g.String("id")
		if referenced[id] && allowedGroup(id) {
			survived[id] = true
		}
	}

	for _, g := range n.groups {
		id := g.String("id")
		if !survived[id] {
			continue
		}
		rec := CategoryRecord{
			ExternalID: id,
			Name:       g.String("name"),
			SortOrder:  intOr(g, 0, "order"),
		}
		if parent := g.String("parentGroup"); survived[parent] {
			rec.ParentExternalID = parent
		}
		if rec.Name == "" {
			rec.Name = id
		}
		snap.Categories = append(snap.Categories, rec)
	}

	for _, p := range scoped {
		rec, ok := n.product(p, survived, spec.PriceCategoryID)
		if ok {
			snap.Products = append(snap.Products, rec)
		}
	}
	return snap
}

func (n *nomenclature) product(p iiko.Fields, categories map[string]bool, priceCategoryID string) (ProductRecord, bool) {
	id := p.String("id")
	name := p.String("name")
	if name == "" {
		log.Warn().Str("product_id", id).Msg("catalog: product without name skipped")
		return ProductRecord{}, false
	}

	rec := ProductRecord{
		ExternalID:  id,
		Code:        p.String("code"),
		Name:        name,
		Description: p.String("description"),
		MeasureUnit: p.String("measureUnit"),
		Type:        p.String("type"),
		Price:       ResolvePrice(p, priceCategoryID),
		SortOrder:   intOr(p, 0, "order"),
		Raw:         p.Raw(),
	}
	if rec.MeasureUnit == "" {
		rec.MeasureUnit = defaultMeasureUnit
	}
	if links := p.Strings("imageLinks"); len(links) > 0 {
		rec.ImageURL = links[0]
	}

	groupID, parentID := p.String("groupId"), p.String("parentGroup")
	switch {
	case categories[groupID]:
		rec.CategoryExternalID = groupID
	case categories[parentID]:
		rec.CategoryExternalID = parentID
	default:
		log.Warn().Str("product_id", id).Str("group_id", groupID).Str("parent_group", parentID).
			Msg("catalog: category not found for product")
	}

	rec.Modifiers = n.modifiers(p, priceCategoryID)
	return rec, true
}

func (n *nomenclature) modifiers(p iiko.Fields, priceCategoryID string) []ModifierRecord {
	var out []ModifierRecord
	productID := p.String("id")

	for _, group := range p.List("groupModifiers") {
		required, _ := group.Bool("required")
		groupMin := intOr(group, 0, "minAmount")
		groupMax := intOr(group, 0, "maxAmount")
		groupID := group.String("id")

		for _, child := range group.List("childModifiers") {
			childRequired, _ := child.Bool("required")
			rec, ok := n.modifier(productID, child, priceCategoryID)
			if !ok {
				continue
			}
			rec.GroupID = groupID
			rec.IsRequired = required || childRequired
			rec.MinAmount = intOr(child, groupMin, "minAmount")
			rec.MaxAmount = maxAmount(intOr(child, groupMax, "maxAmount"), rec.MinAmount)
			out = append(out, rec)
		}
	}

	for _, mod := range p.List("modifiers") {
		rec, ok := n.modifier(productID, mod, priceCategoryID)
		if !ok {
			continue
		}
		rec.IsRequired, _ = mod.Bool("required")
		rec.MinAmount = intOr(mod, 0, "minAmount")
		rec.MaxAmount = maxAmount(intOr(mod, 0, "maxAmount"), rec.MinAmount)
		out = append(out, rec)
	}
	return out
}

func (n *nomenclature) modifier(productID string, entry iiko.Fields, priceCategoryID string) (ModifierRecord, bool) {
	code := NormalizeCode(entry.String("id", "productId"))
	if code == "" {
		log.Warn().Str("product_id", productID).Msg("catalog: modifier without usable id skipped")
		return ModifierRecord{}, false
	}

	rec := ModifierRecord{Code: code, Name: entry.String("name")}
	linked := n.productsByID[code]
	if rec.Name == "" && linked != nil {
		rec.Name = linked.String("name")
	}
	if rec.Name == "" {
		rec.Name = "Modifier " + code
	}

	if p, ok := priceValue(entry, "price"); ok {
		rec.Price = p
	} else if linked != nil {
		rec.Price = ResolvePrice(linked, priceCategoryID)
	}
	return rec, true
}

// maxAmount: 0 или отсутствие: "не больше одного", но не меньше минимума.
func maxAmount(maxQty, minQty int) int {
	if maxQty <= 0 {
		maxQty = 1
	}
	if maxQty < minQty {
		maxQty = minQty
	}
	return maxQty
}

// BuildNomenclature собирает полный снимок меню из ответа /nomenclature.
func BuildNomenclature(payload iiko.Fields, spec MenuSpec) Snapshot {
	n := indexNomenclature(payload)
	return n.snapshot(spec,
		func(iiko.Fields) bool { return true },
		func(string) bool { return true },
	)
}

// BuildSelectedRoots: частичный импорт: по меню на каждую выбранную корневую группу.
// Сама корневая группа категорией не становится. Неизвестные корни возвращаются вторым значением.
func BuildSelectedRoots(payload iiko.Fields, rootIDs []string, priceCategoryID string) ([]Snapshot, []string) {
	n := indexNomenclature(payload)

	var (
		snapshots []Snapshot
		missing   []string
	)
	for _, rootID := range rootIDs {
		root, ok := n.groupByID[rootID]
		if !ok {
			missing = append(missing, rootID)
			continue
		}
		closure := n.descendants(rootID)
		inTree := func(id string) bool { return id == rootID || closure[id] }

		name := root.String("name")
		if name == "" {
			name = rootID
		}
		spec := MenuSpec{Name: name, SourceType: SourceNomenclature, PriceCategoryID: priceCategoryID}

		snapshots = append(snapshots, n.snapshot(spec,
			func(p iiko.Fields) bool { return inTree(p.String("groupId")) || inTree(p.String("parentGroup")) },
			func(id string) bool { return closure[id] },
		))
	}
	return snapshots, missing
}

type RootGroup struct {
	ExternalID    string `json:"id"`
	Name          string `json:"name"`
	GroupCount    int    `json:"group_count"`
	ProductCount  int    `json:"product_count"`
	IsModifierBox bool   `json:"is_modifier_group"`
}

// RootGroups перечисляет корневые группы номенклатуры, чтобы выбрать их для частичного импорта.
func RootGroups(payload iiko.Fields) []RootGroup {
	n := indexNomenclature(payload)

	var roots []RootGroup
	for _, g := range n.groups {
		if g.String("parentGroup") != "" {
			continue
		}
		id := g.String("id")
		closure := n.descendants(id)
		count := 0
		for _, p := range n.products {
			if gid := p.String("groupId"); gid == id || closure[gid] {
				count++
			}
		}
		isModifier, _ := g.Bool("isGroupModifier")
		roots = append(roots, RootGroup{
			ExternalID:    id,
			Name:          g.String("name"),
			GroupCount:    len(closure),
			ProductCount:  count,
			IsModifierBox: isModifier,
		})
	}
	return roots
}

// BuildExternal разбирает внешнее меню /api/2/menu/by_id (itemCategories[].items[]).
func BuildExternal(payload iiko.Fields, spec MenuSpec) Snapshot {
	snap := Snapshot{Menu: spec}

	for i, cat := range payload.List("itemCategories") {
		catID := cat.String("id")
		if catID == "" {
			log.Warn().Int("index", i).Msg("catalog: external category without id skipped")
			continue
		}
		if isDeleted(cat) {
			continue
		}
		name := cat.String("name")
		if name == "" {
			name = catID
		}
		snap.Categories = append(snap.Categories, CategoryRecord{ExternalID: catID, Name: name, SortOrder: i})

		for j, item := range cat.List("items") {
			rec, ok := externalProduct(item, catID, spec.PriceCategoryID)
			if !ok {
				continue
			}
			rec.SortOrder = j
			snap.Products = append(snap.Products, rec)
		}
	}
	return snap
}

func externalProduct(item iiko.Fields, categoryID, priceCategoryID string) (ProductRecord, bool) {
	if isDeleted(item) {
		return ProductRecord{}, false
	}
	sizes := item.List("itemSizes")

	id := item.String("id", "itemId")
	if id == "" {
		for _, size := range sizes {
			if id = size.String("itemId"); id != "" {
				break
			}
		}
	}
	name := item.String("name")
	if id == "" || name == "" {
		log.Warn().Str("item_id", id).Str("category_id", categoryID).Msg("catalog: external item without id or name skipped")
		return ProductRecord{}, false
	}

	rec := ProductRecord{
		ExternalID:         id,
		CategoryExternalID: categoryID,
		Code:               item.String("sku", "code"),
		Name:               name,
		Description:        item.String("description"),
		ImageURL:           item.String("buttonImageUrl"),
		MeasureUnit:        item.String("measureUnit"),
		Type:               item.String("type"),
		Price:              ResolvePrice(item, priceCategoryID),
		Raw:                item.Raw(),
	}
	if rec.MeasureUnit == "" {
		rec.MeasureUnit = defaultMeasureUnit
	}
	if rec.Type == "" {
		rec.Type = "Dish"
	}
	if rec.ImageURL == "" && len(sizes) > 0 {
		rec.ImageURL = sizes[0].String("buttonImageUrl")
	}

	for _, size := range sizes {
		groups := size.List("itemModifierGroups")
		if len(groups) == 0 {
			continue
		}
		rec.Modifiers = externalModifiers(id, groups, priceCategoryID)
		break
	}
	return rec, true
}

func externalModifiers(productID string, groups []iiko.Fields, priceCategoryID string) []ModifierRecord {
	var out []ModifierRecord
	for _, group := range groups {
		restrictions := group.Object("restrictions")
		if restrictions == nil {
			restrictions = iiko.Fields{}
		}
		groupMin := intOr(restrictions, 0, "minQuantity")
		groupMax := intOr(restrictions, 0, "maxQuantity")
		groupRequired, _ := restrictions.Bool("required")
		groupID := group.String("itemGroupId", "id")

		for _, it := range group.List("items") {
			code := NormalizeCode(it.String("itemId", "id", "productId"))
			if code == "" {
				log.Warn().Str("product_id", productID).Str("group_id", groupID).Msg("catalog: external modifier without usable id skipped")
				continue
			}
			own := it.Object("restrictions")
			if own == nil {
				own = iiko.Fields{}
			}
			minQty := intOr(own, groupMin, "minQuantity")
			required, _ := own.Bool("required")

			name := it.String("name")
			if name == "" {
				name = "Modifier " + code
			}
			out = append(out, ModifierRecord{
				Code:       code,
				Name:       name,
				GroupID:    groupID,
				MinAmount:  minQty,
				MaxAmount:  maxAmount(intOr(own, groupMax, "maxQuantity"), minQty),
				IsRequired: groupRequired || required,
				Price:      ResolvePrice(it, priceCategoryID),
			})
		}
	}
	return out
}
