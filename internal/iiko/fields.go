package iiko

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Fields: декодированный JSON-объект iiko. Одно и то же значение в разных
// версиях API приходит под разными ключами, поэтому геттеры принимают список
// ключей-синонимов и возвращают первое непустое значение.
type Fields map[string]any

func (f Fields) Value(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f Fields) String(keys ...string) string {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}
		if s := toString(v); s != "" {
			return s
		}
	}
	return ""
}

func (f Fields) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := toFloat(v); ok {
			return n, true
		}
	}
	return 0, false
}

// Number возвращает числовое значение в исходном текстовом виде (без потерь точности).
func (f Fields) Number(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			return n.String(), true
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64), true
		case int:
			return strconv.Itoa(n), true
		case string:
			s := strings.TrimSpace(n)
			if _, err := strconv.ParseFloat(s, 64); err == nil {
				return s, true
			}
		}
	}
	return "", false
}

func (f Fields) Int(keys ...string) (int, bool) {
	n, ok := f.Float(keys...)
	if !ok {
		return 0, false
	}
	return int(n), true
}

func (f Fields) Bool(keys ...string) (bool, bool) {
	for _, k := range keys {
		switch b := f[k].(type) {
		case bool:
			return b, true
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed, true
			}
		}
	}
	return false, false
}

// Object возвращает вложенный объект; nil, если ключа нет или это не объект.
func (f Fields) Object(keys ...string) Fields {
	for _, k := range keys {
		if obj, ok := asFields(f[k]); ok {
			return obj
		}
	}
	return nil
}

// List возвращает объекты массива, пропуская элементы других типов.
func (f Fields) List(keys ...string) []Fields {
	for _, k := range keys {
		arr, ok := f[k].([]any)
		if !ok {
			continue
		}
		out := make([]Fields, 0, len(arr))
		for _, item := range arr {
			if obj, ok := asFields(item); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

func (f Fields) Strings(key string) []string {
	arr, ok := f[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s := toString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (f Fields) Raw() json.RawMessage {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return raw
}

func asFields(v any) (Fields, bool) {
	switch obj := v.(type) {
	case Fields:
		return obj, true
	case map[string]any:
		return Fields(obj), true
	}
	return nil, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

type MenuShape int

const (
	ShapeUnknown MenuShape = iota
	ShapeNomenclature
	ShapeExternal
)

func (s MenuShape) String() string {
	switch s {
	case ShapeNomenclature:
		return "nomenclature"
	case ShapeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// DetectMenuShape различает ответ /nomenclature (groups/products) и
// внешнее меню /api/2/menu/by_id (itemCategories).
func DetectMenuShape(f Fields) MenuShape {
	switch {
	case f.Has("itemCategories"):
		return ShapeExternal
	case f.Has("products") || f.Has("groups"):
		return ShapeNomenclature
	default:
		return ShapeUnknown
	}
}
