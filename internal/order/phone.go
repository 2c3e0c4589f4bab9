package order

import "strings"

// NormalizePhone оставляет только цифры, переводит 8XXXXXXXXXX в 7XXXXXXXXXX
// и добавляет "+" к номерам от 10 цифр или к исходно международным.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	if len(digits) == 11 && digits[0] == '8' {
		digits = "7" + digits[1:]
	}
	if strings.HasPrefix(raw, "+") || len(digits) >= 10 {
		return "+" + digits
	}
	return digits
}
