package iiko

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// APIError описывает неуспешный вызов iiko: сетевой сбой (StatusCode == 0)
// или ответ с кодом вне 2xx.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("iiko: %s request failed: %v", e.Path, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("iiko: %s returned %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("iiko: %s returned %d: %s", e.Path, e.StatusCode, truncate(e.Body, 512))
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsAPIError сообщает, пришла ли ошибка от iiko (а не из нашей инфраструктуры).
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// не режем многобайтовую руну посередине
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
