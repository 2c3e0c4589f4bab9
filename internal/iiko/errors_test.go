package iiko_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
)

func TestAPIError_TruncatesOnRuneBoundary(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "cyrillic", body: strings.Repeat("ж", 400)},
		{name: "odd ascii prefix", body: "x" + strings.Repeat("ж", 400)},
		{name: "short body", body: "Терминал недоступен"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := &iiko.APIError{Path: "/api/1/deliveries/create", StatusCode: 400, Body: tc.body}
			msg := err.Error()

			assert.True(t, utf8.ValidString(msg), "message must stay valid UTF-8")
			assert.LessOrEqual(t, len(msg), len("iiko: /api/1/deliveries/create returned 400: ")+512+len("..."))
			if len(tc.body) <= 512 {
				assert.True(t, strings.HasSuffix(msg, tc.body))
			}
		})
	}
}
