package export

import (
	"strings"
	"testing"
	"time"
)

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents    int64
		expected string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{150, "$1.50"},
		{123450, "$1234.50"},
		{-995, "-$9.95"},
	}

	for _, tt := range tests {
		if got := FormatCents(tt.cents); got != tt.expected {
			t.Errorf("FormatCents(%d) = %q, want %q", tt.cents, got, tt.expected)
		}
	}
}

func TestRenderInvoiceHTML(t *testing.T) {
	data := TemplateData{
		Number:       "INV-2042",
		Status:       "open",
		CustomerName: "Pat Keeler",
		BoatName:     "Wanderer",
		IssuedAt:     time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		DueAt:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Lines: []TemplateLine{
			{Description: "Bottom paint", Quantity: 1, AmountCents: 120000},
			{Description: "Anode set", Quantity: 4, AmountCents: 18000},
		},
		TotalCents: 138000,
	}

	html, err := RenderInvoiceHTML(data)
	if err != nil {
		t.Fatalf("RenderInvoiceHTML: %v", err)
	}

	for _, want := range []string{"INV-2042", "Pat Keeler", "Wanderer", "Bottom paint", "$1200.00", "$1380.00"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered invoice missing %q", want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"INV-100", "INV-100"},
		{"", "invoice"},
		{"a/b\\c:d", "abcd"},
		{"spring haul out", "spring-haul-out"},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}
