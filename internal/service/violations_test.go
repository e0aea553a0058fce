package service

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestViolationsRecordMalformedNumbersAtTheirField(t *testing.T) {
	v := &violations{}
	if _, ok := v.decimalOr(numIn(""), decimal.Zero, "items", 0, "discount_amount"); ok {
		t.Fatalf("empty discount must not fall back to zero")
	}
	if d, ok := v.decimalOr(numIn("12.5"), decimal.Zero, "items", 0, "tax_rate"); !ok || !d.Equal(dec("12.5")) {
		t.Fatalf("unexpected tax rate %s, %v", d, ok)
	}
	if _, ok := v.period(numIn("18446744073709551616"), "items", 1, "rental_period"); ok {
		t.Fatalf("period beyond the maximum must be rejected")
	}
	if _, ok := v.period(numIn("2.5"), "items", 2, "rental_period"); ok {
		t.Fatalf("fractional period must be rejected")
	}
	if p, ok := v.period(numIn("30"), "items", 3, "rental_period"); !ok || p != 30 {
		t.Fatalf("unexpected period %d, %v", p, ok)
	}

	want := map[string]string{
		"body items 0 discount_amount": "decimal_parsing",
		"body items 1 rental_period":   "less_than_equal",
		"body items 2 rental_period":   "int_parsing",
	}
	locs := validationDetails(t, v.err())
	if len(locs) != len(want) {
		t.Fatalf("expected %d details, got %v", len(want), locs)
	}
	for i, loc := range locs {
		if kind, ok := want[loc]; !ok || v.details[i].Type != kind {
			t.Fatalf("unexpected detail %s of type %s", loc, v.details[i].Type)
		}
	}
	if !v.has("items", 1) || v.has("items", 3) {
		t.Fatalf("has reports the wrong lines")
	}
}
