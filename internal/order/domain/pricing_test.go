package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDiscountedUnitPrice(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		discount int
		want     string
	}{
		{"quarter off round", "100.00", 25, "75"},
		{"no discount", "9.99", 0, "9.99"},
		{"quarter off odd cents rounds half up", "19.99", 25, "14.99"},
		{"max discount", "39.99", 90, "4"},
		{"max discount tiny price", "0.01", 90, "0"},
		{"half off midpoint rounds up", "10.05", 50, "5.03"},
		{"ten percent", "9.99", 10, "8.99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := decimal.RequireFromString(tt.base)
			got := DiscountedUnitPrice(base, tt.discount)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", got, tt.want)
		})
	}
}

func TestLineTotalRoundsPerLine(t *testing.T) {
	item := OrderItem{Quantity: 2, UnitPrice: decimal.RequireFromString("14.99")}
	assert.True(t, item.LineTotal().Equal(decimal.RequireFromString("29.98")))

	item = OrderItem{Quantity: 3, UnitPrice: decimal.RequireFromString("0.01")}
	assert.True(t, item.LineTotal().Equal(decimal.RequireFromString("0.03")))
}
