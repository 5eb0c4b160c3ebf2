package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fieldserve/internal/config"
)

func TestResolveDiscount(t *testing.T) {
	pricing := NewPricing([]config.Coupon{
		{Code: "welcome10", Mode: config.FeeModePercent, Value: 10, MaxOff: 50, Enabled: true},
		{Code: "FLAT200", Mode: config.FeeModeFlat, Value: 200, Enabled: true},
		{Code: "DISABLED", Mode: config.FeeModeFlat, Value: 100, Enabled: false},
	})

	tests := []struct {
		name  string
		code  string
		price int64
		want  int64
	}{
		{"percent", "WELCOME10", 400, 40},
		{"percent capped by max_off", "WELCOME10", 10000, 50},
		{"case insensitive", "welcome10", 400, 40},
		{"flat", "FLAT200", 1000, 200},
		{"flat never exceeds price", "FLAT200", 150, 150},
		{"unknown code", "NOPE", 1000, 0},
		{"disabled code", "DISABLED", 1000, 0},
		{"empty code", "", 1000, 0},
		{"zero price", "FLAT200", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pricing.ResolveDiscount(tt.code, tt.price))
		})
	}
}
