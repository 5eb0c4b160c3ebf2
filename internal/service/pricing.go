package service

import (
	"strings"

	"fieldserve/internal/config"
)

// Pricing resolves coupon discounts against the configured coupon list.
type Pricing struct {
	coupons map[string]config.Coupon
}

func NewPricing(coupons []config.Coupon) *Pricing {
	m := make(map[string]config.Coupon, len(coupons))
	for _, c := range coupons {
		m[strings.ToUpper(c.Code)] = c
	}
	return &Pricing{coupons: m}
}

// ResolveDiscount returns the discount for the given coupon code.
// Unknown or disabled codes yield zero. The discount never exceeds the price.
func (p *Pricing) ResolveDiscount(code string, price int64) int64 {
	if code == "" || price <= 0 {
		return 0
	}
	c, ok := p.coupons[strings.ToUpper(code)]
	if !ok || !c.Enabled {
		return 0
	}
	var off int64
	switch c.Mode {
	case config.FeeModeFlat:
		off = c.Value
	case config.FeeModePercent:
		off = price * c.Value / 100
	}
	if c.MaxOff > 0 && off > c.MaxOff {
		off = c.MaxOff
	}
	if off > price {
		off = price
	}
	if off < 0 {
		off = 0
	}
	return off
}
