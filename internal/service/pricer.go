package service

import (
	"fmt"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/shopspring/decimal"
)

var bpsScale = decimal.NewFromInt(10_000)

// Quote is the pricer's verdict on one order.
type Quote struct {
	Accept    bool
	SpreadBps decimal.Decimal
	Reason    string
}

// Pricer decides whether an order is worth filling. With no allow-list and
// no minimum spread every order is accepted as priced.
type Pricer struct {
	allowed      map[uint32]bool
	minSpreadBps decimal.Decimal
	checkSpread  bool
}

func NewPricer(allowedDestinations []uint32, minSpreadBps int64) *Pricer {
	p := &Pricer{
		minSpreadBps: decimal.NewFromInt(minSpreadBps),
		checkSpread:  minSpreadBps != 0,
	}
	if len(allowedDestinations) > 0 {
		p.allowed = make(map[uint32]bool, len(allowedDestinations))
		for _, id := range allowedDestinations {
			p.allowed[id] = true
		}
	}
	return p
}

// Evaluate computes the spread of o in basis points of AmountIn and applies
// the policy. Amounts are compared raw, token decimals are not normalized.
func (p *Pricer) Evaluate(o model.OrderData) Quote {
	q := Quote{Accept: true, SpreadBps: spreadBps(o)}

	if p.allowed != nil && !p.allowed[o.DestinationDomain] {
		q.Accept = false
		q.Reason = fmt.Sprintf("destination %d not allowed", o.DestinationDomain)
		return q
	}
	if p.checkSpread && q.SpreadBps.LessThan(p.minSpreadBps) {
		q.Accept = false
		q.Reason = fmt.Sprintf("spread %s bps below minimum %s", q.SpreadBps.StringFixed(2), p.minSpreadBps)
	}
	return q
}

func spreadBps(o model.OrderData) decimal.Decimal {
	if o.AmountIn.IsZero() {
		return decimal.Zero
	}
	in := decimal.NewFromBigInt(o.AmountIn.ToBig(), 0)
	out := decimal.NewFromBigInt(o.AmountOut.ToBig(), 0)
	return in.Sub(out).Div(in).Mul(bpsScale)
}
