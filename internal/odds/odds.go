// Package odds computes the display split of a parimutuel market.
//
// The split is informational only: payouts are decided at settlement from
// the final pools, never from the percentages shown while betting is open.
package odds

import (
	"github.com/shopspring/decimal"

	"github.com/predicthub/wager-engine/internal/model"
)

// Percentages returns yesPct = round(yes / (yes+no) * 100) and
// noPct = 100 - yesPct. An empty market shows 50/50.
//
// The division is exact and ties round half to even, so 12.5 shows as 12
// and 57.5 as 58. A float64 evaluation can land just below such a tie and
// round the other way; this one never does.
func Percentages(yesPool, noPool int64) model.Odds {
	total := yesPool + noPool
	if total <= 0 {
		return model.Odds{YesPct: 50, NoPct: 50}
	}

	q, r := (yesPool*100)/total, (yesPool*100)%total
	switch {
	case 2*r > total:
		q++
	case 2*r == total && q%2 == 1:
		q++
	}

	return model.Odds{YesPct: int(q), NoPct: 100 - int(q)}
}

// ForMarket is Percentages applied to a market's current pools.
func ForMarket(m *model.Market) model.Odds {
	return Percentages(m.YesPool, m.NoPool)
}

// Multiplier is the gross return per unit staked on side if the market
// resolved now: total / pool[side]. Zero when nobody has backed that side.
func Multiplier(m *model.Market, side model.Choice) decimal.Decimal {
	pool := m.Pool(side)
	if pool <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.TotalPool()).DivRound(decimal.NewFromInt(pool), 4)
}
