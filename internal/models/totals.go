package models

// Totals holds the two cost bases an order is priced on: what the house
// pays (real) and what the customer pays (public).
type Totals struct {
	Real   float64 `json:"real"`
	Public float64 `json:"public"`
}

// Add returns the component-wise sum of two totals.
func (t Totals) Add(other Totals) Totals {
	return Totals{Real: t.Real + other.Real, Public: t.Public + other.Public}
}

// LineTotals computes the totals of a single order line:
// unit cost times quantity plus every extra across its consumptions.
func LineTotals(line *OrderLine) Totals {
	t := Totals{
		Real:   line.UnitRealCost * float64(line.Quantity),
		Public: line.UnitPublicCost * float64(line.Quantity),
	}
	for _, c := range line.Consumptions {
		for _, e := range c.Extras {
			t.Real += e.RealCost
			t.Public += e.PublicCost
		}
	}
	return t
}

// OrderTotals computes the totals of an order from its current lines.
// Totals are derived state only; they are never persisted or patched
// independently of the lines they summarize.
func OrderTotals(order *Order) Totals {
	var t Totals
	for i := range order.Lines {
		t = t.Add(LineTotals(&order.Lines[i]))
	}
	return t
}
