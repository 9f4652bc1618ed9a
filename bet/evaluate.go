package bet

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Evaluation is the outcome of checking every selection of a bet.
type Evaluation struct {
	Outcome        Status
	Results        []SelectionResult
	EffectiveOdds  decimal.Decimal
	VoidSelections []string
	// Missing lists selections whose event or market has no result yet.
	// When non-empty the bet cannot be settled.
	Missing []string
}

// EvaluateSelection resolves one selection against its event's result.
func EvaluateSelection(s Selection, r EventResult) SelectionResult {
	if r.Status == EventCancelled || r.Status == EventPostponed {
		return ResultVoid
	}
	m, ok := r.Markets[s.MarketID]
	if !ok {
		return ResultPending
	}
	if m.Void {
		return ResultVoid
	}
	if slices.Contains(m.WinningOutcomes, s.OutcomeID) {
		return ResultWon
	}
	return ResultLost
}

// Evaluate resolves a bet. A single lost selection loses the whole bet.
// Void selections drop out of the odds; a bet whose selections are all void
// is void.
func Evaluate(selections []Selection, results Results) Evaluation {
	ev := Evaluation{
		Results:       make([]SelectionResult, len(selections)),
		EffectiveOdds: decimal.NewFromInt(1),
	}

	lost, void := false, 0
	for i, s := range selections {
		r, ok := results[s.EventID]
		res := ResultPending
		if ok {
			res = EvaluateSelection(s, r)
		}
		ev.Results[i] = res

		switch res {
		case ResultPending:
			ev.Missing = append(ev.Missing, s.ID.String())
		case ResultLost:
			lost = true
		case ResultVoid:
			void++
			ev.VoidSelections = append(ev.VoidSelections, s.ID.String())
		case ResultWon:
			ev.EffectiveOdds = ev.EffectiveOdds.Mul(s.Odds)
		}
	}

	switch {
	case len(ev.Missing) > 0:
		ev.Outcome = StatusPending
	case lost:
		ev.Outcome = StatusLost
	case void == len(selections):
		ev.Outcome = StatusVoid
	default:
		ev.Outcome = StatusWon
	}
	return ev
}

// CombinedOdds multiplies the odds of every selection.
func CombinedOdds(selections []Selection) decimal.Decimal {
	odds := decimal.NewFromInt(1)
	for _, s := range selections {
		odds = odds.Mul(s.Odds)
	}
	return odds
}

// CommonScope returns the sport and league shared by every selection. A
// dimension the selections disagree on comes back empty.
func CommonScope(selections []Selection) (sport, league string) {
	if len(selections) == 0 {
		return "", ""
	}
	sport, league = selections[0].Sport, selections[0].League
	for _, s := range selections[1:] {
		if s.Sport != sport {
			sport = ""
		}
		if s.League != league {
			league = ""
		}
	}
	return sport, league
}
