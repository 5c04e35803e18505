// Package pricing implements the pure repricing decision: given a product,
// a competitor price and the run settings, derive the candidate price and
// classify the outcome. No I/O, no clock, no hidden state.
package pricing

import (
	"github.com/pricekit/repricer/pkg/models"
)

// Decision is the result of evaluating one product against one competitor price.
type Decision struct {
	CandidatePrice int64
	Margin         int64
	Outcome        models.Outcome
}

// Decide derives the candidate price and classifies it.
//
// Order of checks matters: the loss guard runs before the margin test, and
// the no-regression test only applies to candidates that survived both.
func Decide(product *models.Product, competitorPrice int64, settings models.ReconciliationSettings) Decision {
	candidate := competitorPrice - settings.DiscountAmount

	// A candidate below the configured floor is clamped and always excluded
	// as a loss, regardless of the cost and margin checks below.
	if candidate < settings.MinPrice {
		candidate = settings.MinPrice
		return Decision{
			CandidatePrice: candidate,
			Margin:         candidate - product.CostPrice,
			Outcome:        models.OutcomeExcludedLoss,
		}
	}

	margin := candidate - product.CostPrice
	decision := Decision{
		CandidatePrice: candidate,
		Margin:         margin,
	}

	switch {
	case settings.ExcludeLoss && product.CostKnown() && candidate < product.CostPrice:
		decision.Outcome = models.OutcomeExcludedLoss
	case margin < settings.MinMargin:
		decision.Outcome = models.OutcomeExcludedLowMargin
	case candidate >= product.CurrentPrice:
		// Never propose a price at or above the live listing.
		decision.Outcome = models.OutcomeKeepCurrent
	default:
		decision.Outcome = models.OutcomeUpdateCandidate
	}

	return decision
}
