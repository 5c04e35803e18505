package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pricekit/repricer/pkg/models"
)

func testProduct(currentPrice, costPrice int64) *models.Product {
	return &models.Product{
		Brand:        "acme",
		Name:         "widget",
		CurrentPrice: currentPrice,
		CostPrice:    costPrice,
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name            string
		product         *models.Product
		competitorPrice int64
		settings        models.ReconciliationSettings
		wantCandidate   int64
		wantMargin      int64
		wantOutcome     models.Outcome
	}{
		{
			name:            "undercut produces update candidate",
			product:         testProduct(10000, 6000),
			competitorPrice: 9800,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 500, ExcludeLoss: true},
			wantCandidate:   9700,
			wantMargin:      3700,
			wantOutcome:     models.OutcomeUpdateCandidate,
		},
		{
			name:            "candidate equal to current price keeps current",
			product:         testProduct(9700, 6000),
			competitorPrice: 9800,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 500, ExcludeLoss: true},
			wantCandidate:   9700,
			wantMargin:      3700,
			wantOutcome:     models.OutcomeKeepCurrent,
		},
		{
			name:            "candidate above current price keeps current",
			product:         testProduct(9000, 6000),
			competitorPrice: 9800,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 500, ExcludeLoss: true},
			wantCandidate:   9700,
			wantMargin:      3700,
			wantOutcome:     models.OutcomeKeepCurrent,
		},
		{
			name:            "margin below threshold is excluded",
			product:         testProduct(10000, 9300),
			competitorPrice: 9800,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 500, ExcludeLoss: true},
			wantCandidate:   9700,
			wantMargin:      400,
			wantOutcome:     models.OutcomeExcludedLowMargin,
		},
		{
			name:            "margin exactly at threshold qualifies",
			product:         testProduct(10000, 9200),
			competitorPrice: 9800,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 500, ExcludeLoss: true},
			wantCandidate:   9700,
			wantMargin:      500,
			wantOutcome:     models.OutcomeUpdateCandidate,
		},
		{
			name:            "loss guard fires before margin test",
			product:         testProduct(10000, 8000),
			competitorPrice: 7900,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 0, ExcludeLoss: true},
			wantCandidate:   7800,
			wantMargin:      -200,
			wantOutcome:     models.OutcomeExcludedLoss,
		},
		{
			name:            "loss guard disabled falls through to margin test",
			product:         testProduct(10000, 8000),
			competitorPrice: 7900,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 0, ExcludeLoss: false},
			wantCandidate:   7800,
			wantMargin:      -200,
			wantOutcome:     models.OutcomeExcludedLowMargin,
		},
		{
			name:            "unknown cost skips loss guard and treats margin against zero basis",
			product:         testProduct(10000, 0),
			competitorPrice: 9800,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 500, ExcludeLoss: true},
			wantCandidate:   9700,
			wantMargin:      9700,
			wantOutcome:     models.OutcomeUpdateCandidate,
		},
		{
			name:            "candidate floored to one minor unit is always a loss exclusion",
			product:         testProduct(10000, 0),
			competitorPrice: 50,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 0, ExcludeLoss: false},
			wantCandidate:   1,
			wantMargin:      1,
			wantOutcome:     models.OutcomeExcludedLoss,
		},
		{
			name:            "zero candidate is floored and excluded",
			product:         testProduct(10000, 500),
			competitorPrice: 100,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 0, ExcludeLoss: false},
			wantCandidate:   1,
			wantMargin:      -499,
			wantOutcome:     models.OutcomeExcludedLoss,
		},
		{
			name:            "candidate at cost is not a loss",
			product:         testProduct(10000, 7800),
			competitorPrice: 7900,
			settings:        models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 0, ExcludeLoss: true},
			wantCandidate:   7800,
			wantMargin:      0,
			wantOutcome:     models.OutcomeUpdateCandidate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := Decide(tt.product, tt.competitorPrice, tt.settings)

			assert.Equal(t, tt.wantCandidate, decision.CandidatePrice)
			assert.Equal(t, tt.wantMargin, decision.Margin)
			assert.Equal(t, tt.wantOutcome, decision.Outcome)
		})
	}
}

func TestDecideRespectsConfiguredFloor(t *testing.T) {
	settings := models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 500, MinMargin: 0, ExcludeLoss: false}

	below := Decide(testProduct(10000, 200), 550, settings)
	assert.Equal(t, int64(500), below.CandidatePrice)
	assert.Equal(t, models.OutcomeExcludedLoss, below.Outcome)

	above := Decide(testProduct(10000, 200), 700, settings)
	assert.Equal(t, int64(600), above.CandidatePrice)
	assert.Equal(t, models.OutcomeUpdateCandidate, above.Outcome)
}

func TestDecideNeverProposesIncrease(t *testing.T) {
	settings := models.ReconciliationSettings{DiscountAmount: 100, MinPrice: 1, MinMargin: 0, ExcludeLoss: false}

	for competitor := int64(50); competitor <= 12000; competitor += 175 {
		product := testProduct(9000, 4000)
		decision := Decide(product, competitor, settings)

		if decision.Outcome == models.OutcomeUpdateCandidate {
			assert.Less(t, decision.CandidatePrice, product.CurrentPrice,
				"candidate must undercut the current price (competitor=%d)", competitor)
		}
	}
}
