// Package scorer turns a trade signal and a wallet fingerprint into a
// weighted alert score. Scoring is pure arithmetic; everything here is
// deterministic and side-effect free.
package scorer

import (
	"math"

	"polywatch/internal/model"
)

// Factor weights. Wallet evidence dominates because impact alone is
// what the detector already gated on.
const (
	weightWallet = 0.60
	weightImpact = 0.40
)

// Wallet factor points per flag.
const (
	pointsCEXFunded         = 25
	pointsLowActivity       = 20
	pointsYoung             = 15
	pointsHighConcentration = 15
	pointsFreshFatBet       = 25
	pointsLowVolume         = 10
	pointsHighNetflow       = 10
	pointsSinglePurpose     = 5
	pointsSuspiciousBonus   = 15
)

// Impact factor sub-weights.
const (
	impactWeightOI    = 0.60
	impactWeightPrice = 0.40
)

// Classification thresholds on the total score.
const (
	thresholdStrong = 85
	thresholdHigh   = 70
	thresholdMedium = 50
)

// Score combines the wallet and impact factors into a 0-100 total.
func Score(signal *model.TradeSignal, fp *model.WalletFingerprint) model.AlertScore {
	wallet := walletFactor(fp)
	impact := impactFactor(signal)

	total := int(math.Round(weightWallet*wallet + weightImpact*impact))
	if total > 100 {
		total = 100
	}

	return model.AlertScore{
		TotalScore:         total,
		WalletContribution: wallet,
		ImpactContribution: impact,
		Classification:     Classify(total),
	}
}

// walletFactor scores the fingerprint's flags. Chain and subgraph flags
// that express the same suspicion (low activity, young account) count
// once, so a chain-less fingerprint is not structurally penalized.
func walletFactor(fp *model.WalletFingerprint) float64 {
	if fp == nil {
		return 0
	}

	points := 0.0

	lowActivity := fp.Subgraph.LowTradeCount
	young := fp.Subgraph.YoungAccount
	if fp.Chain != nil {
		if fp.Chain.CEXFunded {
			points += pointsCEXFunded
		}
		if fp.Chain.HighPolymarketNetflow {
			points += pointsHighNetflow
		}
		if fp.Chain.SinglePurpose {
			points += pointsSinglePurpose
		}
		lowActivity = lowActivity || fp.Chain.LowTxCount
		young = young || fp.Chain.YoungWallet
	}

	if lowActivity {
		points += pointsLowActivity
	}
	if young {
		points += pointsYoung
	}
	if fp.Subgraph.HighConcentration {
		points += pointsHighConcentration
	}
	if fp.Subgraph.FreshFatBet {
		points += pointsFreshFatBet
	}
	if fp.Subgraph.LowVolume {
		points += pointsLowVolume
	}
	if fp.IsSuspicious {
		points += pointsSuspiciousBonus
	}

	return math.Min(100, points)
}

// impactFactor scores how hard the trade hit the market, from the
// signal's OI share and estimated price impact.
func impactFactor(signal *model.TradeSignal) float64 {
	if signal == nil {
		return 0
	}
	oi := math.Min(100, signal.OIPercentage)
	impact := math.Min(100, signal.PriceImpact)
	return math.Min(100, impactWeightOI*oi+impactWeightPrice*impact)
}

// Classify maps a total score to its alert band.
func Classify(total int) string {
	switch {
	case total >= thresholdStrong:
		return model.ClassStrongInsider
	case total >= thresholdHigh:
		return model.ClassHighConfidence
	case total >= thresholdMedium:
		return model.ClassMediumConfidence
	default:
		return model.ClassLogOnly
	}
}

// ShouldAlert reports whether the score clears the persistence floor.
func ShouldAlert(score model.AlertScore, minWalletScore float64) bool {
	return float64(score.TotalScore) >= minWalletScore
}
