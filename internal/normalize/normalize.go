// Package normalize converts each data source's native wallet history
// into the common NormalizedWallet shape, checks the two sources
// against each other, and merges them into one record.
package normalize

import (
	"fmt"
	"math"
	"time"

	"polywatch/clients/dataapi"
	"polywatch/clients/subgraph"
	"polywatch/internal/model"
)

// Confidence deductions per missing sub-field.
const (
	deductNoActivity        = 50
	deductNoPositions       = 20
	deductNoClosedPositions = 10
	deductNoAccount         = 50
)

// Consistency deductions.
const (
	deductTradeCountDivergence = 10
	deductVolumeDivergence     = 15
	deductAgeDivergence        = 5
	deductMajorDiscrepancy     = 50
)

const millisPerDay = 24 * 60 * 60 * 1000

// Stubbed in tests.
var timeNow = time.Now

// toMillis widens unix-seconds timestamps; the data API and the
// subgraph both report seconds.
func toMillis(ts int64) int64 {
	if ts > 0 && ts < 1e12 {
		return ts * 1000
	}
	return ts
}

// Platform normalizes the data API's four-view user record.
func Platform(address string, data *dataapi.UserData) model.NormalizedWallet {
	w := model.NormalizedWallet{
		Address:    address,
		DataSource: model.SourcePlatform,
	}
	score := 100.0

	if data == nil || len(data.Activity) == 0 {
		score -= deductNoActivity
		w.Warnings = append(w.Warnings, "platform reported no activity")
		w.Confidence = confidence(score, w.Warnings)
		if data == nil {
			return w
		}
	}

	markets := make(map[string]struct{})
	var first, last int64
	for _, a := range data.Activity {
		if a.Type != "TRADE" {
			continue
		}
		w.TradeCount++
		w.VolumeUSD += a.UsdcSize
		ts := toMillis(a.Timestamp)
		if first == 0 || ts < first {
			first = ts
		}
		if ts > last {
			last = ts
		}
		if a.ConditionID != "" {
			markets[a.ConditionID] = struct{}{}
		}
	}
	for _, t := range data.RecentTrades {
		if t.ConditionID != "" {
			markets[t.ConditionID] = struct{}{}
		}
	}
	w.FirstTradeTimestamp = first
	w.LastTradeTimestamp = last
	if first > 0 {
		w.AccountAgeDays = float64(timeNow().UnixMilli()-first) / millisPerDay
	}

	totalExposure := 0.0
	maxExposure := 0.0
	for _, p := range data.Positions {
		if p.ConditionID != "" {
			markets[p.ConditionID] = struct{}{}
		}
		v := math.Abs(p.CurrentValue)
		totalExposure += v
		if v > maxExposure {
			maxExposure = v
		}
	}
	if totalExposure > 0 {
		w.MaxPositionPct = 100 * maxExposure / totalExposure
	}
	if len(data.Positions) == 0 && len(data.ClosedPositions) == 0 {
		score -= deductNoPositions
		w.Warnings = append(w.Warnings, "platform reported no positions")
	}

	if len(data.ClosedPositions) > 0 {
		wins := 0
		pnl := 0.0
		for _, cp := range data.ClosedPositions {
			if cp.RealizedPnl > 0 {
				wins++
			}
			pnl += cp.RealizedPnl
			if cp.ConditionID != "" {
				markets[cp.ConditionID] = struct{}{}
			}
		}
		rate := float64(wins) / float64(len(data.ClosedPositions))
		w.WinRate = &rate
		w.PnL = &pnl
	} else {
		score -= deductNoClosedPositions
		w.Warnings = append(w.Warnings, "platform reported no closed positions")
	}

	w.MarketsTraded = len(markets)
	w.Confidence = confidence(score, w.Warnings)
	return w
}

// Indexer normalizes the subgraph's account and position records.
func Indexer(address string, acct *subgraph.Account, positions []subgraph.Position) model.NormalizedWallet {
	w := model.NormalizedWallet{
		Address:    address,
		DataSource: model.SourceIndexer,
	}
	score := 100.0

	if acct == nil {
		score -= deductNoAccount
		w.Warnings = append(w.Warnings, "indexer reported no account")
	} else {
		w.TradeCount = acct.TradeCount()
		w.VolumeUSD = acct.VolumeUSD()
		if created := acct.CreatedAt(); !created.IsZero() {
			w.FirstTradeTimestamp = created.UnixMilli()
			w.AccountAgeDays = timeNow().Sub(created).Hours() / 24
		}
		if seen := acct.LastSeenAt(); !seen.IsZero() {
			w.LastTradeTimestamp = seen.UnixMilli()
		}
		if p := acct.ProfitUSD(); p != 0 {
			pnl := p
			w.PnL = &pnl
		}
	}

	if positions == nil {
		score -= deductNoPositions
		w.Warnings = append(w.Warnings, "indexer reported no positions")
	} else {
		markets := make(map[string]struct{})
		totalExposure := 0.0
		maxExposure := 0.0
		for _, p := range positions {
			if id := p.MarketID(); id != "" {
				markets[id] = struct{}{}
			}
			v := math.Abs(p.ExposureUSD())
			totalExposure += v
			if v > maxExposure {
				maxExposure = v
			}
		}
		w.MarketsTraded = len(markets)
		if totalExposure > 0 {
			w.MaxPositionPct = 100 * maxExposure / totalExposure
		}
	}

	w.Confidence = confidence(score, w.Warnings)
	return w
}

// ConsistencyResult reports how well the two sources agree.
type ConsistencyResult struct {
	IsValid    bool
	Errors     []string
	Warnings   []string
	Confidence float64
}

// ValidateConsistency compares the two normalized records. Divergence
// produces warnings and confidence deductions; a zero-vs-nonzero
// activity split is a major discrepancy and marks the result invalid.
func ValidateConsistency(a, b model.NormalizedWallet) ConsistencyResult {
	res := ConsistencyResult{IsValid: true, Confidence: 100}

	zeroVsNonzero := (a.TradeCount == 0) != (b.TradeCount == 0)
	if zeroVsNonzero {
		res.IsValid = false
		res.Confidence -= deductMajorDiscrepancy
		res.Errors = append(res.Errors, fmt.Sprintf(
			"major discrepancy: one source reports zero activity (%d vs %d trades)",
			a.TradeCount, b.TradeCount,
		))
	} else if mean := (float64(a.TradeCount) + float64(b.TradeCount)) / 2; mean > 0 {
		divergence := math.Abs(float64(a.TradeCount)-float64(b.TradeCount)) / mean
		if divergence > 0.10 {
			res.Confidence -= deductTradeCountDivergence
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"trade count divergence %.0f%% (%d vs %d)",
				divergence*100, a.TradeCount, b.TradeCount,
			))
		}
	}

	if mean := (a.VolumeUSD + b.VolumeUSD) / 2; mean > 100 {
		divergence := math.Abs(a.VolumeUSD-b.VolumeUSD) / mean
		if divergence > 0.15 {
			res.Confidence -= deductVolumeDivergence
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"volume divergence %.0f%% (%.0f vs %.0f USD)",
				divergence*100, a.VolumeUSD, b.VolumeUSD,
			))
		}
	}

	if math.Abs(a.AccountAgeDays-b.AccountAgeDays) > 1 {
		res.Confidence -= deductAgeDivergence
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"account age divergence (%.1f vs %.1f days)",
			a.AccountAgeDays, b.AccountAgeDays,
		))
	}

	if res.Confidence < 0 {
		res.Confidence = 0
	}
	return res
}

// Merge fuses the two sources into one record. With both present the
// platform record is primary; numeric history fields take the MAX of
// the two because divergence is a data issue, not a reason to
// underreport.
func Merge(platform, indexer *model.NormalizedWallet) model.NormalizedWallet {
	if platform == nil && indexer == nil {
		return model.NormalizedWallet{}
	}
	if indexer == nil {
		return *platform
	}
	if platform == nil {
		return *indexer
	}

	validation := ValidateConsistency(*platform, *indexer)

	merged := *platform
	merged.DataSource = model.SourceCombined
	merged.TradeCount = maxInt(platform.TradeCount, indexer.TradeCount)
	merged.VolumeUSD = math.Max(platform.VolumeUSD, indexer.VolumeUSD)
	merged.MarketsTraded = maxInt(platform.MarketsTraded, indexer.MarketsTraded)
	merged.MaxPositionPct = math.Max(platform.MaxPositionPct, indexer.MaxPositionPct)

	if platform.AccountAgeDays == 0 {
		merged.AccountAgeDays = indexer.AccountAgeDays
	}
	merged.FirstTradeTimestamp = minNonzero(platform.FirstTradeTimestamp, indexer.FirstTradeTimestamp)
	if indexer.LastTradeTimestamp > merged.LastTradeTimestamp {
		merged.LastTradeTimestamp = indexer.LastTradeTimestamp
	}

	reasons := append([]string{}, validation.Warnings...)
	reasons = append(reasons, validation.Errors...)
	merged.Confidence = model.Confidence{
		Level:   model.ConfidenceLevelFor(validation.Confidence),
		Score:   validation.Confidence,
		Reasons: reasons,
	}

	warnings := append([]string{}, platform.Warnings...)
	warnings = append(warnings, indexer.Warnings...)
	warnings = append(warnings, validation.Warnings...)
	warnings = append(warnings, validation.Errors...)
	merged.Warnings = warnings

	return merged
}

func confidence(score float64, reasons []string) model.Confidence {
	if score < 0 {
		score = 0
	}
	return model.Confidence{
		Level:   model.ConfidenceLevelFor(score),
		Score:   score,
		Reasons: append([]string{}, reasons...),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minNonzero(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
