package config

import (
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateDetector(&c.Detector)...)
	errors = append(errors, validateForensics(&c.Forensics)...)
	errors = append(errors, validateScoring(&c.Scoring)...)
	errors = append(errors, validatePipeline(&c.Pipeline)...)
	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateMarkets(&c.Markets)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateDetector(d *DetectorConfig) []ValidationError {
	var errors []ValidationError

	if d.MinOIPercentage < 0 || d.MinOIPercentage > 100 {
		errors = append(errors, ValidationError{
			Field:   "detector.min_oi_percentage",
			Message: "must be between 0 and 100",
		})
	}

	if d.MinPriceImpact < 0 || d.MinPriceImpact > 100 {
		errors = append(errors, ValidationError{
			Field:   "detector.min_price_impact",
			Message: "must be between 0 and 100",
		})
	}

	if d.AbsoluteMinUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "detector.absolute_min_usd",
			Message: "must be non-negative",
		})
	}

	if d.RelativeLiquidityFactor <= 0 || d.RelativeLiquidityFactor > 1 {
		errors = append(errors, ValidationError{
			Field:   "detector.relative_liquidity_factor",
			Message: "must be between 0 and 1",
		})
	}

	return errors
}

func validateForensics(f *ForensicsConfig) []ValidationError {
	var errors []ValidationError

	if f.LowTradeCount < 0 {
		errors = append(errors, ValidationError{
			Field:   "forensics.low_trade_count",
			Message: "must be non-negative",
		})
	}

	if f.YoungAccountDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "forensics.young_account_days",
			Message: "must be non-negative",
		})
	}

	if f.LowVolumeUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "forensics.low_volume_usd",
			Message: "must be non-negative",
		})
	}

	if f.HighConcentrationPct < 0 || f.HighConcentrationPct > 100 {
		errors = append(errors, ValidationError{
			Field:   "forensics.high_concentration_pct",
			Message: "must be between 0 and 100",
		})
	}

	if f.FreshFatBetMaxTrades < 0 {
		errors = append(errors, ValidationError{
			Field:   "forensics.fresh_fat_bet_max_trades",
			Message: "must be non-negative",
		})
	}

	if f.CacheTTL < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "forensics.cache_ttl",
			Message: "must be at least 1 minute",
		})
	}

	if f.IndexerRPS <= 0 {
		errors = append(errors, ValidationError{
			Field:   "forensics.indexer_rps",
			Message: "must be positive",
		})
	}

	return errors
}

func validateScoring(s *ScoringConfig) []ValidationError {
	var errors []ValidationError

	if s.MinConfidenceScore < 0 || s.MinConfidenceScore > 100 {
		errors = append(errors, ValidationError{
			Field:   "scoring.min_confidence_score",
			Message: "must be between 0 and 100",
		})
	}

	if s.MinWalletScore < 0 || s.MinWalletScore > 100 {
		errors = append(errors, ValidationError{
			Field:   "scoring.min_wallet_score",
			Message: "must be between 0 and 100",
		})
	}

	return errors
}

func validatePipeline(p *PipelineConfig) []ValidationError {
	var errors []ValidationError

	if p.WorkerCount < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.worker_count",
			Message: "must be at least 1",
		})
	}

	if p.QueueCapacity < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.queue_capacity",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	if s.TradeRetentionDays < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.trade_retention_days",
			Message: "must be at least 1",
		})
	}

	if s.RetentionInterval < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "store.retention_interval",
			Message: "must be at least 1 minute",
		})
	}

	if s.HealthInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "store.health_interval",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateMarkets(m *MarketsConfig) []ValidationError {
	var errors []ValidationError

	if m.RefreshInterval < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "markets.refresh_interval",
			Message: "must be at least 10 seconds",
		})
	}

	if m.PollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "markets.poll_interval",
			Message: "must be at least 1 second",
		})
	}

	return errors
}
