package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"polywatch/internal/model"
)

// ErrDuplicateAlert reports that an alert for this trade already exists.
var ErrDuplicateAlert = errors.New("alert already exists for trade")

const pgUniqueViolation = "23505"

// MarketRepo persists the monitored market set.
type MarketRepo struct {
	db *sqlx.DB
}

// NewMarketRepo creates a market repository.
func NewMarketRepo(db *sqlx.DB) *MarketRepo {
	return &MarketRepo{db: db}
}

// UpsertAll writes the full market set, updating existing rows.
func (r *MarketRepo) UpsertAll(ctx context.Context, markets []model.Market) error {
	const q = `INSERT INTO markets
		(id, condition_id, question, slug, tier, category, open_interest, volume, enabled, active, closed, updated_at)
		VALUES (:id, :condition_id, :question, :slug, :tier, :category, :open_interest, :volume, :enabled, :active, :closed, NOW())
		ON CONFLICT (id) DO UPDATE SET
			condition_id = EXCLUDED.condition_id,
			question = EXCLUDED.question,
			slug = EXCLUDED.slug,
			tier = EXCLUDED.tier,
			category = EXCLUDED.category,
			open_interest = EXCLUDED.open_interest,
			volume = EXCLUDED.volume,
			enabled = EXCLUDED.enabled,
			active = EXCLUDED.active,
			closed = EXCLUDED.closed,
			updated_at = NOW()`

	for _, m := range markets {
		if _, err := r.db.NamedExecContext(ctx, q, m); err != nil {
			return fmt.Errorf("upsert market %s: %w", m.ID, err)
		}
	}
	return nil
}

// List returns every stored market.
func (r *MarketRepo) List(ctx context.Context) ([]model.Market, error) {
	var out []model.Market
	if err := r.db.SelectContext(ctx, &out, `SELECT id, condition_id, question, slug, tier, category, open_interest, volume, enabled, active, closed FROM markets`); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	return out, nil
}

// TradeRepo persists the short-lived raw trade log.
type TradeRepo struct {
	db *sqlx.DB
}

// NewTradeRepo creates a trade repository.
func NewTradeRepo(db *sqlx.DB) *TradeRepo {
	return &TradeRepo{db: db}
}

// Insert writes one trade. Replays of the same trade id are ignored.
func (r *TradeRepo) Insert(ctx context.Context, t model.Trade) error {
	const q = `INSERT INTO trades (id, market_id, side, size, price, outcome, maker, taker, ts)
		VALUES (:id, :market_id, :side, :size, :price, :outcome, :maker, :taker, :ts)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, q, t); err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// PruneOlderThan deletes trades recorded before the cutoff and returns
// how many rows went.
func (r *TradeRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trades WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune trades: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// alertRow is the flat storage shape of an alert; the fingerprint and
// score breakdown travel as JSON documents.
type alertRow struct {
	model.Alert
	FingerprintJSON []byte `db:"fingerprint"`
	ScoreJSON       []byte `db:"score"`
}

// AlertRepo persists alert decisions.
type AlertRepo struct {
	db *sqlx.DB
}

// NewAlertRepo creates an alert repository.
func NewAlertRepo(db *sqlx.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// Insert writes one alert. A second alert for the same trade id returns
// ErrDuplicateAlert.
func (r *AlertRepo) Insert(ctx context.Context, a *model.Alert) error {
	fpJSON, err := json.Marshal(a.Fingerprint)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	scoreJSON, err := json.Marshal(a.Score)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}

	const q = `INSERT INTO alerts
		(id, trade_id, wallet_address, market_id, side, size, price, outcome, trade_ts,
		 trade_usd_value, oi_percentage, price_impact, open_interest,
		 fingerprint, score, confidence_score, classification, ts,
		 notified, notified_at, dismissed, dismissed_at, notes, dormancy_days, dormancy_reactivated)
		VALUES (:id, :trade_id, :wallet_address, :market_id, :side, :size, :price, :outcome, :trade_ts,
		 :trade_usd_value, :oi_percentage, :price_impact, :open_interest,
		 :fingerprint, :score, :confidence_score, :classification, :ts,
		 :notified, :notified_at, :dismissed, :dismissed_at, :notes, :dormancy_days, :dormancy_reactivated)`

	row := alertRow{Alert: *a, FingerprintJSON: fpJSON, ScoreJSON: scoreJSON}
	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrDuplicateAlert
		}
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// HasRecentNonDismissed reports whether a non-dismissed alert exists for
// this wallet and market within the window.
func (r *AlertRepo) HasRecentNonDismissed(ctx context.Context, wallet, marketID string, window time.Duration) (bool, error) {
	const q = `SELECT id FROM alerts
		WHERE wallet_address = $1 AND market_id = $2 AND dismissed = FALSE AND ts >= $3
		LIMIT 1`
	var id string
	err := r.db.GetContext(ctx, &id, q, wallet, marketID, time.Now().Add(-window))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query recent alerts: %w", err)
	}
	return true, nil
}

// MarkNotified records a successful notification dispatch.
func (r *AlertRepo) MarkNotified(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET notified = TRUE, notified_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark notified %s: %w", id, err)
	}
	return nil
}

// Dismiss marks an alert reviewed-and-rejected.
func (r *AlertRepo) Dismiss(ctx context.Context, id, notes string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET dismissed = TRUE, dismissed_at = NOW(), notes = NULLIF($2, '') WHERE id = $1`,
		id, notes); err != nil {
		return fmt.Errorf("dismiss alert %s: %w", id, err)
	}
	return nil
}

// PruneDismissedBefore deletes dismissed alerts older than the cutoff
// and returns how many rows went.
func (r *AlertRepo) PruneDismissedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE dismissed = TRUE AND ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dismissed alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListRecent returns the newest alerts, newest first.
func (r *AlertRepo) ListRecent(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []alertRow
	const q = `SELECT id, trade_id, wallet_address, market_id, side, size, price, outcome, trade_ts,
		trade_usd_value, oi_percentage, price_impact, open_interest,
		fingerprint, score, confidence_score, classification, ts,
		notified, notified_at, dismissed, dismissed_at, notes, dormancy_days, dormancy_reactivated
		FROM alerts ORDER BY ts DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	out := make([]model.Alert, 0, len(rows))
	for _, row := range rows {
		a := row.Alert
		if len(row.FingerprintJSON) > 0 {
			_ = json.Unmarshal(row.FingerprintJSON, &a.Fingerprint)
		}
		if len(row.ScoreJSON) > 0 {
			_ = json.Unmarshal(row.ScoreJSON, &a.Score)
		}
		out = append(out, a)
	}
	return out, nil
}
