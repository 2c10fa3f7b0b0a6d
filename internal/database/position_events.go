package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const positionEventColumns = `id, operation_id, user_id, stock_id, type, trade_at, created_at,
		       quantity_before, quantity_after, quantity_delta, currency,
		       total_cost_after, unit_price, source, app_version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// InsertPositionEvent records a validated event. A second event with the same
// operation id is not written and returns models.ErrDuplicateOperation.
func (db *DB) InsertPositionEvent(ctx context.Context, e *models.PositionEvent) error {
	query := `
		INSERT INTO position_events (
			operation_id, user_id, stock_id, type, trade_at, created_at,
			quantity_before, quantity_after, quantity_delta, currency,
			total_cost_after, unit_price, source, app_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (operation_id) DO NOTHING
		RETURNING id, created_at
	`
	now := time.Now().UTC()
	err := db.conn.QueryRowContext(ctx, query,
		e.OperationID, e.UserID, e.StockID, string(e.Type), e.TradeAt, now,
		e.QuantityBefore, e.QuantityAfter, e.QuantityDelta, e.Currency,
		e.TotalCostAfter, e.UnitPrice, e.Source, e.AppVersion,
	).Scan(&e.ID, &e.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("operation %s: %w", e.OperationID, models.ErrDuplicateOperation)
	}
	if err != nil {
		return fmt.Errorf("failed to insert position event: %w", err)
	}
	return nil
}

// GetPositionEvent retrieves an event by id
func (db *DB) GetPositionEvent(ctx context.Context, id int64) (*models.PositionEvent, error) {
	query := `SELECT ` + positionEventColumns + ` FROM position_events WHERE id = $1`

	e, err := scanPositionEvent(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position event %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position event: %w", err)
	}
	return e, nil
}

// OperationExists reports whether an event with operationID was recorded
func (db *DB) OperationExists(ctx context.Context, operationID string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM position_events WHERE operation_id = $1)`, operationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check operation: %w", err)
	}
	return exists, nil
}

// ListPositionEvents returns events newest first
func (db *DB) ListPositionEvents(ctx context.Context, limit, offset int) ([]*models.PositionEvent, error) {
	return db.listPositionEvents(ctx, "", "created_at DESC", limit, offset)
}

// ListPositionEventsByUser returns a user's events by trade time, newest first
func (db *DB) ListPositionEventsByUser(ctx context.Context, userID string, limit, offset int) ([]*models.PositionEvent, error) {
	return db.listPositionEvents(ctx, "WHERE user_id = $1", "trade_at DESC", limit, offset, userID)
}

// ListPositionEventsByStock returns a stock's events by trade time, newest first
func (db *DB) ListPositionEventsByStock(ctx context.Context, stockID string, limit, offset int) ([]*models.PositionEvent, error) {
	return db.listPositionEvents(ctx, "WHERE stock_id = $1", "trade_at DESC", limit, offset, stockID)
}

// ListPositionEventsByUserAndStock returns one user's events for one stock
func (db *DB) ListPositionEventsByUserAndStock(ctx context.Context, userID, stockID string, limit, offset int) ([]*models.PositionEvent, error) {
	return db.listPositionEvents(ctx, "WHERE user_id = $1 AND stock_id = $2", "trade_at DESC", limit, offset, userID, stockID)
}

func (db *DB) listPositionEvents(ctx context.Context, where, order string, limit, offset int, args ...interface{}) ([]*models.PositionEvent, error) {
	query := `SELECT ` + positionEventColumns + ` FROM position_events ` + where + ` ORDER BY ` + order
	argIdx := len(args) + 1
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list position events: %w", err)
	}
	defer rows.Close()

	events := []*models.PositionEvent{}
	for rows.Next() {
		e, err := scanPositionEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PositionEventStats aggregates a user's events
func (db *DB) PositionEventStats(ctx context.Context, userID string) (*models.PositionEventStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE type = 'BUY'),
		       COUNT(*) FILTER (WHERE type = 'SELL'),
		       COALESCE(SUM(quantity_delta) FILTER (WHERE type = 'BUY'), 0),
		       COALESCE(SUM(ABS(quantity_delta)) FILTER (WHERE type = 'SELL'), 0),
		       COALESCE(ARRAY_AGG(DISTINCT currency), '{}'),
		       MIN(trade_at),
		       MAX(trade_at)
		FROM position_events
		WHERE user_id = $1
	`
	stats := &models.PositionEventStats{UserID: userID}
	var buyVolume, sellVolume decimal.Decimal
	var earliest, latest sql.NullTime

	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&stats.TotalEvents, &stats.BuyCount, &stats.SellCount,
		&buyVolume, &sellVolume, pq.Array(&stats.Currencies),
		&earliest, &latest,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get position event stats: %w", err)
	}

	stats.TotalBuyVolume = buyVolume
	stats.TotalSellVolume = sellVolume
	if earliest.Valid {
		stats.EarliestTrade = &earliest.Time
	}
	if latest.Valid {
		stats.LatestTrade = &latest.Time
	}
	if stats.Currencies == nil {
		stats.Currencies = []string{}
	}
	return stats, nil
}

func scanPositionEvent(row rowScanner) (*models.PositionEvent, error) {
	var e models.PositionEvent
	var tradeType string
	err := row.Scan(
		&e.ID, &e.OperationID, &e.UserID, &e.StockID, &tradeType, &e.TradeAt, &e.CreatedAt,
		&e.QuantityBefore, &e.QuantityAfter, &e.QuantityDelta, &e.Currency,
		&e.TotalCostAfter, &e.UnitPrice, &e.Source, &e.AppVersion,
	)
	if err != nil {
		return nil, err
	}
	e.Type = models.TradeType(tradeType)
	return &e, nil
}
