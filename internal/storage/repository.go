package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/guttosm/candledesk/internal/domain/models"
	pq "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// TicksRepository defines the contract for the tick and instrument cache.
type TicksRepository interface {
	InsertTicksBatch(ctx context.Context, ticker string, ticks []models.Tick) error
	LatestTickTime(ctx context.Context, ticker string) (time.Time, bool, error)
	GetTicks(ctx context.Context, ticker string, since time.Time, limit int) ([]models.Tick, error)
	DeleteTicksBefore(ctx context.Context, cutoff time.Time) (int64, error)
	UpsertInstruments(ctx context.Context, list []models.Instrument) error
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	HasIngestion(ctx context.Context, source string) (bool, error)
	UpsertIngestionLog(ctx context.Context, source, ticker string, rowCount int) error
}

type ticksRepository struct {
	db *sql.DB
}

func NewTicksRepository(db *sql.DB) TicksRepository {
	return &ticksRepository{db: db}
}

// InsertTicksBatch bulk loads ticks of one instrument in a single transaction.
func (r *ticksRepository) InsertTicksBatch(ctx context.Context, ticker string, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Small optimization for bulk load
	if _, err := tx.ExecContext(ctx, `SET LOCAL synchronous_commit = OFF`); err != nil {
		_ = tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("ticks", "ticker", "traded_at", "price"))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	for _, t := range ticks {
		if _, err := stmt.ExecContext(ctx, ticker, t.Time.UTC(), t.Price.String()); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// LatestTickTime returns the time of the newest stored tick of a ticker.
// ok is false when nothing was stored yet.
func (r *ticksRepository) LatestTickTime(ctx context.Context, ticker string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT MAX(traded_at) FROM ticks WHERE ticker = $1`, ticker).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

// GetTicks returns up to limit ticks at or after since, oldest first.
// When more than limit ticks match, the most recent ones are kept.
func (r *ticksRepository) GetTicks(ctx context.Context, ticker string, since time.Time, limit int) ([]models.Tick, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT traded_at, price FROM (
			SELECT traded_at, price
			FROM ticks
			WHERE ticker = $1 AND traded_at >= $2
			ORDER BY traded_at DESC
			LIMIT $3
		) recent
		ORDER BY traded_at ASC
	`, ticker, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Tick, 0)
	for rows.Next() {
		var (
			at    time.Time
			price string
		)
		if err := rows.Scan(&at, &price); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Tick{Time: at, Price: p})
	}
	return out, rows.Err()
}

// DeleteTicksBefore removes ticks older than cutoff and reports how many.
func (r *ticksRepository) DeleteTicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ticks WHERE traded_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertInstruments stores the latest known instrument list.
func (r *ticksRepository) UpsertInstruments(ctx context.Context, list []models.Instrument) error {
	if len(list) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments (ticker, name, sector, price, change, change_pct, volume, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (ticker)
		DO UPDATE SET name = EXCLUDED.name,
					  sector = EXCLUDED.sector,
					  price = EXCLUDED.price,
					  change = EXCLUDED.change,
					  change_pct = EXCLUDED.change_pct,
					  volume = EXCLUDED.volume,
					  updated_at = NOW()
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, in := range list {
		if _, err := stmt.ExecContext(ctx, in.Ticker, in.Name, in.Sector,
			in.Price.String(), in.Change.String(), in.ChangePct.String(), in.Volume); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ListInstruments returns the cached instrument list ordered by ticker.
func (r *ticksRepository) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker, name, sector, price, change, change_pct, volume
		FROM instruments
		ORDER BY ticker
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Instrument, 0)
	for rows.Next() {
		var (
			in                 models.Instrument
			price, change, pct string
		)
		if err := rows.Scan(&in.Ticker, &in.Name, &in.Sector, &price, &change, &pct, &in.Volume); err != nil {
			return nil, err
		}
		if in.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if in.Change, err = decimal.NewFromString(change); err != nil {
			return nil, err
		}
		if in.ChangePct, err = decimal.NewFromString(pct); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// HasIngestion checks if an import source was already loaded.
func (r *ticksRepository) HasIngestion(ctx context.Context, source string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ingestion_log WHERE source = $1)`, source).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// UpsertIngestionLog records (or updates) an import entry for a source.
func (r *ticksRepository) UpsertIngestionLog(ctx context.Context, source, ticker string, rowCount int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingestion_log (source, ticker, row_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (source)
		DO UPDATE SET ticker = EXCLUDED.ticker,
					  row_count = EXCLUDED.row_count,
					  ingested_at = NOW()
	`, source, ticker, rowCount)
	return err
}
