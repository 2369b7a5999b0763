package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/guttosm/candledesk/internal/storage"
	"github.com/shopspring/decimal"
)

// expectedHeaders enforces strict column ordering for tick files.
// If the header doesn't match EXACTLY (order + count), the import must fail.
var expectedHeaders = []string{"time", "price"}

// parseAndPersistFile opens, validates, parses, and persists one tick file
// in batches.
//
// It fails on:
//   - header not matching expected order/length
//   - any row with a missing or malformed cell
//   - unrecoverable I/O errors
//
// Parameters:
//   - ctx:    context for cancellation/timeouts.
//   - path:   file path.
//   - ticker: instrument the ticks belong to.
//   - repo:   repository for DB insertion.
//   - batch:  batch size for inserts (e.g., 5000).
func parseAndPersistFile(ctx context.Context, path, ticker string, repo storage.TicksRepository, batch int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1 // checked explicitly per line
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if len(header) != len(expectedHeaders) {
		return 0, fmt.Errorf("invalid header length: expected %d, got %d", len(expectedHeaders), len(header))
	}
	for i, h := range header {
		if !strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), expectedHeaders[i]) {
			return 0, fmt.Errorf("invalid header at col %d: expected %q, got %q", i+1, expectedHeaders[i], h)
		}
	}

	buf := make([]models.Tick, 0, batch)
	lineNumber := 1 // header already read

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := repo.InsertTicksBatch(ctx, ticker, buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	total := 0
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("read line after %d: %w", lineNumber, err)
		}
		lineNumber++

		if len(rec) != len(expectedHeaders) {
			return 0, fmt.Errorf("invalid column count on line %d: expected %d got %d", lineNumber, len(expectedHeaders), len(rec))
		}

		tick, err := recordToTick(rec)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", lineNumber, err)
		}

		buf = append(buf, tick)
		total++
		if len(buf) >= batch {
			if err := flush(); err != nil {
				return 0, fmt.Errorf("flush batch ending line %d: %w", lineNumber, err)
			}
		}
	}

	if err := flush(); err != nil {
		return 0, fmt.Errorf("final flush: %w", err)
	}
	return total, nil
}

// recordToTick converts one validated record into a models.Tick.
//
//	0 time  → Time (RFC3339, offset required)
//	1 price → Price (decimal, comma or dot separator, >= 0)
func recordToTick(rec []string) (models.Tick, error) {
	var t models.Tick

	s := strings.TrimSpace(rec[0])
	if s == "" {
		return t, fmt.Errorf("empty time")
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return t, fmt.Errorf("invalid time: %v", err)
	}
	t.Time = ts

	s = strings.ReplaceAll(strings.TrimSpace(rec[1]), ",", ".")
	if s == "" {
		return t, fmt.Errorf("empty price")
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return t, fmt.Errorf("invalid price: %v", err)
	}
	if p.IsNegative() {
		return t, fmt.Errorf("negative price %s", p)
	}
	t.Price = p
	return t, nil
}
