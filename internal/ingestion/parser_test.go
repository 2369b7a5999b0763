package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
)

// fakeRepo implements storage.TicksRepository in memory.
type fakeRepo struct {
	mu       sync.Mutex
	batches  [][]models.Tick
	byTicker map[string][]models.Tick
	latest   map[string]time.Time
	logged   map[string]int
	has      map[string]bool
	err      error
	hasErr   error
	logErr   error
	latErr   error
	deleted  time.Time
}

func (f *fakeRepo) InsertTicksBatch(_ context.Context, ticker string, ticks []models.Tick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]models.Tick(nil), ticks...))
	if f.byTicker == nil {
		f.byTicker = map[string][]models.Tick{}
	}
	f.byTicker[ticker] = append(f.byTicker[ticker], ticks...)
	return f.err
}
func (f *fakeRepo) LatestTickTime(_ context.Context, ticker string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latErr != nil {
		return time.Time{}, false, f.latErr
	}
	t, ok := f.latest[ticker]
	return t, ok, nil
}
func (f *fakeRepo) GetTicks(context.Context, string, time.Time, int) ([]models.Tick, error) {
	return nil, nil
}
func (f *fakeRepo) DeleteTicksBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleted = cutoff
	return 3, nil
}
func (f *fakeRepo) UpsertInstruments(context.Context, []models.Instrument) error { return nil }
func (f *fakeRepo) ListInstruments(context.Context) ([]models.Instrument, error) {
	return nil, nil
}
func (f *fakeRepo) HasIngestion(_ context.Context, source string) (bool, error) {
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.has[source], nil
}
func (f *fakeRepo) UpsertIngestionLog(_ context.Context, source, _ string, rowCount int) error {
	if f.logErr != nil {
		return f.logErr
	}
	if f.logged == nil {
		f.logged = map[string]int{}
	}
	f.logged[source] = rowCount
	return nil
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func TestParseAndPersistFile_TableDriven(t *testing.T) {
	dir := t.TempDir()
	validHeader := "time;price\n"
	validRow := "2025-09-18T10:00:00+09:00;10000\n"

	cases := []struct {
		name        string
		content     string
		wantErr     bool
		wantBatches int
		wantRows    int
	}{
		{name: "ok single row", content: validHeader + validRow, wantBatches: 1, wantRows: 1},
		{name: "comma decimal", content: validHeader + "2025-09-18T10:00:00Z;10,5\n", wantBatches: 1, wantRows: 1},
		{name: "header case and bom", content: "\ufeffTime;Price\n" + validRow, wantBatches: 1, wantRows: 1},
		{name: "batches split", content: validHeader + strings.Repeat(validRow, 7), wantBatches: 2, wantRows: 7},
		{name: "header only", content: validHeader, wantBatches: 0, wantRows: 0},
		{name: "bad header order", content: "price;time\n", wantErr: true},
		{name: "bad header length", content: "time;price;qty\n", wantErr: true},
		{name: "bad col count", content: validHeader + "2025-09-18T10:00:00Z\n", wantErr: true},
		{name: "empty price", content: validHeader + "2025-09-18T10:00:00Z;\n", wantErr: true},
		{name: "invalid price", content: validHeader + "2025-09-18T10:00:00Z;abc\n", wantErr: true},
		{name: "negative price", content: validHeader + "2025-09-18T10:00:00Z;-1\n", wantErr: true},
		{name: "naive time", content: validHeader + "2025-09-18 10:00:00;1\n", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, dir, "file.csv", tc.content)
			repo := &fakeRepo{}
			n, err := parseAndPersistFile(context.Background(), path, "SSE", repo, 5)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if n != tc.wantRows {
				t.Fatalf("rows: want %d got %d", tc.wantRows, n)
			}
			if len(repo.batches) != tc.wantBatches {
				t.Fatalf("batches: want %d got %d", tc.wantBatches, len(repo.batches))
			}
		})
	}
}

func TestRecordToTick_Values(t *testing.T) {
	tick, err := recordToTick([]string{" 2025-09-18T10:00:00+09:00 ", "10,25"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !tick.Price.Equal(decimal.RequireFromString("10.25")) {
		t.Fatalf("price=%s", tick.Price)
	}
	if tick.Time.UTC().Hour() != 1 {
		t.Fatalf("time=%v", tick.Time)
	}
}

func TestParseAndPersistFile_ContextCanceled(t *testing.T) {
	dir := t.TempDir()
	rows := strings.Repeat("2025-09-18T10:00:00Z;100\n", 1000)
	path := writeTempFile(t, dir, "big.csv", "time;price\n"+rows)

	repo := &fakeRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := parseAndPersistFile(ctx, path, "SSE", repo, 100); err == nil {
		t.Fatalf("expected context canceled error")
	}
}

func TestParseAndPersistFile_MissingFile(t *testing.T) {
	if _, err := parseAndPersistFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), "SSE", &fakeRepo{}, 5); err == nil {
		t.Fatalf("expected open error")
	}
}
