package portfolio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
)

// BeginSync issues the token a sync cycle presents when applying results.
// Tokens grow monotonically, so results of an older cycle that arrive late
// can be recognized and dropped.
func (a *Account) BeginSync() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncSeq++
	return a.syncSeq
}

// ApplyStatus makes the venue's cash and holdings authoritative.
//
// Behavior:
//   - Drops the status (applied=false) when a newer status was already
//     applied or a local fill happened after the token was issued.
//   - The first applied status is adopted silently.
//   - Later statuses that disagree with local state overwrite it and emit a
//     single "correction" notification (corrected=true).
func (a *Account) ApplyStatus(token uint64, st models.UserStatus) (applied, corrected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if token <= a.appliedStatus || token <= a.localMark {
		return false, false
	}
	a.appliedStatus = token

	holdings := make(map[string]int64, len(st.Holdings))
	for t, q := range st.Holdings {
		if q > 0 {
			holdings[t] = q
		}
	}

	var diffs []string
	if !a.cash.Equal(st.Balance) {
		diffs = append(diffs, fmt.Sprintf("cash %s → %s", a.cash, st.Balance))
	}
	for _, t := range unionTickers(a.holdings, holdings) {
		if a.holdings[t] != holdings[t] {
			diffs = append(diffs, fmt.Sprintf("%s %d → %d shares", a.nameLocked(t), a.holdings[t], holdings[t]))
		}
	}

	a.cash = st.Balance
	a.holdings = holdings

	if !a.synced {
		a.synced = true
		return true, false
	}
	if len(diffs) == 0 {
		return true, false
	}
	a.notifyLocked(models.NotifyCorrection, "Account corrected",
		"Your account was updated to match the exchange: "+strings.Join(diffs, ", "))
	return true, true
}

// MergeHistory appends venue-reported fills missing from the log.
//
// A venue record is skipped when its id was merged before, or when it is
// the venue's copy of a fill already confirmed locally (same DedupKey).
// A newly appended record that matches a pending order (ticker, side,
// quantity and price) and is not older than it resolves that order and emits a "fill" notification.
// Returns the number of records appended.
func (a *Account) MergeHistory(token uint64, records []models.TransactionRecord) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if token < a.appliedHistory {
		return 0
	}
	a.appliedHistory = token

	sorted := append([]models.TransactionRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	occurrences := make(map[string]int)
	added := 0
	for _, rec := range sorted {
		key := rec.DedupKey()
		id := rec.ID
		if id == "" {
			occurrences[key]++
			id = fmt.Sprintf("%s#%d", key, occurrences[key])
		}
		if _, ok := a.known[id]; ok {
			continue
		}
		a.known[id] = struct{}{}

		if a.unconfirmed[key] > 0 {
			a.unconfirmed[key]--
			continue
		}

		if rec.InstrumentName == "" || rec.InstrumentName == rec.Ticker {
			rec.InstrumentName = a.nameLocked(rec.Ticker)
		}
		if rec.TotalAmount.IsZero() {
			rec.TotalAmount = rec.PricePerUnit.Mul(decimal.NewFromInt(rec.Quantity))
		}
		a.log = append(a.log, rec)
		added++
		a.resolvePendingLocked(rec)
	}
	return added
}

func (a *Account) resolvePendingLocked(rec models.TransactionRecord) {
	for i, p := range a.pending {
		if p.Ticker != rec.Ticker || p.Side != rec.Side || p.Quantity != rec.Quantity || !p.Price.Equal(rec.PricePerUnit) {
			continue
		}
		if rec.Timestamp.Before(p.CreatedAt) {
			continue
		}
		a.pending = append(a.pending[:i], a.pending[i+1:]...)
		a.notifyLocked(models.NotifyFill, "Pending order filled",
			fmt.Sprintf("%s %s %d shares at %s was matched", p.InstrumentName, p.Side, p.Quantity, p.Price))
		return
	}
}

func unionTickers(a, b map[string]int64) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for t := range a {
		set[t] = struct{}{}
	}
	for t := range b {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
