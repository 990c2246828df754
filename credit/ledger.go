/*
ledger.go - Balance ledger (derived read model)

PURPOSE:
  Answers "how many credits does this user have?" by folding over the user's
  active records. There is no balance column that can drift: the balance is
  the BalanceAfter of the active record with the greatest ID, or
  InitialBalance when there is none.

INVARIANTS:
  - Soft-deleted records never contribute to balance or count
  - No records means a fresh user, never an error

SEE ALSO:
  - engine.go: Reads Stats directly (bypassing cache) before every write
*/
package credit

import "context"

// Ledger computes user stats from a RecordStore.
type Ledger struct {
	Store RecordStore
}

func NewLedger(store RecordStore) *Ledger {
	return &Ledger{Store: store}
}

// Stats returns the current balance and operation count for a user.
func (l *Ledger) Stats(ctx context.Context, userID UserID) (Stats, error) {
	stats, _, err := l.snapshot(ctx, l.Store, userID)
	return stats, err
}

// History returns one page of the user's active records.
func (l *Ledger) History(ctx context.Context, userID UserID, req PageRequest) (Page, error) {
	return l.Store.ActiveRecordsPage(ctx, userID, req.Normalize())
}

// snapshot returns stats together with the ID of the record they were read
// from, which the engine uses as the compare-and-swap token for its append.
func (l *Ledger) snapshot(ctx context.Context, store RecordStore, userID UserID) (Stats, int64, error) {
	records, err := store.ActiveRecords(ctx, userID)
	if err != nil {
		return Stats{}, 0, err
	}
	stats, latest := FoldStats(records)
	return stats, latest, nil
}

// FoldStats folds active records into stats. Inactive records are skipped,
// so callers may pass unfiltered history. The second return value is the ID
// of the latest active record (0 if none).
func FoldStats(records []Record) (Stats, int64) {
	stats := Stats{Balance: InitialBalance}
	var latest int64
	for _, r := range records {
		if !r.Active {
			continue
		}
		stats.OperationCount++
		if r.ID > latest {
			latest = r.ID
			stats.Balance = r.BalanceAfter
		}
	}
	return stats, latest
}
