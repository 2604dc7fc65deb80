package derive

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

// RecomputeDailyBalances rebuilds the daily balance series for the
// given external account ids by replaying transactions backwards from
// each account's current balance. The series is a pure cache and is
// replaced wholesale. Satisfies the provider's recompute contract.
func (d *Deriver) RecomputeDailyBalances(ctx context.Context, accountIDs []string) error {
	for _, extID := range accountIDs {
		if err := d.recomputeAccount(ctx, extID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deriver) recomputeAccount(ctx context.Context, extID string) error {
	rows, err := d.store.AccountsByExternalID(ctx, extID)
	if err != nil || len(rows) == 0 {
		return err
	}
	acc := rows[0]

	txns, err := d.store.TransactionsForAccount(ctx, extID, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	today := dayOf(d.now())
	series := replayBackwards(acc.CurrentBalance, today, txns)
	for i := range series {
		series[i].AccountID = extID
	}

	return d.store.Write(ctx, func(tx *sqlite.Tx) error {
		return tx.ReplaceDailyBalances(extID, series)
	})
}

// replayBackwards reconstructs end-of-day balances from the current
// balance: reversing one day's transactions adds their signed sum back
// (positive amounts are outflows). The series runs from the earliest
// transaction day through today, ascending.
func replayBackwards(current decimal.Decimal, today time.Time, txns []*domain.Transaction) []domain.AccountDailyBalance {
	byDay := map[time.Time]decimal.Decimal{}
	earliest := today
	for _, txn := range txns {
		day := dayOf(txn.Date)
		byDay[day] = byDay[day].Add(txn.Amount)
		if day.Before(earliest) {
			earliest = day
		}
	}

	days := int(today.Sub(earliest).Hours()/24) + 1
	series := make([]domain.AccountDailyBalance, days)
	balance := current
	for i := days - 1; i >= 0; i-- {
		day := earliest.AddDate(0, 0, i)
		series[i] = domain.AccountDailyBalance{Date: day, Balance: balance}
		// stepping back across this day undoes its net flow
		balance = balance.Add(byDay[day])
	}
	return series
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
