package derive

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

type fixture struct {
	store   *sqlite.Store
	deriver *Deriver
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := sqlite.New(sqlite.DefaultConfig(filepath.Join(t.TempDir(), "ledger.db")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{store: s, deriver: New(s, nil), ctx: context.Background()}
}

func (f *fixture) save(t *testing.T, fn func(tx *sqlite.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.Write(f.ctx, fn))
}

var (
	winStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	winEnd   = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	midMarch = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
)

func (f *fixture) seedBudget(t *testing.T, b *domain.Budget) *domain.Budget {
	t.Helper()
	if b.StartDate.IsZero() {
		b.StartDate, b.EndDate = winStart, winEnd
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveBudget(b) })
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEffectiveBalancePolicies(t *testing.T) {
	f := newFixture(t)
	f.deriver.now = func() time.Time { return midMarch }

	acc := &domain.Account{
		AccountID:        "ext-1",
		ItemID:           "item-1",
		Type:             domain.AccountTypeDepository,
		CurrentBalance:   dec("321.50"),
		AvailableBalance: dec("300.00"),
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveAccount(acc) })

	cases := []struct {
		name   string
		budget domain.Budget
		want   decimal.Decimal
	}{
		{
			name:   "manual source",
			budget: domain.Budget{BalanceSource: domain.BalanceSourceManual, ManualBalance: dec("500")},
			want:   dec("500"),
		},
		{
			name: "account current",
			budget: domain.Budget{
				BalanceSource: domain.BalanceSourceAccount,
				BalancePolicy: domain.BalancePolicyCurrent,
				LinkedAccountID: "ext-1",
				ManualBalance:   dec("500"),
			},
			want: dec("321.50"),
		},
		{
			name: "account available",
			budget: domain.Budget{
				BalanceSource: domain.BalanceSourceAccount,
				BalancePolicy: domain.BalancePolicyAvailable,
				LinkedAccountID: "ext-1",
			},
			want: dec("300.00"),
		},
		{
			name: "unresolved account falls back to manual",
			budget: domain.Budget{
				BalanceSource:   domain.BalanceSourceAccount,
				LinkedAccountID: "no-such-account",
				ManualBalance:   dec("99"),
			},
			want: dec("99"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			budget := f.seedBudget(t, &tc.budget)
			state, err := f.deriver.ComputeBudgetState(f.ctx, budget.ID)
			require.NoError(t, err)
			assert.True(t, state.EffectiveBalance.Equal(tc.want),
				"got %s want %s", state.EffectiveBalance, tc.want)
		})
	}
}

func TestBudgetStatusFromWindow(t *testing.T) {
	f := newFixture(t)
	budget := f.seedBudget(t, &domain.Budget{BalanceSource: domain.BalanceSourceManual})

	f.deriver.now = func() time.Time { return midMarch }
	state, err := f.deriver.ComputeBudgetState(f.ctx, budget.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BudgetStatusActive, state.Status)

	f.deriver.now = func() time.Time { return winEnd.AddDate(0, 0, 1) }
	state, err = f.deriver.ComputeBudgetState(f.ctx, budget.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BudgetStatusCompleted, state.Status)
}

func TestBudgetItemRemainingClamped(t *testing.T) {
	f := newFixture(t)
	f.deriver.now = func() time.Time { return midMarch }
	budget := f.seedBudget(t, &domain.Budget{BalanceSource: domain.BalanceSourceManual, ManualBalance: dec("100")})

	item := &domain.BudgetItem{
		BudgetID: budget.ID,
		Type:     domain.BudgetItemCategory,
		Status:   domain.BudgetItemActive,
		Amount:   dec("100"),
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveBudgetItem(item) })

	link := func(id string, amount decimal.Decimal) {
		txn := &domain.Transaction{
			TransactionID: id, AccountID: "a", Amount: amount, Date: midMarch, BudgetItemID: item.ID,
		}
		f.save(t, func(tx *sqlite.Tx) error { return tx.SaveTransaction(txn) })
	}

	state, err := f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, state.Remaining.Equal(dec("100")))
	assert.False(t, state.IsOverBudget)

	link("s1", dec("60"))
	state, err = f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, state.Spending.Equal(dec("60")))
	assert.True(t, state.Remaining.Equal(dec("40")))

	// refunds (negative amounts) do not count as spending
	link("s2", dec("-15"))
	state, err = f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, state.Spending.Equal(dec("60")))

	// overspending flags instead of going negative
	link("s3", dec("70"))
	state, err = f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, state.Spending.Equal(dec("130")))
	assert.True(t, state.Remaining.IsZero())
	assert.True(t, state.IsOverBudget)

	// budget-level rollup
	budgetState, err := f.deriver.ComputeBudgetState(f.ctx, budget.ID)
	require.NoError(t, err)
	assert.True(t, budgetState.TotalExpenses.Equal(dec("130")))
	assert.True(t, budgetState.IsOverBudget)
}

func TestBalanceTrackingMetrics(t *testing.T) {
	f := newFixture(t)
	f.deriver.now = func() time.Time { return midMarch }
	budget := f.seedBudget(t, &domain.Budget{BalanceSource: domain.BalanceSourceManual})

	item := &domain.BudgetItem{
		BudgetID:         budget.ID,
		Type:             domain.BudgetItemBalance,
		Status:           domain.BudgetItemActive,
		FundingAccountID: "ext-fund",
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveBudgetItem(item) })
	f.save(t, func(tx *sqlite.Tx) error {
		return tx.SaveAccount(&domain.Account{
			AccountID:      "ext-fund",
			ItemID:         "item-fund",
			Name:           "Funding",
			Type:           domain.AccountTypeDepository,
			CurrentBalance: dec("140"),
		})
	})

	for i, amount := range []string{"50", "-20", "10"} {
		txn := &domain.Transaction{
			TransactionID: string(rune('a' + i)),
			AccountID:     "ext-fund",
			Amount:        dec(amount),
			Date:          midMarch.AddDate(0, 0, i),
		}
		f.save(t, func(tx *sqlite.Tx) error { return tx.SaveTransaction(txn) })
	}

	// starting balance derives from the account's live balance, not the
	// configured amount
	state, err := f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, state.AmountSpent.Equal(dec("60")))
	assert.True(t, state.Credits.Equal(dec("20")))
	assert.True(t, state.NetChange.Equal(dec("40")))
	assert.True(t, state.StartingBalance.Equal(dec("100")))

	// a new outflow shifts the reconstruction without any stored value
	f.save(t, func(tx *sqlite.Tx) error {
		return tx.SaveTransaction(&domain.Transaction{
			TransactionID: "d",
			AccountID:     "ext-fund",
			Amount:        dec("25"),
			Date:          midMarch.AddDate(0, 0, 3),
		})
	})
	state, err = f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, state.NetChange.Equal(dec("65")))
	assert.True(t, state.StartingBalance.Equal(dec("75")))
}

func TestBalanceTrackingWithoutAccountRow(t *testing.T) {
	f := newFixture(t)
	f.deriver.now = func() time.Time { return midMarch }
	budget := f.seedBudget(t, &domain.Budget{BalanceSource: domain.BalanceSourceManual})

	item := &domain.BudgetItem{
		BudgetID:         budget.ID,
		Type:             domain.BudgetItemBalance,
		Status:           domain.BudgetItemActive,
		Amount:           dec("140"),
		FundingAccountID: "ext-missing",
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveBudgetItem(item) })
	f.save(t, func(tx *sqlite.Tx) error {
		return tx.SaveTransaction(&domain.Transaction{
			TransactionID: "m1",
			AccountID:     "ext-missing",
			Amount:        dec("40"),
			Date:          midMarch,
		})
	})

	// configured amount stands in for the missing account balance
	state, err := f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, state.NetChange.Equal(dec("40")))
	assert.True(t, state.StartingBalance.Equal(dec("100")))
}

func TestDisplayStatusInState(t *testing.T) {
	f := newFixture(t)
	f.deriver.now = func() time.Time { return midMarch }
	budget := f.seedBudget(t, &domain.Budget{BalanceSource: domain.BalanceSourceManual})

	overdueDate := midMarch.AddDate(0, 0, -2)
	item := &domain.BudgetItem{
		BudgetID: budget.ID,
		Type:     domain.BudgetItemExpense,
		Status:   domain.BudgetItemActive,
		Amount:   dec("50"),
		DueDate:  &overdueDate,
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveBudgetItem(item) })

	state, err := f.deriver.ComputeBudgetItemState(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisplayOverdue, state.DisplayStatus)
}

func TestDailyBalanceReplay(t *testing.T) {
	f := newFixture(t)
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	f.deriver.now = func() time.Time { return today.Add(14 * time.Hour) }

	acc := &domain.Account{
		AccountID:      "ext-replay",
		ItemID:         "item-1",
		Type:           domain.AccountTypeDepository,
		CurrentBalance: dec("100"),
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveAccount(acc) })

	// two days ago: 30 out; yesterday: 10 in
	txns := []*domain.Transaction{
		{TransactionID: "r1", AccountID: "ext-replay", Amount: dec("30"), Date: today.AddDate(0, 0, -2)},
		{TransactionID: "r2", AccountID: "ext-replay", Amount: dec("-10"), Date: today.AddDate(0, 0, -1)},
	}
	f.save(t, func(tx *sqlite.Tx) error {
		for _, txn := range txns {
			if err := tx.SaveTransaction(txn); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(t, f.deriver.RecomputeDailyBalances(f.ctx, []string{"ext-replay"}))

	series, err := f.store.DailyBalances(f.ctx, "ext-replay")
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Equal(t, today.AddDate(0, 0, -2), series[0].Date)
	assert.True(t, series[0].Balance.Equal(dec("90")), "end of day after the 30 outflow")
	assert.True(t, series[1].Balance.Equal(dec("100")), "the 10 credit restores the balance")
	assert.True(t, series[2].Balance.Equal(dec("100")), "today matches the current balance")
}

func TestComputedCellReactsToInputs(t *testing.T) {
	f := newFixture(t)
	f.deriver.now = func() time.Time { return midMarch }
	budget := f.seedBudget(t, &domain.Budget{BalanceSource: domain.BalanceSourceManual, ManualBalance: dec("200")})
	item := &domain.BudgetItem{
		BudgetID: budget.ID,
		Type:     domain.BudgetItemCategory,
		Status:   domain.BudgetItemActive,
		Amount:   dec("200"),
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveBudgetItem(item) })

	cell := f.deriver.BudgetStateCell(budget.ID)
	defer cell.Close()

	first, err := cell.Get(f.ctx)
	require.NoError(t, err)
	assert.True(t, first.TotalExpenses.IsZero())

	var mu sync.Mutex
	var seen []*BudgetState
	unsub := cell.Subscribe(func(s *BudgetState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	defer unsub()

	// a linked transaction changes the rollup
	txn := &domain.Transaction{
		TransactionID: "cell-1", AccountID: "a", Amount: dec("75"), Date: midMarch, BudgetItemID: item.ID,
	}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveTransaction(txn) })

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range seen {
			if s.TotalExpenses.Equal(dec("75")) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// an unrelated table never triggers a recompute notification
	mu.Lock()
	before := len(seen)
	mu.Unlock()
	merchant := &domain.Merchant{Name: "Acme"}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveMerchant(merchant) })
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	after := len(seen)
	mu.Unlock()
	assert.Equal(t, before, after)
}

func TestComputedNotifiesOnlyOnChange(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	calls := 0
	cell := NewComputed(f.store, []string{domain.TableMerchants}, func(ctx context.Context) (int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return 42, nil
	}, nil)
	defer cell.Close()

	v, err := cell.Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	notifications := 0
	cell.Subscribe(func(int) {
		mu.Lock()
		defer mu.Unlock()
		notifications++
	})
	mu.Lock()
	initial := notifications // immediate delivery of the cached value
	mu.Unlock()
	assert.Equal(t, 1, initial)

	m := &domain.Merchant{Name: "Same Value"}
	f.save(t, func(tx *sqlite.Tx) error { return tx.SaveMerchant(m) })

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, notifications, "unchanged value stays silent")
}
