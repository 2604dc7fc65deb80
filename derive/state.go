package derive

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

// Deriver computes derived budget and account state from the store.
type Deriver struct {
	store  *sqlite.Store
	logger *logging.Logger
	now    func() time.Time
}

// New builds a Deriver.
func New(store *sqlite.Store, logger *logging.Logger) *Deriver {
	if logger == nil {
		logger = logging.Default().WithComponent("derive")
	}
	return &Deriver{store: store, logger: logger, now: time.Now}
}

// BudgetState is a budget's derived aggregates.
type BudgetState struct {
	BudgetID         string
	Status           domain.BudgetStatus
	EffectiveBalance decimal.Decimal
	TotalExpenses    decimal.Decimal
	IsOverBudget     bool
}

// BudgetItemState is one budget item's derived aggregates.
type BudgetItemState struct {
	ItemID        string
	Spending      decimal.Decimal
	Remaining     decimal.Decimal
	IsOverBudget  bool
	DisplayStatus domain.DisplayStatus

	// balance-tracking metrics, zero for other item types
	AmountSpent     decimal.Decimal
	Credits         decimal.Decimal
	NetChange       decimal.Decimal
	StartingBalance decimal.Decimal
}

// ComputeBudgetState derives a budget's aggregates at the current time.
func (d *Deriver) ComputeBudgetState(ctx context.Context, budgetID string) (*BudgetState, error) {
	budget, err := d.store.BudgetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	state := &BudgetState{
		BudgetID:         budget.ID,
		Status:           budget.StatusAt(d.now()),
		EffectiveBalance: d.effectiveBalance(ctx, budget),
	}

	items, err := d.store.BudgetItemsForBudget(ctx, budget.ID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, item := range items {
		if item.Type == domain.BudgetItemBalance || item.Type == domain.BudgetItemIncome {
			continue
		}
		itemState, err := d.ComputeBudgetItemState(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		total = total.Add(itemState.Spending)
	}
	state.TotalExpenses = total
	state.IsOverBudget = total.GreaterThan(state.EffectiveBalance)
	return state, nil
}

// effectiveBalance resolves the budget's balance policy: the manual
// value, or the linked account's current/available balance with the
// manual value as fallback when the account cannot be resolved.
func (d *Deriver) effectiveBalance(ctx context.Context, budget *domain.Budget) decimal.Decimal {
	if budget.BalanceSource != domain.BalanceSourceAccount || budget.LinkedAccountID == "" {
		return budget.ManualBalance
	}
	rows, err := d.store.AccountsByExternalID(ctx, budget.LinkedAccountID)
	if err != nil || len(rows) == 0 {
		return budget.ManualBalance
	}
	acc := rows[0]
	if budget.BalancePolicy == domain.BalancePolicyAvailable {
		return acc.AvailableBalance
	}
	return acc.CurrentBalance
}

// ComputeBudgetItemState derives one item's aggregates.
func (d *Deriver) ComputeBudgetItemState(ctx context.Context, itemID string) (*BudgetItemState, error) {
	item, err := d.store.BudgetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	state := &BudgetItemState{
		ItemID: item.ID,
		DisplayStatus: domain.DeriveDisplayStatus(
			item.Type, item.Status, item.DueDate, item.IsAutoPay, item.IsRecurring, d.now()),
	}

	if item.Type == domain.BudgetItemBalance {
		if err := d.balanceMetrics(ctx, item, state); err != nil {
			return nil, err
		}
		return state, nil
	}

	linked, err := d.store.TransactionsForBudgetItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	spending := decimal.Zero
	for _, txn := range linked {
		if txn.Amount.IsPositive() {
			spending = spending.Add(txn.Amount)
		}
	}
	state.Spending = spending

	// remaining never goes negative, overspend is flagged instead
	capped := decimal.Min(spending, item.Amount)
	state.Remaining = item.Amount.Sub(capped)
	state.IsOverBudget = spending.GreaterThan(item.Amount)
	return state, nil
}

// balanceMetrics fills the balance-tracking aggregates: outflows,
// credits, the net change over the budget window, and the window's
// implied starting balance.
func (d *Deriver) balanceMetrics(ctx context.Context, item *domain.BudgetItem, state *BudgetItemState) error {
	if item.FundingAccountID == "" {
		state.StartingBalance = item.Amount
		return nil
	}

	budget, err := d.store.BudgetByID(ctx, item.BudgetID)
	if err != nil {
		return err
	}
	accounts, err := d.store.AccountsByExternalID(ctx, item.FundingAccountID)
	if err != nil {
		return err
	}
	txns, err := d.store.TransactionsForAccount(ctx, item.FundingAccountID, budget.StartDate, budget.EndDate)
	if err != nil {
		return err
	}

	spent, credits := decimal.Zero, decimal.Zero
	for _, txn := range txns {
		if txn.Amount.IsPositive() {
			spent = spent.Add(txn.Amount)
		} else {
			credits = credits.Add(txn.Amount.Neg())
		}
	}
	state.AmountSpent = spent
	state.Credits = credits
	state.NetChange = spent.Sub(credits)

	// Reconstruct the period-starting balance from the account's live
	// balance; it self-corrects as new transactions land. The configured
	// amount stands in when the funding account has no local row.
	balance := item.Amount
	if len(accounts) > 0 {
		balance = accounts[0].CurrentBalance
	}
	state.StartingBalance = balance.Sub(state.NetChange)
	return nil
}

// BudgetStateCell wraps ComputeBudgetState in a reactive cell refreshed
// by any change to budgets, items, transactions or accounts.
func (d *Deriver) BudgetStateCell(budgetID string) *Computed[*BudgetState] {
	return NewComputed(d.store, []string{
		domain.TableBudgets,
		domain.TableBudgetItems,
		domain.TableTransactions,
		domain.TableAccounts,
	}, func(ctx context.Context) (*BudgetState, error) {
		return d.ComputeBudgetState(ctx, budgetID)
	}, nil)
}

// BudgetItemStateCell wraps ComputeBudgetItemState in a reactive cell.
func (d *Deriver) BudgetItemStateCell(itemID string) *Computed[*BudgetItemState] {
	return NewComputed(d.store, []string{
		domain.TableBudgets,
		domain.TableBudgetItems,
		domain.TableTransactions,
		domain.TableAccounts,
	}, func(ctx context.Context) (*BudgetItemState, error) {
		return d.ComputeBudgetItemState(ctx, itemID)
	}, nil)
}
