// Package linking matches transactions to budget items. A transaction
// links to at most one item; every categorize or update re-runs the
// match so links stay correct as budgets, merchants and categories
// move underneath them.
package linking

import (
	"context"
	"strings"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

// Store is the read surface the linker needs.
type Store interface {
	Budgets(ctx context.Context) ([]*domain.Budget, error)
	BudgetByID(ctx context.Context, id string) (*domain.Budget, error)
	BudgetItemByID(ctx context.Context, id string) (*domain.BudgetItem, error)
	BudgetItemsForBudget(ctx context.Context, budgetID string) ([]*domain.BudgetItem, error)
	TransactionsForBudgetItem(ctx context.Context, budgetItemID string) ([]*domain.Transaction, error)
	MerchantByID(ctx context.Context, id string) (*domain.Merchant, error)
}

// Linker re-evaluates transaction-to-budget-item links.
type Linker struct {
	store  Store
	logger *logging.Logger
}

// New builds a Linker.
func New(store Store, logger *logging.Logger) *Linker {
	if logger == nil {
		logger = logging.Default().WithComponent("linking")
	}
	return &Linker{store: store, logger: logger}
}

// Relink recomputes txn's budget-item link in place. An existing link
// is kept only while it still qualifies; otherwise the transaction is
// unlinked and re-matched from scratch. Returns true when the link
// changed. The caller persists the transaction.
func (l *Linker) Relink(ctx context.Context, txn *domain.Transaction) (bool, error) {
	original := txn.BudgetItemID

	if txn.BudgetItemID != "" {
		ok, err := l.stillQualifies(ctx, txn)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
		txn.BudgetItemID = ""
	}

	match, err := l.findMatch(ctx, txn)
	if err != nil {
		return false, err
	}
	if match != nil {
		txn.BudgetItemID = match.ID
	}
	return txn.BudgetItemID != original, nil
}

// stillQualifies checks whether an existing link remains valid.
func (l *Linker) stillQualifies(ctx context.Context, txn *domain.Transaction) (bool, error) {
	item, err := l.store.BudgetItemByID(ctx, txn.BudgetItemID)
	if sqlite.IsNotFound(err) {
		// the linked item was deleted out from under the transaction
		return false, nil
	}
	if err != nil {
		return false, err
	}
	budget, err := l.store.BudgetByID(ctx, item.BudgetID)
	if sqlite.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !budget.Contains(txn.Date) {
		return false, nil
	}
	return l.matches(ctx, txn, item)
}

// findMatch searches every budget whose window holds the transaction
// date, returning the first linkable item.
func (l *Linker) findMatch(ctx context.Context, txn *domain.Transaction) (*domain.BudgetItem, error) {
	budgets, err := l.store.Budgets(ctx)
	if err != nil {
		return nil, err
	}
	for _, budget := range budgets {
		if !budget.Contains(txn.Date) {
			continue
		}
		items, err := l.store.BudgetItemsForBudget(ctx, budget.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			ok, err := l.matches(ctx, txn, item)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if item.Type == domain.BudgetItemExpense {
				free, err := l.expenseSlotFree(ctx, txn, item)
				if err != nil {
					return nil, err
				}
				if !free {
					continue
				}
			}
			return item, nil
		}
	}
	return nil, nil
}

// matches applies the type-specific matching rule.
func (l *Linker) matches(ctx context.Context, txn *domain.Transaction, item *domain.BudgetItem) (bool, error) {
	if item.Status.Terminal() {
		return false, nil
	}
	switch item.Type {
	case domain.BudgetItemExpense:
		return l.merchantMatches(ctx, txn, item)
	case domain.BudgetItemCategory:
		return categoryMatches(txn, item), nil
	default:
		return false, nil
	}
}

func (l *Linker) merchantMatches(ctx context.Context, txn *domain.Transaction, item *domain.BudgetItem) (bool, error) {
	if item.MerchantID == "" || txn.MerchantName == "" {
		return false, nil
	}
	merchant, err := l.store.MerchantByID(ctx, item.MerchantID)
	if sqlite.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(merchant.Name, txn.MerchantName), nil
}

// categoryMatches applies category-or-descendant matching: an item with
// no detailed sub-category is a parent and matches every transaction
// under its primary category.
func categoryMatches(txn *domain.Transaction, item *domain.BudgetItem) bool {
	if item.DetailedCategory != "" {
		return txn.DetailedCategory == item.DetailedCategory
	}
	if item.CategoryID == "" {
		return false
	}
	return txn.CategoryID == item.CategoryID
}

// expenseSlotFree enforces one-to-one linking for expense items: only
// an item with no other transaction linked may take this one.
func (l *Linker) expenseSlotFree(ctx context.Context, txn *domain.Transaction, item *domain.BudgetItem) (bool, error) {
	linked, err := l.store.TransactionsForBudgetItem(ctx, item.ID)
	if err != nil {
		return false, err
	}
	for _, other := range linked {
		if other.ID != txn.ID {
			return false, nil
		}
	}
	return true, nil
}
