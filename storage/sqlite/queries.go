package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	syncErrors "github.com/c0deZ3R0/go-ledger-sync/errors"
)

const metaColumns = `id, created_at, updated_at, sync_status, deleted_at, doc`

func scanRow(scanner interface{ Scan(...interface{}) error }) (rowMeta, []byte, error) {
	var rm rowMeta
	var doc []byte
	err := scanner.Scan(&rm.id, &rm.createdAt, &rm.updatedAt, &rm.syncStatus, &rm.deletedAt, &doc)
	return rm, doc, err
}

func decodeInto(rm rowMeta, doc []byte, out interface{ MetaRef() *domain.Meta }) error {
	if err := json.Unmarshal(doc, out); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad,
			fmt.Errorf("decode record %s: %w", rm.id, err))
	}
	*out.MetaRef() = rm.toMeta()
	return nil
}

// getOne loads a single live record by an arbitrary WHERE clause.
func getOne[T any, PT interface {
	*T
	MetaRef() *domain.Meta
}](ctx context.Context, s *Store, table, where string, args ...interface{}) (*T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE deleted_at IS NULL AND %s`, metaColumns, table, where)
	rm, doc, err := scanRow(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad,
			fmt.Errorf("%w: %s", ErrRecordNotFound, table))
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	out := PT(new(T))
	if err := decodeInto(rm, doc, out); err != nil {
		return nil, err
	}
	return (*T)(out), nil
}

// getList loads all live records matching a WHERE clause, ordered by
// creation time for stable iteration.
func getList[T any, PT interface {
	*T
	MetaRef() *domain.Meta
}](ctx context.Context, s *Store, table, where string, args ...interface{}) ([]*T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE deleted_at IS NULL AND %s ORDER BY created_at, id`,
		metaColumns, table, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		rm, doc, err := scanRow(rows)
		if err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		rec := PT(new(T))
		if err := decodeInto(rm, doc, rec); err != nil {
			return nil, err
		}
		out = append(out, (*T)(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return out, nil
}

// IsNotFound reports whether err denotes a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// Items returns all live provider connections.
func (s *Store) Items(ctx context.Context) ([]*domain.Item, error) {
	return getList[domain.Item](ctx, s, domain.TableItems, `1=1`)
}

// ItemByID returns a provider connection by local id.
func (s *Store) ItemByID(ctx context.Context, id string) (*domain.Item, error) {
	return getOne[domain.Item](ctx, s, domain.TableItems, `id = ?`, id)
}

// ItemByProviderItemID returns the connection holding a provider-side item id.
func (s *Store) ItemByProviderItemID(ctx context.Context, providerItemID string) (*domain.Item, error) {
	return getOne[domain.Item](ctx, s, domain.TableItems,
		`json_extract(doc, '$.provider_item_id') = ?`, providerItemID)
}

// Accounts returns all live accounts.
func (s *Store) Accounts(ctx context.Context) ([]*domain.Account, error) {
	return getList[domain.Account](ctx, s, domain.TableAccounts, `1=1`)
}

// AccountByID returns an account by local id.
func (s *Store) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return getOne[domain.Account](ctx, s, domain.TableAccounts, `id = ?`, id)
}

// AccountsByExternalID returns every live account row carrying the
// given provider account id. More than one row means the dataset holds
// duplicates needing repair.
func (s *Store) AccountsByExternalID(ctx context.Context, externalID string) ([]*domain.Account, error) {
	return getList[domain.Account](ctx, s, domain.TableAccounts,
		`json_extract(doc, '$.account_id') = ?`, externalID)
}

// AccountsForItem returns the live accounts under a provider connection.
func (s *Store) AccountsForItem(ctx context.Context, itemID string) ([]*domain.Account, error) {
	return getList[domain.Account](ctx, s, domain.TableAccounts,
		`json_extract(doc, '$.item_id') = ?`, itemID)
}

// UpdateAccountBalance routes a balance change through the ordinary
// account save path, so it is indistinguishable from a manual edit.
func (s *Store) UpdateAccountBalance(ctx context.Context, accountID string, current, available decimal.Decimal) error {
	acc, err := s.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	acc.CurrentBalance = current
	acc.AvailableBalance = available
	return s.Write(ctx, func(tx *Tx) error {
		return tx.SaveAccount(acc)
	})
}

// TransactionByExternalID returns a transaction by its provider id.
func (s *Store) TransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	return getOne[domain.Transaction](ctx, s, domain.TableTransactions,
		`json_extract(doc, '$.transaction_id') = ?`, externalID)
}

// TransactionsForAccount returns the live transactions of an account,
// optionally bounded by an inclusive date window. Zero bounds are open.
func (s *Store) TransactionsForAccount(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Transaction, error) {
	where := `json_extract(doc, '$.account_id') = ?`
	args := []interface{}{accountID}
	if !from.IsZero() {
		where += ` AND json_extract(doc, '$.date') >= ?`
		args = append(args, from.UTC().Format(time.RFC3339Nano))
	}
	if !to.IsZero() {
		where += ` AND json_extract(doc, '$.date') <= ?`
		args = append(args, to.UTC().Format(time.RFC3339Nano))
	}
	return getList[domain.Transaction](ctx, s, domain.TableTransactions, where, args...)
}

// TransactionsForBudgetItem returns the live transactions linked to a
// budget item.
func (s *Store) TransactionsForBudgetItem(ctx context.Context, budgetItemID string) ([]*domain.Transaction, error) {
	return getList[domain.Transaction](ctx, s, domain.TableTransactions,
		`json_extract(doc, '$.budget_item_id') = ?`, budgetItemID)
}

// Budgets returns all live budgets.
func (s *Store) Budgets(ctx context.Context) ([]*domain.Budget, error) {
	return getList[domain.Budget](ctx, s, domain.TableBudgets, `1=1`)
}

// BudgetByID returns a budget by local id.
func (s *Store) BudgetByID(ctx context.Context, id string) (*domain.Budget, error) {
	return getOne[domain.Budget](ctx, s, domain.TableBudgets, `id = ?`, id)
}

// BudgetItemByID returns a budget item by local id.
func (s *Store) BudgetItemByID(ctx context.Context, id string) (*domain.BudgetItem, error) {
	return getOne[domain.BudgetItem](ctx, s, domain.TableBudgetItems, `id = ?`, id)
}

// BudgetItemsForBudget returns the live items of a budget.
func (s *Store) BudgetItemsForBudget(ctx context.Context, budgetID string) ([]*domain.BudgetItem, error) {
	return getList[domain.BudgetItem](ctx, s, domain.TableBudgetItems,
		`json_extract(doc, '$.budget_id') = ?`, budgetID)
}

// Categories returns all live categories.
func (s *Store) Categories(ctx context.Context) ([]*domain.Category, error) {
	return getList[domain.Category](ctx, s, domain.TableCategories, `1=1`)
}

// CategoryByID returns a category by local id.
func (s *Store) CategoryByID(ctx context.Context, id string) (*domain.Category, error) {
	return getOne[domain.Category](ctx, s, domain.TableCategories, `id = ?`, id)
}

// CategoryChildren returns the detailed categories under a primary
// category, excluding the parent row itself.
func (s *Store) CategoryChildren(ctx context.Context, primary string) ([]*domain.Category, error) {
	return getList[domain.Category](ctx, s, domain.TableCategories,
		`json_extract(doc, '$.primary') = ? AND json_extract(doc, '$.detailed') != ''`,
		primary)
}

// Merchants returns all live merchants.
func (s *Store) Merchants(ctx context.Context) ([]*domain.Merchant, error) {
	return getList[domain.Merchant](ctx, s, domain.TableMerchants, `1=1`)
}

// MerchantByID returns a merchant by local id.
func (s *Store) MerchantByID(ctx context.Context, id string) (*domain.Merchant, error) {
	return getOne[domain.Merchant](ctx, s, domain.TableMerchants, `id = ?`, id)
}

// ReplaceDailyBalances swaps out the stored daily balance series of an
// account. Daily balances are derived locally and never synced.
func (t *Tx) ReplaceDailyBalances(accountID string, balances []domain.AccountDailyBalance) error {
	if _, err := t.tx.Exec(
		`DELETE FROM account_daily_balances WHERE account_id = ?`, accountID); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	for _, b := range balances {
		_, err := t.tx.Exec(
			`INSERT INTO account_daily_balances (account_id, date, balance) VALUES (?, ?, ?)`,
			accountID, b.Date.UTC().Format("2006-01-02"), b.Balance.String())
		if err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
	}
	t.touch(domain.TableDailyBalances)
	return nil
}

// DailyBalances returns the stored balance series of an account in
// ascending date order.
func (s *Store) DailyBalances(ctx context.Context, accountID string) ([]domain.AccountDailyBalance, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, date, balance FROM account_daily_balances
		 WHERE account_id = ? ORDER BY date`, accountID)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var out []domain.AccountDailyBalance
	for rows.Next() {
		var b domain.AccountDailyBalance
		var date, balance string
		if err := rows.Scan(&b.AccountID, &date, &balance); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		if b.Date, err = time.ParseInLocation("2006-01-02", date, time.UTC); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		if b.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
