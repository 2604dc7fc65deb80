// Package domain defines the persisted record types shared by the local
// store, the sync engine and the derived-state layer.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Table names as they appear in the local store and on the sync wire.
const (
	TableAccounts      = "accounts"
	TableItems         = "items"
	TableTransactions  = "transactions"
	TableCategories    = "categories"
	TableMerchants     = "merchants"
	TableBudgets       = "budgets"
	TableBudgetItems   = "budget_items"
	TableDailyBalances = "account_daily_balances"
)

// SyncTables lists every table that participates in pull/push, in a
// stable apply order (parents before children). account_daily_balances
// is a local cache and never syncs.
var SyncTables = []string{
	TableItems,
	TableAccounts,
	TableCategories,
	TableMerchants,
	TableTransactions,
	TableBudgets,
	TableBudgetItems,
}

// SyncStatus is the change-tracking marker carried by every record.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusCreated SyncStatus = "created"
	SyncStatusUpdated SyncStatus = "updated"
	SyncStatusDeleted SyncStatus = "deleted" // tombstone, awaiting server ack
)

// Meta carries the bookkeeping fields common to every record. It is
// persisted in dedicated columns, not in the record document, so it is
// excluded from JSON.
type Meta struct {
	ID         string     `json:"-"`
	CreatedAt  time.Time  `json:"-"`
	UpdatedAt  time.Time  `json:"-"`
	SyncStatus SyncStatus `json:"-"`
	DeletedAt  *time.Time `json:"-"`
}

// MetaRef exposes the bookkeeping fields for storage code that works
// across record types generically.
func (m *Meta) MetaRef() *Meta {
	return m
}

// IsDirty reports whether the record has unsynced mutations.
func (m Meta) IsDirty() bool {
	return m.SyncStatus != SyncStatusSynced
}

// IsDeleted reports whether the record is tombstoned. Tombstoned records
// are excluded from business queries but remain visible to the change
// tracker until the server acknowledges the deletion.
func (m Meta) IsDeleted() bool {
	return m.DeletedAt != nil
}

// RecordRef identifies one record for change tracking.
type RecordRef struct {
	Table string
	ID    string
}

// ItemStatus is the connection health of a provider link.
type ItemStatus string

const (
	ItemStatusGood          ItemStatus = "good"
	ItemStatusError         ItemStatus = "error"
	ItemStatusPendingRelink ItemStatus = "pending_relink"
)

// Item is one aggregation-provider connection. LastLocalRefresh is set
// whenever ingestion for this item completes locally and drives
// staleness detection; LastRemoteSync is set only when the provider
// also acknowledged the remote update nudge during that refresh.
type Item struct {
	Meta
	ProviderItemID   string     `json:"provider_item_id"`
	InstitutionName  string     `json:"institution_name"`
	Status           ItemStatus `json:"status"`
	LastRemoteSync   time.Time  `json:"last_remote_sync"`
	LastLocalRefresh time.Time  `json:"last_local_refresh"`

	// TransactionCursor is the provider-side pagination cursor; empty
	// means "fetch from the beginning".
	TransactionCursor string `json:"transaction_cursor"`
}

// Stale reports whether the item's local data is older than threshold.
// A never-refreshed item is always stale.
func (it Item) Stale(now time.Time, threshold time.Duration) bool {
	if it.LastLocalRefresh.IsZero() {
		return true
	}
	return now.Sub(it.LastLocalRefresh) > threshold
}

// AccountType classifies an external account.
type AccountType string

const (
	AccountTypeDepository AccountType = "depository"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeLoan       AccountType = "loan"
	AccountTypeInvestment AccountType = "investment"
)

// HasLiabilities reports whether liability enrichment applies.
func (t AccountType) HasLiabilities() bool {
	return t == AccountTypeCredit || t == AccountTypeLoan
}

// Account is an external financial account. AccountID is the provider's
// stable external identifier and is distinct from the local row id; it
// must be unique across all non-deleted rows.
type Account struct {
	Meta
	AccountID        string          `json:"account_id"` // external id
	ItemID           string          `json:"item_id"`    // owning Item (local id)
	Name             string          `json:"name"`
	OfficialName     string          `json:"official_name"`
	Mask             string          `json:"mask"`
	Type             AccountType     `json:"type"`
	Subtype          string          `json:"subtype"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`

	// Liability enrichment, best-effort for credit/loan accounts.
	APR            *decimal.Decimal `json:"apr,omitempty"`
	NextPaymentDue *time.Time       `json:"next_payment_due,omitempty"`
}

// Transaction is a ledger entry tied to an Account by external id.
// Amount is signed with positive = outflow (source convention).
type Transaction struct {
	Meta
	TransactionID    string          `json:"transaction_id"` // external id
	AccountID        string          `json:"account_id"`     // external account id
	Amount           decimal.Decimal `json:"amount"`
	Date             time.Time       `json:"date"`
	Name             string          `json:"name"`
	MerchantName     string          `json:"merchant_name"`
	CategoryID       string          `json:"category_id"`
	DetailedCategory string          `json:"detailed_category"`
	Pending          bool            `json:"pending"`
	BudgetItemID     string          `json:"budget_item_id"` // at most one linked BudgetItem, empty if none
}

// Category is a classification node. An empty Detailed value marks a
// parent category, which matches all of its children.
type Category struct {
	Meta
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
	Name     string `json:"name"`
}

// IsParent reports whether this category is a primary-level node.
func (c Category) IsParent() bool {
	return c.Detailed == ""
}

// Merchant is a normalized payee.
type Merchant struct {
	Meta
	Name    string `json:"name"`
	LogoURL string `json:"logo_url"`
}

// BalanceSource is a budget's balance policy.
type BalanceSource string

const (
	BalanceSourceManual  BalanceSource = "manual"
	BalanceSourceAccount BalanceSource = "account"
)

// BalancePolicy selects which account balance an account-sourced budget
// tracks.
type BalancePolicy string

const (
	BalancePolicyCurrent   BalancePolicy = "current"
	BalancePolicyAvailable BalancePolicy = "available"
)

// BudgetStatus is recomputed from the date window, never stored
// authoritative.
type BudgetStatus string

const (
	BudgetStatusActive    BudgetStatus = "active"
	BudgetStatusCompleted BudgetStatus = "completed"
)

// Budget is a time-boxed envelope of BudgetItems.
type Budget struct {
	Meta
	Name            string          `json:"name"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	BalanceSource   BalanceSource   `json:"balance_source"`
	BalancePolicy   BalancePolicy   `json:"balance_policy"`
	ManualBalance   decimal.Decimal `json:"manual_balance"`
	LinkedAccountID string          `json:"linked_account_id"` // external account id, empty when manual
}

// StatusAt derives the budget's status from its date window.
func (b Budget) StatusAt(now time.Time) BudgetStatus {
	if now.After(b.EndDate) {
		return BudgetStatusCompleted
	}
	return BudgetStatusActive
}

// Contains reports whether t falls inside the budget window, inclusive
// of both endpoints.
func (b Budget) Contains(t time.Time) bool {
	return !t.Before(b.StartDate) && !t.After(b.EndDate)
}

// BudgetItemType is the kind of line inside a budget.
type BudgetItemType string

const (
	BudgetItemIncome   BudgetItemType = "income"
	BudgetItemExpense  BudgetItemType = "expense"
	BudgetItemCategory BudgetItemType = "category"
	BudgetItemBalance  BudgetItemType = "balance" // balance-tracking
)

// BudgetItem is one line inside a Budget.
type BudgetItem struct {
	Meta
	BudgetID         string           `json:"budget_id"`
	Type             BudgetItemType   `json:"type"`
	Name             string           `json:"name"`
	Amount           decimal.Decimal  `json:"amount"`
	Status           BudgetItemStatus `json:"status"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	FundingAccountID string           `json:"funding_account_id"` // external account id
	MerchantID       string           `json:"merchant_id"`
	CategoryID       string           `json:"category_id"`
	DetailedCategory string           `json:"detailed_category"`
	IsAutoPay        bool             `json:"is_auto_pay"`
	IsRecurring      bool             `json:"is_recurring"`
}

// AccountDailyBalance is one (account, date) balance snapshot, derived
// by replaying transactions backward from the current balance. Purely a
// cache: safe to recompute in full, never a sync source of truth.
type AccountDailyBalance struct {
	AccountID string          `json:"account_id"` // external account id
	Date      time.Time       `json:"date"`
	Balance   decimal.Decimal `json:"balance"`
}
