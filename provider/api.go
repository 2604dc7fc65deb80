// Package provider ingests data from the aggregation provider into the
// local store: account reconciliation with duplicate repair, best-effort
// liability enrichment, and cursor-paginated transaction deltas applied
// through the same linking logic as manual edits.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
)

// AccountData is one account as reported by the provider.
type AccountData struct {
	AccountID        string
	Name             string
	OfficialName     string
	Mask             string
	Type             domain.AccountType
	Subtype          string
	CurrentBalance   decimal.Decimal
	AvailableBalance decimal.Decimal
}

// TransactionData is one transaction as reported by the provider.
type TransactionData struct {
	TransactionID    string
	AccountID        string
	Amount           decimal.Decimal
	Date             time.Time
	Name             string
	MerchantName     string
	CategoryID       string
	DetailedCategory string
	Pending          bool
}

// TransactionsPage is one page of the provider's transaction delta
// stream.
type TransactionsPage struct {
	Added      []TransactionData
	Modified   []TransactionData
	Removed    []string // provider transaction ids
	NextCursor string
	HasMore    bool
}

// LiabilityData is liability enrichment for a credit or loan account.
type LiabilityData struct {
	AccountID      string
	APR            *decimal.Decimal
	NextPaymentDue *time.Time
}

// ItemData describes one provider connection.
type ItemData struct {
	ProviderItemID  string
	InstitutionName string
	Status          domain.ItemStatus
}

// API is the aggregation provider's client surface.
type API interface {
	// ExchangePublicToken trades a link-flow public token for a
	// long-lived access token and the provider's item id.
	ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, providerItemID string, err error)

	// GetItem fetches connection metadata.
	GetItem(ctx context.Context, accessToken string) (*ItemData, error)

	// GetAccounts fetches the connection's current account list.
	GetAccounts(ctx context.Context, accessToken string) ([]AccountData, error)

	// GetTransactions fetches one page of the transaction delta stream
	// starting at cursor. An empty cursor starts from the beginning.
	GetTransactions(ctx context.Context, accessToken, cursor string) (*TransactionsPage, error)

	// GetLiabilities fetches liability data for the connection.
	GetLiabilities(ctx context.Context, accessToken string) ([]LiabilityData, error)

	// CheckForUpdates nudges the provider to refresh its server-side
	// webhook data for the connection.
	CheckForUpdates(ctx context.Context, accessToken string) error
}

// TokenProvider resolves the provider access token for an item, backed
// by the platform's secure credential store.
type TokenProvider interface {
	TokenForItem(ctx context.Context, itemID string) (string, error)
	StoreToken(ctx context.Context, itemID, accessToken string) error
}
