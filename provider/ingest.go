package provider

import (
	"context"
	"sort"
	"time"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	syncErrors "github.com/c0deZ3R0/go-ledger-sync/errors"
	"github.com/c0deZ3R0/go-ledger-sync/linking"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

// BalanceRecomputer rebuilds derived daily-balance series. Invoked off
// the synchronous ingestion path.
type BalanceRecomputer interface {
	RecomputeDailyBalances(ctx context.Context, accountIDs []string) error
}

// Ingestor pulls provider data into the local store.
type Ingestor struct {
	api       API
	store     *sqlite.Store
	tokens    TokenProvider
	linker    *linking.Linker
	recompute BalanceRecomputer
	logger    *logging.Logger
	now       func() time.Time
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithRecomputer wires the deferred daily-balance recompute.
func WithRecomputer(r BalanceRecomputer) IngestorOption {
	return func(g *Ingestor) { g.recompute = r }
}

// WithLogger sets the ingestor logger.
func WithLogger(l *logging.Logger) IngestorOption {
	return func(g *Ingestor) { g.logger = l }
}

// WithClock overrides the ingestor clock.
func WithClock(now func() time.Time) IngestorOption {
	return func(g *Ingestor) { g.now = now }
}

// NewIngestor builds an Ingestor.
func NewIngestor(api API, store *sqlite.Store, tokens TokenProvider, linker *linking.Linker, opts ...IngestorOption) *Ingestor {
	g := &Ingestor{
		api:    api,
		store:  store,
		tokens: tokens,
		linker: linker,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.Default().WithComponent("provider")
	}
	return g
}

// LinkNewItem completes the link flow: exchanges the public token,
// records the connection and runs the first refresh.
func (g *Ingestor) LinkNewItem(ctx context.Context, publicToken string) (*domain.Item, error) {
	accessToken, providerItemID, err := g.api.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpIngest, err)
	}

	meta, err := g.api.GetItem(ctx, accessToken)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpIngest, err)
	}

	// re-linking an existing connection reuses its local record
	item, err := g.store.ItemByProviderItemID(ctx, providerItemID)
	if err != nil {
		if !sqlite.IsNotFound(err) {
			return nil, err
		}
		item = &domain.Item{ProviderItemID: providerItemID}
	}
	item.InstitutionName = meta.InstitutionName
	item.Status = domain.ItemStatusGood

	if err := g.store.Write(ctx, func(tx *sqlite.Tx) error {
		return tx.SaveItem(item)
	}); err != nil {
		return nil, err
	}
	if err := g.tokens.StoreToken(ctx, item.ID, accessToken); err != nil {
		return nil, err
	}

	if err := g.RefreshItem(ctx, item); err != nil {
		return item, err
	}
	return item, nil
}

// RefreshItem runs one full ingestion for a connection: accounts with
// duplicate reconciliation, liabilities, then the paginated transaction
// delta. Satisfies the orchestrator's refresher contract.
func (g *Ingestor) RefreshItem(ctx context.Context, item *domain.Item) error {
	token, err := g.tokens.TokenForItem(ctx, item.ID)
	if err != nil {
		return syncErrors.NewAuthError(syncErrors.OpIngest, err)
	}

	// webhook nudge, best effort
	remoteSynced := true
	if err := g.api.CheckForUpdates(ctx, token); err != nil {
		g.logger.Warn("provider update check failed", "item_id", item.ID, "error", err)
		remoteSynced = false
	}

	accounts, err := g.api.GetAccounts(ctx, token)
	if err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpIngest, err)
	}

	affected, err := g.reconcileAccounts(ctx, item, accounts)
	if err != nil {
		return err
	}

	g.enrichLiabilities(ctx, token, accounts)

	if err := g.ingestTransactions(ctx, token, item); err != nil {
		return err
	}

	item.LastLocalRefresh = g.now()
	if remoteSynced {
		item.LastRemoteSync = item.LastLocalRefresh
	}
	item.Status = domain.ItemStatusGood
	if err := g.store.Write(ctx, func(tx *sqlite.Tx) error {
		return tx.SaveItem(item)
	}); err != nil {
		return err
	}

	g.deferRecompute(ctx, affected)
	return nil
}

// reconcileAccounts applies the provider's account list. A duplicated
// account_id inside the response aborts the whole ingestion before
// anything is written; duplicates already in the store are repaired by
// keeping one survivor per external id.
func (g *Ingestor) reconcileAccounts(ctx context.Context, item *domain.Item, accounts []AccountData) ([]string, error) {
	seen := make(map[string]bool, len(accounts))
	var dupNames []string
	for _, a := range accounts {
		if seen[a.AccountID] {
			dupNames = append(dupNames, a.Name)
		}
		seen[a.AccountID] = true
	}
	if len(dupNames) > 0 {
		sort.Strings(dupNames)
		return nil, syncErrors.NewDuplicateAccountError(dupNames)
	}

	type plan struct {
		data     AccountData
		survivor *domain.Account
		destroy  []string
	}
	plans := make([]plan, 0, len(accounts))
	for _, a := range accounts {
		rows, err := g.store.AccountsByExternalID(ctx, a.AccountID)
		if err != nil {
			return nil, err
		}
		p := plan{data: a}
		if len(rows) > 0 {
			p.survivor = pickSurvivor(rows, item.ID)
			for _, row := range rows {
				if row.ID != p.survivor.ID {
					p.destroy = append(p.destroy, row.ID)
				}
			}
			if len(p.destroy) > 0 {
				g.logger.Warn("repairing duplicate accounts",
					"account_id", a.AccountID, "survivor", p.survivor.ID, "removed", len(p.destroy))
			}
		}
		plans = append(plans, p)
	}

	affected := make([]string, 0, len(accounts))
	err := g.store.Write(ctx, func(tx *sqlite.Tx) error {
		for _, p := range plans {
			for _, id := range p.destroy {
				if err := tx.DestroyPermanently(domain.TableAccounts, id); err != nil {
					return err
				}
			}
			acc := p.survivor
			if acc == nil {
				acc = &domain.Account{AccountID: p.data.AccountID}
			}
			acc.ItemID = item.ID
			acc.Name = p.data.Name
			acc.OfficialName = p.data.OfficialName
			acc.Mask = p.data.Mask
			acc.Type = p.data.Type
			acc.Subtype = p.data.Subtype
			acc.CurrentBalance = p.data.CurrentBalance
			acc.AvailableBalance = p.data.AvailableBalance
			if err := tx.SaveAccount(acc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		affected = append(affected, p.data.AccountID)
	}
	return affected, nil
}

// pickSurvivor chooses which duplicate row lives on: the one already
// attached to the connection being refreshed, else the most recently
// updated.
func pickSurvivor(rows []*domain.Account, itemID string) *domain.Account {
	for _, row := range rows {
		if row.ItemID == itemID {
			return row
		}
	}
	best := rows[0]
	for _, row := range rows[1:] {
		if row.UpdatedAt.After(best.UpdatedAt) {
			best = row
		}
	}
	return best
}

// enrichLiabilities attaches APR and next-payment-due to credit and
// loan accounts. Errors are logged, never failing the ingestion.
func (g *Ingestor) enrichLiabilities(ctx context.Context, token string, accounts []AccountData) {
	eligible := false
	for _, a := range accounts {
		if a.Type.HasLiabilities() {
			eligible = true
			break
		}
	}
	if !eligible {
		return
	}

	liabs, err := g.api.GetLiabilities(ctx, token)
	if err != nil {
		g.logger.Warn("liability fetch failed", "error", err)
		return
	}

	for _, liab := range liabs {
		rows, err := g.store.AccountsByExternalID(ctx, liab.AccountID)
		if err != nil || len(rows) == 0 {
			continue
		}
		acc := rows[0]
		acc.APR = liab.APR
		acc.NextPaymentDue = liab.NextPaymentDue
		if err := g.store.Write(ctx, func(tx *sqlite.Tx) error {
			return tx.SaveAccount(acc)
		}); err != nil {
			g.logger.Warn("liability save failed", "account_id", liab.AccountID, "error", err)
		}
	}
}

// ingestTransactions follows the provider's delta cursor until no more
// pages remain. Every page is applied through the same linking logic as
// manual edits, and the cursor is persisted per page so an interrupted
// run resumes where it stopped.
func (g *Ingestor) ingestTransactions(ctx context.Context, token string, item *domain.Item) error {
	for {
		page, err := g.api.GetTransactions(ctx, token, item.TransactionCursor)
		if err != nil {
			return syncErrors.NewNetworkError(syncErrors.OpIngest, err)
		}

		if err := g.applyTransactionsPage(ctx, item, page); err != nil {
			return err
		}

		if !page.HasMore {
			return nil
		}
	}
}

func (g *Ingestor) applyTransactionsPage(ctx context.Context, item *domain.Item, page *TransactionsPage) error {
	upserts := make([]*domain.Transaction, 0, len(page.Added)+len(page.Modified))
	for _, data := range append(append([]TransactionData{}, page.Added...), page.Modified...) {
		txn, err := g.store.TransactionByExternalID(ctx, data.TransactionID)
		if err != nil {
			if !sqlite.IsNotFound(err) {
				return err
			}
			txn = &domain.Transaction{TransactionID: data.TransactionID}
		}
		txn.AccountID = data.AccountID
		txn.Amount = data.Amount
		txn.Date = data.Date
		txn.Name = data.Name
		txn.MerchantName = data.MerchantName
		txn.CategoryID = data.CategoryID
		txn.DetailedCategory = data.DetailedCategory
		txn.Pending = data.Pending

		if _, err := g.linker.Relink(ctx, txn); err != nil {
			return err
		}
		upserts = append(upserts, txn)
	}

	removals := make([]*domain.Transaction, 0, len(page.Removed))
	for _, extID := range page.Removed {
		txn, err := g.store.TransactionByExternalID(ctx, extID)
		if err != nil {
			if sqlite.IsNotFound(err) {
				continue
			}
			return err
		}
		removals = append(removals, txn)
	}

	item.TransactionCursor = page.NextCursor
	return g.store.Write(ctx, func(tx *sqlite.Tx) error {
		for _, txn := range upserts {
			if err := tx.SaveTransaction(txn); err != nil {
				return err
			}
		}
		for _, txn := range removals {
			if err := tx.MarkDeleted(domain.TableTransactions, txn.ID); err != nil {
				return err
			}
		}
		return tx.SaveItem(item)
	})
}

// deferRecompute kicks the daily-balance rebuild for the touched
// accounts without blocking the ingestion path.
func (g *Ingestor) deferRecompute(ctx context.Context, accountIDs []string) {
	if g.recompute == nil || len(accountIDs) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("daily balance recompute panicked", "panic", r)
			}
		}()
		if err := g.recompute.RecomputeDailyBalances(bg, accountIDs); err != nil {
			g.logger.LogError(bg, err, "daily balance recompute failed")
		}
	}()
}
