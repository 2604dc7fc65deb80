package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	syncErrors "github.com/c0deZ3R0/go-ledger-sync/errors"
	"github.com/c0deZ3R0/go-ledger-sync/protocol"
)

var syncTableSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(domain.SyncTables))
	for _, t := range domain.SyncTables {
		m[t] = struct{}{}
	}
	return m
}()

func checkSyncTable(table string) error {
	if _, ok := syncTableSet[table]; !ok {
		return syncErrors.NewValidationError(syncErrors.OpStore,
			fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	return nil
}

// rowMeta mirrors the bookkeeping columns shared by all sync tables.
type rowMeta struct {
	id         string
	createdAt  int64
	updatedAt  int64
	syncStatus string
	deletedAt  sql.NullInt64
}

func (r rowMeta) toMeta() domain.Meta {
	m := domain.Meta{
		ID:         r.id,
		CreatedAt:  time.UnixMilli(r.createdAt).UTC(),
		UpdatedAt:  time.UnixMilli(r.updatedAt).UTC(),
		SyncStatus: domain.SyncStatus(r.syncStatus),
	}
	if r.deletedAt.Valid {
		t := time.UnixMilli(r.deletedAt.Int64).UTC()
		m.DeletedAt = &t
	}
	return m
}

// saveDoc is the shared local-edit write path: assigns ids and
// timestamps, advances the dirty marker, and upserts the document.
func (t *Tx) saveDoc(table string, m *domain.Meta, doc interface{}) error {
	if err := checkSyncTable(table); err != nil {
		return err
	}

	now := t.store.now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.DeletedAt = nil

	var current string
	err := t.tx.QueryRow(
		fmt.Sprintf(`SELECT sync_status FROM %s WHERE id = ?`, table), m.ID,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		m.SyncStatus = domain.SyncStatusCreated
	case err != nil:
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	case current == string(domain.SyncStatusCreated):
		// never pushed, stays a create
		m.SyncStatus = domain.SyncStatusCreated
	default:
		m.SyncStatus = domain.SyncStatusUpdated
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpStore,
			fmt.Errorf("encode %s record: %w", table, err))
	}

	_, err = t.tx.Exec(fmt.Sprintf(
		`INSERT INTO %s (id, created_at, updated_at, sync_status, deleted_at, doc)
		 VALUES (?, ?, ?, ?, NULL, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at = excluded.updated_at,
		   sync_status = excluded.sync_status,
		   deleted_at = NULL,
		   doc = excluded.doc`, table),
		m.ID, m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli(), string(m.SyncStatus), string(raw))
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	t.touch(table)
	return nil
}

// SaveItem persists a provider connection through the local-edit path.
func (t *Tx) SaveItem(it *domain.Item) error {
	return t.saveDoc(domain.TableItems, &it.Meta, it)
}

// SaveAccount persists an account through the local-edit path. Balance
// updates from ingestion and from manual edits both land here, so
// downstream budget-balance propagation fires uniformly.
func (t *Tx) SaveAccount(a *domain.Account) error {
	return t.saveDoc(domain.TableAccounts, &a.Meta, a)
}

// SaveTransaction persists a transaction through the local-edit path.
func (t *Tx) SaveTransaction(txn *domain.Transaction) error {
	return t.saveDoc(domain.TableTransactions, &txn.Meta, txn)
}

// SaveCategory persists a category through the local-edit path.
func (t *Tx) SaveCategory(c *domain.Category) error {
	return t.saveDoc(domain.TableCategories, &c.Meta, c)
}

// SaveMerchant persists a merchant through the local-edit path.
func (t *Tx) SaveMerchant(m *domain.Merchant) error {
	return t.saveDoc(domain.TableMerchants, &m.Meta, m)
}

// SaveBudget persists a budget through the local-edit path.
func (t *Tx) SaveBudget(b *domain.Budget) error {
	return t.saveDoc(domain.TableBudgets, &b.Meta, b)
}

// SaveBudgetItem persists a budget item through the local-edit path.
func (t *Tx) SaveBudgetItem(bi *domain.BudgetItem) error {
	return t.saveDoc(domain.TableBudgetItems, &bi.Meta, bi)
}

// MarkDeleted tombstones a record. A record the server has never seen
// (sync_status = created) is destroyed outright instead, since there is
// no remote row to delete.
func (t *Tx) MarkDeleted(table, id string) error {
	if err := checkSyncTable(table); err != nil {
		return err
	}

	var current string
	err := t.tx.QueryRow(
		fmt.Sprintf(`SELECT sync_status FROM %s WHERE id = ?`, table), id,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return syncErrors.NewStorageError(syncErrors.OpStore,
			fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id))
	}
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	if current == string(domain.SyncStatusCreated) {
		return t.DestroyPermanently(table, id)
	}

	now := t.store.now().UTC().UnixMilli()
	_, err = t.tx.Exec(fmt.Sprintf(
		`UPDATE %s SET sync_status = ?, deleted_at = ?, updated_at = ? WHERE id = ?`, table),
		string(domain.SyncStatusDeleted), now, now, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	t.touch(table)
	return nil
}

// DestroyPermanently physically removes a record, bypassing the
// tombstone flow. Used for duplicate-account repair and after the
// server acknowledges a deletion.
func (t *Tx) DestroyPermanently(table, id string) error {
	if err := checkSyncTable(table); err != nil {
		return err
	}
	_, err := t.tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	t.touch(table)
	return nil
}

// SetState writes a sync-state value inside this transaction.
func (t *Tx) SetState(key, value string) error {
	_, err := t.tx.Exec(
		`INSERT INTO sync_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// rawFromRow converts a stored row into its wire representation: the
// document fields plus id/created_at/updated_at from the bookkeeping
// columns.
func rawFromRow(meta rowMeta, doc []byte) (protocol.RawRecord, error) {
	rec := protocol.RawRecord{}
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad,
			fmt.Errorf("decode stored record %s: %w", meta.id, err))
	}
	rec["id"] = meta.id
	rec["created_at"] = meta.createdAt
	rec["updated_at"] = meta.updatedAt
	return rec, nil
}

// docFromRaw strips bookkeeping keys from a wire record, leaving the
// document payload.
func docFromRaw(rec protocol.RawRecord) ([]byte, error) {
	doc := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		switch k {
		case "id", "created_at", "updated_at":
		default:
			doc[k] = v
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpApply, err)
	}
	return raw, nil
}
