package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/c0deZ3R0/go-ledger-sync/domain"
	syncErrors "github.com/c0deZ3R0/go-ledger-sync/errors"
	"github.com/c0deZ3R0/go-ledger-sync/protocol"
)

// PushRef pins one dirty record at the moment a push snapshot was
// taken. UpdatedAt guards MarkSynced so a record mutated again while
// the push was in flight keeps its dirty state.
type PushRef struct {
	Table     string
	ID        string
	UpdatedAt int64
	Deleted   bool
}

// PushSnapshot is the dirty set at one instant, in wire form plus the
// refs needed to clear exactly that set afterwards.
type PushSnapshot struct {
	Changes protocol.Changes
	Refs    []PushRef
}

// Empty reports whether the snapshot carries no changes.
func (s *PushSnapshot) Empty() bool {
	return len(s.Refs) == 0
}

// ChangesForPush collects every dirty record across the sync tables
// into a push snapshot. Tombstoned records contribute only their ids.
func (s *Store) ChangesForPush(ctx context.Context) (*PushSnapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	snap := &PushSnapshot{Changes: protocol.Changes{}}
	for _, table := range domain.SyncTables {
		tc := protocol.TableChanges{}
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM %s WHERE sync_status != ? ORDER BY updated_at, id`,
			metaColumns, table), string(domain.SyncStatusSynced))
		if err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		for rows.Next() {
			rm, doc, err := scanRow(rows)
			if err != nil {
				rows.Close()
				return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
			}
			ref := PushRef{Table: table, ID: rm.id, UpdatedAt: rm.updatedAt}
			switch domain.SyncStatus(rm.syncStatus) {
			case domain.SyncStatusCreated:
				rec, err := rawFromRow(rm, doc)
				if err != nil {
					rows.Close()
					return nil, err
				}
				tc.Created = append(tc.Created, rec)
			case domain.SyncStatusUpdated:
				rec, err := rawFromRow(rm, doc)
				if err != nil {
					rows.Close()
					return nil, err
				}
				tc.Updated = append(tc.Updated, rec)
			case domain.SyncStatusDeleted:
				ref.Deleted = true
				tc.Deleted = append(tc.Deleted, rm.id)
			}
			snap.Refs = append(snap.Refs, ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		if !tc.Empty() {
			snap.Changes[table] = tc
		}
	}
	return snap, nil
}

// MarkSynced clears the dirty state of exactly the records in the
// snapshot. Records updated after the snapshot was taken are left
// dirty for the next push; acknowledged deletions are destroyed.
func (s *Store) MarkSynced(ctx context.Context, snap *PushSnapshot) error {
	return s.Write(ctx, func(tx *Tx) error {
		for _, ref := range snap.Refs {
			if ref.Deleted {
				_, err := tx.tx.Exec(fmt.Sprintf(
					`DELETE FROM %s WHERE id = ? AND sync_status = ? AND updated_at <= ?`,
					ref.Table), ref.ID, string(domain.SyncStatusDeleted), ref.UpdatedAt)
				if err != nil {
					return syncErrors.NewStorageError(syncErrors.OpStore, err)
				}
				continue
			}
			_, err := tx.tx.Exec(fmt.Sprintf(
				`UPDATE %s SET sync_status = ? WHERE id = ? AND updated_at <= ? AND sync_status != ?`,
				ref.Table), string(domain.SyncStatusSynced), ref.ID, ref.UpdatedAt,
				string(domain.SyncStatusDeleted))
			if err != nil {
				return syncErrors.NewStorageError(syncErrors.OpStore, err)
			}
		}
		return nil
	})
}

// ApplyRemoteChanges merges a pull payload into the store inside one
// write transaction. Remote state wins except where a locally dirty
// record carries a strictly newer updated_at; those keep their local
// state and stay queued for push. Returns how many records were kept
// local that way.
func (s *Store) ApplyRemoteChanges(ctx context.Context, changes protocol.Changes) (int, error) {
	conflictsKept := 0
	err := s.Write(ctx, func(tx *Tx) error {
		for _, table := range domain.SyncTables {
			tc, ok := changes[table]
			if !ok || tc.Empty() {
				continue
			}
			for _, rec := range append(append([]protocol.RawRecord{}, tc.Created...), tc.Updated...) {
				kept, err := tx.applyRemoteRecord(table, rec)
				if err != nil {
					return err
				}
				if kept {
					conflictsKept++
				}
			}
			for _, id := range tc.Deleted {
				if _, err := tx.tx.Exec(fmt.Sprintf(
					`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
					return syncErrors.NewStorageError(syncErrors.OpApply, err)
				}
			}
			tx.touch(table)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return conflictsKept, nil
}

// applyRemoteRecord merges one pulled record. Returns true when the
// local record won the merge and was kept.
func (t *Tx) applyRemoteRecord(table string, rec protocol.RawRecord) (bool, error) {
	id := rec.ID()
	if id == "" {
		return false, syncErrors.NewValidationError(syncErrors.OpApply,
			fmt.Errorf("pulled %s record without id", table))
	}
	remoteUpdated := rec.UpdatedAt()

	var localUpdated int64
	var localStatus string
	err := t.tx.QueryRow(fmt.Sprintf(
		`SELECT updated_at, sync_status FROM %s WHERE id = ?`, table), id,
	).Scan(&localUpdated, &localStatus)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, syncErrors.NewStorageError(syncErrors.OpApply, err)
	}

	if exists && localStatus != string(domain.SyncStatusSynced) && localUpdated > remoteUpdated {
		return true, nil
	}

	doc, err := docFromRaw(rec)
	if err != nil {
		return false, err
	}
	createdAt := remoteUpdated
	if c, ok := rec["created_at"]; ok {
		switch v := c.(type) {
		case float64:
			createdAt = int64(v)
		case int64:
			createdAt = v
		}
	}

	_, err = t.tx.Exec(fmt.Sprintf(
		`INSERT INTO %s (id, created_at, updated_at, sync_status, deleted_at, doc)
		 VALUES (?, ?, ?, ?, NULL, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at = excluded.updated_at,
		   sync_status = excluded.sync_status,
		   deleted_at = NULL,
		   doc = excluded.doc`, table),
		id, createdAt, remoteUpdated, string(domain.SyncStatusSynced), string(doc))
	if err != nil {
		return false, syncErrors.NewStorageError(syncErrors.OpApply, err)
	}
	return false, nil
}
