package fulltext

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/IMQS/log"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Index is the store for fulltext_indices. It holds at most one row per (entity_type, entity_id).
//
// Upsert is a find-then-write. Two concurrent saves of the same entity may interleave between
// the find and the write, in which case the last write wins. On engines with a unique key over
// (entity_type, entity_id), a racing double insert fails instead of producing a duplicate row.
type Index struct {
	db      *sql.DB
	tx      *sql.Tx
	q       DBTX
	dialect Dialect
	log     *log.Logger
	metrics *Metrics
}

func NewIndex(db *sql.DB, dialect Dialect, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.New(log.Stderr, true)
	}
	return &Index{
		db:      db,
		q:       db,
		dialect: dialect,
		log:     logger,
	}
}

func (x *Index) SetMetrics(m *Metrics) {
	x.metrics = m
}

func (x *Index) Dialect() Dialect {
	return x.dialect
}

// Queryer returns the handle that statements are currently issued on (the DB, or the bound transaction)
func (x *Index) Queryer() DBTX {
	return x.q
}

// WithTx returns a copy of the index whose statements run inside 'tx'.
// Use this to make the index write part of the same transaction as the entity save.
func (x *Index) WithTx(tx *sql.Tx) *Index {
	cp := *x
	cp.tx = tx
	cp.q = tx
	return &cp
}

// Transaction runs fn inside a transaction, committing if fn returns nil, and rolling back otherwise.
// If the index is already bound to a transaction, fn joins that transaction, and the owner of
// the transaction decides whether to commit.
func (x *Index) Transaction(ctx context.Context, fn func(tx *Index) error) error {
	if x.tx != nil {
		return fn(x)
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Begin transaction: %w", err)
	}
	if err := fn(x.WithTx(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit transaction: %w", err)
	}
	return nil
}

// Migrate creates the index tables if they do not exist. The migrations are idempotent, so this is safe
// to run on every startup. Deployments that open the database through migration.Open don't need it.
func (x *Index) Migrate(ctx context.Context) error {
	for i, m := range x.dialect.Migrations() {
		tx, err := x.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := m(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("Index migration %v failed: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) bind(query string) string {
	q, _ := x.dialect.Rebind(query, 1)
	return q
}

func (x *Index) find(ctx context.Context, entityType string, entityID int64) (int64, bool, error) {
	var id int64
	query := x.bind(fmt.Sprintf("SELECT %v FROM fulltext_indices WHERE entity_type = ? AND entity_id = ?", x.dialect.IDColumn()))
	err := x.q.QueryRowContext(ctx, query, entityType, entityID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Get returns the index entry of an entity, or nil if the entity has no entry
func (x *Index) Get(ctx context.Context, entityType string, entityID int64) (*IndexEntry, error) {
	e := &IndexEntry{}
	query := x.bind(fmt.Sprintf("SELECT %v, entity_type, entity_id, tokens FROM fulltext_indices WHERE entity_type = ? AND entity_id = ?", x.dialect.IDColumn()))
	err := x.q.QueryRowContext(ctx, query, entityType, entityID).Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Tokens)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("Get index of %v(%v): %w", entityType, entityID, err)
	}
	return e, nil
}

// Upsert replaces the tokens of the entity's index entry, creating the entry if it doesn't exist
func (x *Index) Upsert(ctx context.Context, entityType string, entityID int64, tokens string) (err error) {
	defer func() { x.metrics.observeOp("upsert", err) }()

	id, found, err := x.find(ctx, entityType, entityID)
	if err != nil {
		return fmt.Errorf("Find index of %v(%v): %w", entityType, entityID, err)
	}
	if found {
		query := x.bind(fmt.Sprintf("UPDATE fulltext_indices SET tokens = ? WHERE %v = ?", x.dialect.IDColumn()))
		if _, err = x.q.ExecContext(ctx, query, tokens, id); err != nil {
			return fmt.Errorf("Update index of %v(%v): %w", entityType, entityID, err)
		}
		return nil
	}
	query := x.bind("INSERT INTO fulltext_indices (entity_type, entity_id, tokens) VALUES (?, ?, ?)")
	if _, err = x.q.ExecContext(ctx, query, entityType, entityID, tokens); err != nil {
		return fmt.Errorf("Insert index of %v(%v): %w", entityType, entityID, err)
	}
	return nil
}

// Remove deletes the entity's index entry. Removing an entry that does not exist is not an error.
func (x *Index) Remove(ctx context.Context, entityType string, entityID int64) (err error) {
	defer func() { x.metrics.observeOp("remove", err) }()

	query := x.bind("DELETE FROM fulltext_indices WHERE entity_type = ? AND entity_id = ?")
	if _, err = x.q.ExecContext(ctx, query, entityType, entityID); err != nil {
		return fmt.Errorf("Remove index of %v(%v): %w", entityType, entityID, err)
	}
	return nil
}

// ReindexAll upserts the tokens of every entity, one after the other, inside a single transaction.
// If any upsert fails, none of them are kept.
func (x *Index) ReindexAll(ctx context.Context, entityType string, entities []Indexable, build func(Indexable) string) error {
	err := x.Transaction(ctx, func(tx *Index) error {
		for _, e := range entities {
			if err := tx.Upsert(ctx, entityType, e.IndexID(), build(e)); err != nil {
				return err
			}
		}
		return nil
	})
	x.metrics.observeOp("reindex", err)
	if err != nil {
		return fmt.Errorf("Reindex of %v rolled back: %w", entityType, err)
	}
	x.log.Infof("Reindexed %v entities of %v", len(entities), entityType)
	return nil
}

// Count returns the number of index entries for a type
func (x *Index) Count(ctx context.Context, entityType string) (int64, error) {
	var n int64
	err := x.q.QueryRowContext(ctx, x.bind("SELECT COUNT(*) FROM fulltext_indices WHERE entity_type = ?"), entityType).Scan(&n)
	return n, err
}

// IndexedTypes returns every entity type that has at least one index entry
func (x *Index) IndexedTypes(ctx context.Context) ([]string, error) {
	rows, err := x.q.QueryContext(ctx, "SELECT DISTINCT entity_type FROM fulltext_indices")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	types := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// RemoveType erases every trace of a type from the index
func (x *Index) RemoveType(ctx context.Context, entityType string) error {
	return x.Transaction(ctx, func(tx *Index) error {
		if _, err := tx.q.ExecContext(ctx, tx.bind("DELETE FROM fulltext_indices WHERE entity_type = ?"), entityType); err != nil {
			return fmt.Errorf("Remove index of type %v: %w", entityType, err)
		}
		if _, err := tx.q.ExecContext(ctx, tx.bind("DELETE FROM fulltext_index_types WHERE entity_type = ?"), entityType); err != nil {
			return fmt.Errorf("Remove signature of type %v: %w", entityType, err)
		}
		return nil
	})
}

// PurgeOrphans deletes index entries whose owning row no longer exists in 'table'.
// Orphans appear when entities are deleted without going through OnDestroying.
func (x *Index) PurgeOrphans(ctx context.Context, entityType, table, keyColumn string) (int64, error) {
	query := x.bind(fmt.Sprintf("DELETE FROM fulltext_indices WHERE entity_type = ? AND entity_id NOT IN (SELECT %v FROM %v)",
		x.dialect.QuoteIdent(keyColumn), x.dialect.QuoteIdent(table)))
	res, err := x.q.ExecContext(ctx, query, entityType)
	x.metrics.observeOp("purge", err)
	if err != nil {
		return 0, fmt.Errorf("Purge orphans of %v: %w", entityType, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Signature returns the field signature that the type was last fully indexed with
func (x *Index) Signature(ctx context.Context, entityType string) (string, bool, error) {
	var sig string
	err := x.q.QueryRowContext(ctx, x.bind("SELECT signature FROM fulltext_index_types WHERE entity_type = ?"), entityType).Scan(&sig)
	if err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return sig, true, nil
}

func (x *Index) SetSignature(ctx context.Context, entityType, signature string) error {
	return x.Transaction(ctx, func(tx *Index) error {
		if _, err := tx.q.ExecContext(ctx, tx.bind("DELETE FROM fulltext_index_types WHERE entity_type = ?"), entityType); err != nil {
			return err
		}
		_, err := tx.q.ExecContext(ctx, tx.bind("INSERT INTO fulltext_index_types (entity_type, signature) VALUES (?, ?)"), entityType, signature)
		return err
	})
}

// Optimize runs the engine's maintenance statement on the index table
func (x *Index) Optimize(ctx context.Context) error {
	_, err := x.q.ExecContext(ctx, x.dialect.OptimizeStatement())
	return err
}
