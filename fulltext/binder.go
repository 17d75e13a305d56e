package fulltext

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/IMQS/log"
)

type registry struct {
	lock  sync.RWMutex
	types map[string]*IndexedType
}

// Binder attaches entity types to the index. The host application calls OnSaved after an entity
// is persisted, and OnDestroying before it is deleted, so that the index never drifts from the entities.
type Binder struct {
	index    *Index
	searcher *Searcher
	registry *registry
	log      *log.Logger
}

func NewBinder(index *Index, logger *log.Logger) *Binder {
	if logger == nil {
		logger = index.log
	}
	return &Binder{
		index:    index,
		searcher: NewSearcher(index, NewCompiler(0), logger),
		registry: &registry{types: map[string]*IndexedType{}},
		log:      logger,
	}
}

func (b *Binder) Index() *Index {
	return b.index
}

// SetCompiler replaces the compiled query cache. Call it before the binder is shared.
func (b *Binder) SetCompiler(c *Compiler) {
	b.searcher.compiler = c
}

// InTx returns a binder that shares this binder's registered types, but runs every index
// statement inside 'tx'. Use it so that an entity save and its index write commit or fail together.
func (b *Binder) InTx(tx *sql.Tx) *Binder {
	cp := *b
	cp.index = b.index.WithTx(tx)
	cp.searcher = b.searcher.withIndex(cp.index)
	return &cp
}

// Register makes an entity type searchable
func (b *Binder) Register(entityType string, cfg IndexedTypeConfig) (*IndexedType, error) {
	if entityType == "" {
		return nil, ErrEmptyTypeName
	}
	t := newIndexedType(entityType, cfg)
	t.binder = b

	b.registry.lock.Lock()
	defer b.registry.lock.Unlock()
	if _, exists := b.registry.types[entityType]; exists {
		return nil, fmt.Errorf("%w: %v", ErrTypeAlreadyRegistered, entityType)
	}
	b.registry.types[entityType] = t
	b.log.Debugf("Registered %v for full-text indexing on [%v]", entityType, t.Fields)
	return t, nil
}

// Type returns a registered type. The returned type searches through this binder,
// so a type obtained from InTx searches inside that transaction.
func (b *Binder) Type(entityType string) (*IndexedType, bool) {
	b.registry.lock.RLock()
	t, ok := b.registry.types[entityType]
	b.registry.lock.RUnlock()
	if !ok {
		return nil, false
	}
	cp := *t
	cp.binder = b
	return &cp, true
}

// Types returns the names of all registered types, sorted
func (b *Binder) Types() []string {
	b.registry.lock.RLock()
	defer b.registry.lock.RUnlock()
	names := make([]string, 0, len(b.registry.types))
	for name := range b.registry.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Binder) lookup(entityType string) (*IndexedType, error) {
	t, ok := b.Type(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTypeNotRegistered, entityType)
	}
	return t, nil
}

// OnSaved rebuilds the index entry of 'e'. Call it after every create or update of the entity.
func (b *Binder) OnSaved(ctx context.Context, e Indexable) error {
	t, err := b.lookup(e.IndexType())
	if err != nil {
		return err
	}
	return b.index.Upsert(ctx, t.Name, e.IndexID(), t.IndexString(e))
}

// OnDestroying removes the index entry of 'e'. Call it before the entity is deleted.
func (b *Binder) OnDestroying(ctx context.Context, e Indexable) error {
	t, err := b.lookup(e.IndexType())
	if err != nil {
		return err
	}
	return b.index.Remove(ctx, t.Name, e.IndexID())
}

// ReindexEntities rebuilds the index entries of the given entities in one transaction
func (b *Binder) ReindexEntities(ctx context.Context, entityType string, entities []Indexable) error {
	t, err := b.lookup(entityType)
	if err != nil {
		return err
	}
	return b.index.ReindexAll(ctx, t.Name, entities, t.IndexString)
}

// ReindexAll reads every entity of the type from its table, and rebuilds all of their index entries
// in one transaction. On success the type's field signature is recorded, so that it is no longer stale.
func (b *Binder) ReindexAll(ctx context.Context, entityType string) (int, error) {
	t, err := b.lookup(entityType)
	if err != nil {
		return 0, err
	}
	if t.Table == "" {
		return 0, fmt.Errorf("%w: %v", ErrNoEntityTable, t.Name)
	}
	n := 0
	err = b.index.Transaction(ctx, func(tx *Index) error {
		records, err := t.loadAll(ctx, tx)
		if err != nil {
			return err
		}
		entities := make([]Indexable, len(records))
		for i, r := range records {
			entities[i] = r
		}
		if err := tx.ReindexAll(ctx, t.Name, entities, t.IndexString); err != nil {
			return err
		}
		n = len(entities)
		return tx.SetSignature(ctx, t.Name, t.Signature())
	})
	return n, err
}

// Search finds entities of a registered type. See Searcher.FindAllMatching.
func (b *Binder) Search(ctx context.Context, entityType, raw string, opts Options, transform bool) ([]*Record, error) {
	t, err := b.lookup(entityType)
	if err != nil {
		return nil, err
	}
	return b.searcher.FindAllMatching(ctx, t, raw, opts, transform)
}

// StaleTypes returns the registered types whose fields have changed since their last full reindex,
// or which have never been fully reindexed. Types without a table cannot be reindexed, so they are never stale.
func (b *Binder) StaleTypes(ctx context.Context) ([]string, error) {
	stale := []string{}
	for _, name := range b.Types() {
		t, _ := b.Type(name)
		if t.Table == "" {
			continue
		}
		sig, found, err := b.index.Signature(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("Signature of %v: %w", name, err)
		}
		if !found || sig != t.Signature() {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// ErasedTypes returns the types that have index entries, but are no longer registered
func (b *Binder) ErasedTypes(ctx context.Context) ([]string, error) {
	indexed, err := b.index.IndexedTypes(ctx)
	if err != nil {
		return nil, err
	}
	erased := []string{}
	for _, name := range indexed {
		if _, ok := b.Type(name); !ok {
			erased = append(erased, name)
		}
	}
	sort.Strings(erased)
	return erased, nil
}

// PurgeOrphans deletes the index entries of a type whose entities no longer exist
func (b *Binder) PurgeOrphans(ctx context.Context, entityType string) (int64, error) {
	t, err := b.lookup(entityType)
	if err != nil {
		return 0, err
	}
	if t.Table == "" {
		return 0, fmt.Errorf("%w: %v", ErrNoEntityTable, t.Name)
	}
	n, err := b.index.PurgeOrphans(ctx, t.Name, t.Table, t.KeyColumn)
	if err == nil && n != 0 {
		b.log.Infof("Purged %v orphaned index entries of %v", n, t.Name)
	}
	return n, err
}
