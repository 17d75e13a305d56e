package fulltext

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/IMQS/log"
	"github.com/pierrec/xxHash/xxHash32"
)

const defaultKeyColumn = "id"

// PreloadFunc eager-loads related data onto search results. It is selected by name through Options.Include.
type PreloadFunc func(ctx context.Context, q DBTX, records []*Record) error

// LocalityFunc turns the 'origin' and 'within' search options into an extra condition.
// The index never interprets those two values itself.
type LocalityFunc func(origin, within interface{}) (*Condition, error)

// IndexedTypeConfig is supplied once, when a type is registered
type IndexedTypeConfig struct {
	Fields []string // Attributes that are joined together to produce the tokens. Order matters.

	Table     string   // Table holding the entities. Needed for joining search results, and for ReindexAll.
	KeyColumn string   // Primary key column of Table. Defaults to "id".
	Columns   []string // Columns loaded into Record.Attrs. Defaults to KeyColumn + Fields.

	BuildIndexString TokenBuilder // Overrides the default BuildIndexString
	Preload          map[string]PreloadFunc
	Locality         LocalityFunc
}

// ParseFields accepts the field list in the shapes that arrive from configuration files:
// a list of names, or a single name. Anything else is logged and treated as an empty list.
func ParseFields(v interface{}, logger *log.Logger) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	case []string:
		return append([]string{}, t...)
	case []interface{}:
		fields := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				logger.Warnf("Invalid indexed field list %v. Expected a field name or a list of field names", v)
				return []string{}
			}
			fields = append(fields, s)
		}
		return fields
	}
	logger.Warnf("Invalid indexed field list %v (%T). Expected a field name or a list of field names", v, v)
	return []string{}
}

// IndexedType is a registered entity type
type IndexedType struct {
	Name      string
	Fields    []string
	Table     string
	KeyColumn string
	Columns   []string

	build    TokenBuilder
	preload  map[string]PreloadFunc
	locality LocalityFunc
	binder   *Binder
}

func newIndexedType(name string, cfg IndexedTypeConfig) *IndexedType {
	t := &IndexedType{
		Name:      name,
		Fields:    append([]string{}, cfg.Fields...),
		Table:     cfg.Table,
		KeyColumn: cfg.KeyColumn,
		build:     cfg.BuildIndexString,
		preload:   cfg.Preload,
		locality:  cfg.Locality,
	}
	if t.KeyColumn == "" {
		t.KeyColumn = defaultKeyColumn
	}
	if t.build == nil {
		t.build = BuildIndexString
	}
	columns := cfg.Columns
	if len(columns) == 0 {
		columns = t.Fields
	}
	// The key column always comes first, and every column is loaded only once
	seen := map[string]bool{t.KeyColumn: true}
	t.Columns = []string{t.KeyColumn}
	for _, c := range columns {
		if !seen[c] {
			seen[c] = true
			t.Columns = append(t.Columns, c)
		}
	}
	return t
}

// IndexString returns the tokens that will be stored for 'e'
func (t *IndexedType) IndexString(e Indexable) string {
	return t.build(e, t.Fields)
}

// Signature changes whenever the configuration that shapes the stored tokens changes.
// It is stored after a full reindex, so that we can detect types whose index is stale.
func (t *IndexedType) Signature() string {
	blob := t.Table + "\x00" + t.KeyColumn + "\x00" + strings.Join(t.Fields, "\x00")
	return fmt.Sprintf("%08x", xxHash32.Checksum([]byte(blob), 1))
}

// Search is Binder.Search, bound to this type, and to the binder that handed out the type
func (t *IndexedType) Search(ctx context.Context, raw string, opts Options, transform bool) ([]*Record, error) {
	return t.binder.searcher.FindAllMatching(ctx, t, raw, opts, transform)
}

// Read every row of the type's table
func (t *IndexedType) loadAll(ctx context.Context, index *Index) ([]*Record, error) {
	if t.Table == "" {
		return nil, fmt.Errorf("%w: %v", ErrNoEntityTable, t.Name)
	}
	d := index.Dialect()
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = d.QuoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %v FROM %v", strings.Join(cols, ", "), d.QuoteIdent(t.Table))
	rows, err := index.Queryer().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Load %v: %w", t.Table, err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		values := newScanTargets(len(t.Columns))
		if err := rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("Load %v: %w", t.Table, err)
		}
		id, err := asInt64(scanValue(values[0]))
		if err != nil {
			return nil, fmt.Errorf("Load %v: key column %v: %w", t.Table, t.KeyColumn, err)
		}
		rec := NewRecord(t.Name, id)
		for i, c := range t.Columns {
			rec.Attrs[c] = scanValue(values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func newScanTargets(n int) []interface{} {
	values := make([]interface{}, n)
	for i := range values {
		values[i] = new(interface{})
	}
	return values
}

// Dereference a scan target, turning driver-owned byte slices into strings
func scanValue(target interface{}) interface{} {
	v := *(target.(*interface{}))
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func asInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	}
	return 0, fmt.Errorf("Cannot use %v (%T) as an entity id", v, v)
}
