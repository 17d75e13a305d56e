package fulltext

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IMQS/log"
)

// Searcher turns a raw query into SQL against the index, joined to the entity table
type Searcher struct {
	index    *Index
	compiler *Compiler
	log      *log.Logger
}

func NewSearcher(index *Index, compiler *Compiler, logger *log.Logger) *Searcher {
	if compiler == nil {
		compiler = NewCompiler(0)
	}
	if logger == nil {
		logger = log.New(log.Stderr, true)
	}
	return &Searcher{
		index:    index,
		compiler: compiler,
		log:      logger,
	}
}

func (s *Searcher) withIndex(index *Index) *Searcher {
	cp := *s
	cp.index = index
	return &cp
}

// FindAllMatching returns the entities of type 't' whose tokens contain every term of 'raw' as a prefix.
// If transform is false, 'raw' is handed to the engine as-is.
// Results are returned in whatever order the engine produces, unless opts.Order is set.
func (s *Searcher) FindAllMatching(ctx context.Context, t *IndexedType, raw string, opts Options, transform bool) (records []*Record, err error) {
	start := time.Now()
	defer func() { s.index.metrics.observeSearch(t.Name, start, len(records), err) }()

	for _, name := range opts.Include {
		if _, ok := t.preload[name]; !ok {
			return nil, fmt.Errorf("%w '%v' for %v", ErrUnknownInclude, name, t.Name)
		}
	}

	q := s.compiler.Compile(raw, transform)
	if q.Empty() {
		// An empty query has no terms to match, and the engines disagree on what "+" means
		return []*Record{}, nil
	}

	arg := s.index.Dialect().MatchArgument(q)
	if arg == "" {
		// Every term was punctuation, which the engine cannot match
		return []*Record{}, nil
	}

	conditions := []*Condition{opts.Conditions}
	if opts.Origin != nil || opts.Within != nil {
		if t.locality != nil {
			c, err := t.locality(opts.Origin, opts.Within)
			if err != nil {
				return nil, fmt.Errorf("Locality of %v: %w", t.Name, err)
			}
			conditions = append(conditions, c)
		} else {
			s.log.Debugf("Ignoring origin/within for %v, because it has no locality function", t.Name)
		}
	}

	query, args := s.buildQuery(t, arg, opts, conditions)
	s.log.Debugf("Search %v: %v %v", t.Name, query, args)

	records, err = s.scan(ctx, t, query, args)
	if err != nil {
		return nil, fmt.Errorf("Search %v for '%v': %w", t.Name, raw, err)
	}

	// Preloads run after the result rows are closed, so they are free to issue their own queries
	for _, name := range opts.Include {
		if err = t.preload[name](ctx, s.index.Queryer(), records); err != nil {
			return nil, fmt.Errorf("Include '%v' for %v: %w", name, t.Name, err)
		}
	}
	return records, nil
}

func (s *Searcher) buildQuery(t *IndexedType, matchArg string, opts Options, conditions []*Condition) (string, []interface{}) {
	d := s.index.Dialect()

	cols := []string{
		indexTable + "." + d.IDColumn(),
		indexTable + ".entity_type",
		indexTable + ".entity_id",
		indexTable + ".tokens",
	}
	from := indexTable
	if t.Table != "" {
		table := d.QuoteIdent(t.Table)
		for _, c := range t.Columns {
			cols = append(cols, table+"."+d.QuoteIdent(c))
		}
		from += fmt.Sprintf(" INNER JOIN %v ON %v.%v = %v.entity_id", table, table, d.QuoteIdent(t.KeyColumn), indexTable)
	}

	where := []string{indexTable + ".entity_type = ?", d.MatchPredicate("?")}
	args := []interface{}{t.Name, matchArg}
	for _, c := range conditions {
		if c == nil || strings.TrimSpace(c.SQL) == "" {
			continue
		}
		where = append(where, "("+c.SQL+")")
		args = append(args, c.Args...)
	}

	query := fmt.Sprintf("SELECT %v FROM %v WHERE %v", strings.Join(cols, ", "), from, strings.Join(where, " AND "))
	if opts.Order != "" {
		query += " ORDER BY " + opts.Order
	}
	query += d.LimitOffset(opts.Limit, opts.Offset)
	query, _ = d.Rebind(query, 1)
	return query, args
}

func (s *Searcher) scan(ctx context.Context, t *IndexedType, query string, args []interface{}) ([]*Record, error) {
	rows, err := s.index.Queryer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ncol := 0
	if t.Table != "" {
		ncol = len(t.Columns)
	}
	records := []*Record{}
	for rows.Next() {
		e := &IndexEntry{}
		values := newScanTargets(ncol)
		dest := append([]interface{}{&e.ID, &e.EntityType, &e.EntityID, &e.Tokens}, values...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := NewRecord(t.Name, e.EntityID)
		rec.Index = e
		for i := 0; i < ncol; i++ {
			rec.Attrs[t.Columns[i]] = scanValue(values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
