package fulltext

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/BurntSushi/migration"
	"github.com/lib/pq"
)

const indexTable = "fulltext_indices"

// Dialect hides the differences between the storage engines that can host the index.
// Every engine must offer a boolean full-text predicate that supports required terms and prefix wildcards.
type Dialect interface {
	Name() string
	QuoteIdent(ident string) string
	Placeholder(n int) string
	// Rebind rewrites '?' placeholders, numbering them from 'next'. Returns the rewritten query,
	// and the number that the following placeholder must receive.
	Rebind(query string, next int) (string, int)
	// Column that holds the surrogate key of fulltext_indices
	IDColumn() string
	// SQL predicate that matches fulltext_indices.tokens against the query bound at 'placeholder'
	MatchPredicate(placeholder string) string
	// The value to bind for MatchPredicate
	MatchArgument(q Query) string
	LimitOffset(limit, offset int) string
	Migrations() []migration.Migrator
	OptimizeStatement() string
}

// DialectFor returns the dialect for a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("Unsupported index database driver '%v'. Valid drivers are postgres, mysql, sqlite", driver)
}

func execAll(statements ...string) migration.Migrator {
	return func(tx migration.LimitedTx) error {
		for _, s := range statements {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	}
}

// Rewrite every '?' that is not inside a quoted string or identifier
func rebindWith(query string, next int, placeholder func(int) string) (string, int) {
	var b strings.Builder
	var quote rune
	for _, c := range query {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteRune(c)
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteRune(c)
		case c == '?':
			b.WriteString(placeholder(next))
			next++
		default:
			b.WriteRune(c)
		}
	}
	return b.String(), next
}

func countPlaceholders(query string, next int) (string, int) {
	return rebindWith(query, next, func(int) string { return "?" })
}

func questionMark(int) string {
	return "?"
}

// The Postgres and FTS5 tokenizers discard terms without a single letter or digit,
// and such a term then matches no row at all.
func searchableTerms(terms []string) []string {
	kept := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.IndexFunc(t, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }) >= 0 {
			kept = append(kept, t)
		}
	}
	return kept
}

// Postgres uses the 'simple' text search configuration, which neither stems nor drops stop words
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) QuoteIdent(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func (Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (p Postgres) Rebind(query string, next int) (string, int) {
	return rebindWith(query, next, p.Placeholder)
}

func (Postgres) IDColumn() string { return "id" }

func (Postgres) MatchPredicate(placeholder string) string {
	return fmt.Sprintf("to_tsvector('simple', %v.tokens) @@ to_tsquery('simple', %v)", indexTable, placeholder)
}

// Render "+a* +b*" as "'a':* & 'b':*"
func (Postgres) MatchArgument(q Query) string {
	if !q.Transformed {
		return q.Raw
	}
	terms := searchableTerms(q.Terms)
	parts := make([]string, len(terms))
	for i, t := range terms {
		t = strings.ReplaceAll(t, `\`, `\\`)
		parts[i] = "'" + strings.ReplaceAll(t, "'", "''") + "':*"
	}
	return strings.Join(parts, " & ")
}

func (Postgres) LimitOffset(limit, offset int) string {
	s := ""
	if limit > 0 {
		s += fmt.Sprintf(" LIMIT %v", limit)
	}
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %v", offset)
	}
	return s
}

func (Postgres) Migrations() []migration.Migrator {
	return []migration.Migrator{
		execAll(
			`CREATE TABLE IF NOT EXISTS fulltext_indices (
				id BIGSERIAL PRIMARY KEY,
				entity_type VARCHAR NOT NULL,
				entity_id BIGINT NOT NULL,
				tokens TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_fulltext_indices_entity ON fulltext_indices (entity_type, entity_id)`,
			`CREATE INDEX IF NOT EXISTS idx_fulltext_indices_tokens ON fulltext_indices USING GIN (to_tsvector('simple', tokens))`,
		),
		execAll(
			`CREATE TABLE IF NOT EXISTS fulltext_index_types (
				entity_type VARCHAR PRIMARY KEY,
				signature VARCHAR NOT NULL
			)`,
		),
	}
}

func (Postgres) OptimizeStatement() string {
	return "VACUUM ANALYZE fulltext_indices"
}

// MySQL consumes the compiled boolean-mode expression verbatim.
// Note that InnoDB ignores words shorter than innodb_ft_min_token_size (3 by default).
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) QuoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (MySQL) Placeholder(n int) string { return questionMark(n) }

func (MySQL) Rebind(query string, next int) (string, int) {
	return countPlaceholders(query, next)
}

func (MySQL) IDColumn() string { return "id" }

func (MySQL) MatchPredicate(placeholder string) string {
	return fmt.Sprintf("MATCH(%v.tokens) AGAINST (%v IN BOOLEAN MODE)", indexTable, placeholder)
}

func (MySQL) MatchArgument(q Query) string {
	return q.Expr
}

func (MySQL) LimitOffset(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		// MySQL has no OFFSET without LIMIT. This is the documented idiom for "all remaining rows".
		return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %v", offset)
	}
	if offset <= 0 {
		return fmt.Sprintf(" LIMIT %v", limit)
	}
	return fmt.Sprintf(" LIMIT %v OFFSET %v", limit, offset)
}

func (MySQL) Migrations() []migration.Migrator {
	return []migration.Migrator{
		execAll(
			"CREATE TABLE IF NOT EXISTS fulltext_indices (" +
				"id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
				"entity_type VARCHAR(255) NOT NULL, " +
				"entity_id BIGINT NOT NULL, " +
				"tokens LONGTEXT NOT NULL, " +
				"UNIQUE KEY idx_fulltext_indices_entity (entity_type, entity_id), " +
				"FULLTEXT KEY idx_fulltext_indices_tokens (tokens)" +
				") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		),
		execAll(
			"CREATE TABLE IF NOT EXISTS fulltext_index_types (" +
				"entity_type VARCHAR(255) NOT NULL PRIMARY KEY, " +
				"signature VARCHAR(64) NOT NULL" +
				") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		),
	}
}

func (MySQL) OptimizeStatement() string {
	return "OPTIMIZE TABLE fulltext_indices"
}

// SQLite stores the index in an FTS5 virtual table. The surrogate key is the FTS5 rowid,
// and entity_type/entity_id are stored but not tokenized.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) Placeholder(n int) string { return questionMark(n) }

func (SQLite) Rebind(query string, next int) (string, int) {
	return countPlaceholders(query, next)
}

func (SQLite) IDColumn() string { return "rowid" }

// FTS5 only accepts MATCH against its own table, so we go through a sub-select on rowid
func (SQLite) MatchPredicate(placeholder string) string {
	return fmt.Sprintf("%v.rowid IN (SELECT rowid FROM %v WHERE tokens MATCH %v)", indexTable, indexTable, placeholder)
}

// Render "+a* +b*" as `"a"* AND "b"*`
func (SQLite) MatchArgument(q Query) string {
	if !q.Transformed {
		return q.Raw
	}
	terms := searchableTerms(q.Terms)
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	return strings.Join(parts, " AND ")
}

func (SQLite) LimitOffset(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		limit = -1
	}
	s := fmt.Sprintf(" LIMIT %v", limit)
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %v", offset)
	}
	return s
}

func (SQLite) Migrations() []migration.Migrator {
	return []migration.Migrator{
		execAll(
			`CREATE VIRTUAL TABLE IF NOT EXISTS fulltext_indices USING fts5(
				entity_type UNINDEXED,
				entity_id UNINDEXED,
				tokens,
				tokenize='unicode61'
			)`,
		),
		execAll(
			`CREATE TABLE IF NOT EXISTS fulltext_index_types (
				entity_type TEXT PRIMARY KEY,
				signature TEXT NOT NULL
			)`,
		),
	}
}

func (SQLite) OptimizeStatement() string {
	return "INSERT INTO fulltext_indices(fulltext_indices) VALUES('optimize')"
}
