package fulltext

import (
	"context"
	"database/sql"
	"testing"

	"github.com/IMQS/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const articleSchema = `
	CREATE TABLE articles (id INTEGER PRIMARY KEY, title TEXT, body TEXT, published INTEGER NOT NULL DEFAULT 0);
	CREATE TABLE comments (id INTEGER PRIMARY KEY, body TEXT);
`

func newTestBinder(t *testing.T) (*Binder, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to ":memory:" is a different database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger := log.New(log.Stdout, false)
	x := NewIndex(db, SQLite{}, logger)
	require.NoError(t, x.Migrate(context.Background()))
	_, err = db.Exec(articleSchema)
	require.NoError(t, err)

	b := NewBinder(x, logger)
	_, err = b.Register("Article", IndexedTypeConfig{
		Fields:  []string{"title", "body"},
		Table:   "articles",
		Columns: []string{"title", "body", "published"},
	})
	require.NoError(t, err)
	_, err = b.Register("Comment", IndexedTypeConfig{
		Fields: []string{"body"},
		Table:  "comments",
	})
	require.NoError(t, err)
	return b, db
}

func article(id int64, title, body string, published bool) *Record {
	r := NewRecord("Article", id)
	r.Attrs["title"] = title
	r.Attrs["body"] = body
	r.Attrs["published"] = published
	return r
}

// Persist the article, and fire the save hook, the way a host application would
func saveArticle(t *testing.T, b *Binder, db *sql.DB, a *Record) {
	t.Helper()
	pub := 0
	if a.Attrs["published"] == true {
		pub = 1
	}
	_, err := db.Exec("INSERT OR REPLACE INTO articles (id, title, body, published) VALUES (?, ?, ?, ?)", a.ID, a.Attrs["title"], a.Attrs["body"], pub)
	require.NoError(t, err)
	require.NoError(t, b.OnSaved(context.Background(), a))
}

func searchIDs(t *testing.T, b *Binder, entityType, raw string, opts Options) []int64 {
	t.Helper()
	records, err := b.Search(context.Background(), entityType, raw, opts, true)
	require.NoError(t, err)
	ids := []int64{}
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestBinderSaveAndSearch(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Hello World", "Lorem", true))

	entry, err := b.Index().Get(ctx, "Article", 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Hello World Lorem", entry.Tokens)

	records, err := b.Search(ctx, "Article", "hello", Options{}, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, "Hello World", records[0].Attrs["title"])
	assert.Equal(t, "Hello World Lorem", records[0].Index.Tokens)

	assert.Equal(t, []int64{1}, searchIDs(t, b, "Article", "WOR hel", Options{}))
	assert.Equal(t, []int64{1}, searchIDs(t, b, "Article", "lor", Options{}))
	assert.Empty(t, searchIDs(t, b, "Article", "hello missing", Options{}))
	assert.Empty(t, searchIDs(t, b, "Article", "", Options{}))
	assert.Empty(t, searchIDs(t, b, "Article", "   ", Options{}))
}

func TestBinderQuickFox(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	a := article(1, "Quick Fox", "jumps", true)
	saveArticle(t, b, db, a)
	assert.Equal(t, []int64{1}, searchIDs(t, b, "Article", "fox jumps", Options{}))

	require.NoError(t, b.OnDestroying(ctx, a))
	assert.Empty(t, searchIDs(t, b, "Article", "fox jumps", Options{}))
}

func TestBinderSearchPunctuation(t *testing.T) {
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Quick Fox", "jumps", true))
	assert.Equal(t, []int64{1}, searchIDs(t, b, "Article", "fox -", Options{}))
	assert.Equal(t, []int64{1}, searchIDs(t, b, "Article", "- quick , fox", Options{}))
	assert.Empty(t, searchIDs(t, b, "Article", "- ,", Options{}))
}

func TestBinderUpdateReplacesTokens(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Hello World", "Lorem", true))
	saveArticle(t, b, db, article(1, "Goodbye", "Ipsum", true))

	n, err := b.Index().Count(ctx, "Article")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Empty(t, searchIDs(t, b, "Article", "hello", Options{}))
	assert.Equal(t, []int64{1}, searchIDs(t, b, "Article", "goodbye", Options{}))
}

func TestBinderDestroy(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	a := article(1, "Hello World", "Lorem", true)
	saveArticle(t, b, db, a)

	require.NoError(t, b.OnDestroying(ctx, a))
	require.NoError(t, b.OnDestroying(ctx, a))

	entry, err := b.Index().Get(ctx, "Article", 1)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Empty(t, searchIDs(t, b, "Article", "hello", Options{}))
}

func TestBinderTypeIsolation(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Hello World", "", true))

	_, err := db.Exec("INSERT INTO comments (id, body) VALUES (1, 'hello there')")
	require.NoError(t, err)
	c := NewRecord("Comment", 1)
	c.Attrs["body"] = "hello there"
	require.NoError(t, b.OnSaved(ctx, c))

	articles, err := b.Search(ctx, "Article", "hello", Options{}, true)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Article", articles[0].Type)

	comments, err := b.Search(ctx, "Comment", "hello", Options{}, true)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Comment", comments[0].Type)
	assert.Equal(t, "hello there", comments[0].Attrs["body"])
}

func TestBinderOptions(t *testing.T) {
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Hello one", "", true))
	saveArticle(t, b, db, article(2, "Hello two", "", false))
	saveArticle(t, b, db, article(3, "Hello three", "", true))

	opts, err := ParseOptions(map[string]interface{}{
		"conditions": []interface{}{"articles.published = ?", 1},
		"order":      "articles.id DESC",
		"foo":        1,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, searchIDs(t, b, "Article", "hello", opts))

	opts = Options{Order: "articles.id", Limit: 1, Offset: 1}
	assert.Equal(t, []int64{2}, searchIDs(t, b, "Article", "hello", opts))

	opts = Options{Order: "articles.id", Offset: 1}
	assert.Equal(t, []int64{2, 3}, searchIDs(t, b, "Article", "hello", opts))
}

func TestBinderInclude(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	_, err := b.Register("Post", IndexedTypeConfig{
		Fields: []string{"title"},
		Table:  "articles",
		Preload: map[string]PreloadFunc{
			"comment_count": func(ctx context.Context, q DBTX, records []*Record) error {
				for _, r := range records {
					var n int
					if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM comments WHERE id = ?", r.ID).Scan(&n); err != nil {
						return err
					}
					r.Include("comment_count", n)
				}
				return nil
			},
		},
	})
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO articles (id, title) VALUES (7, 'Preloaded')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO comments (id, body) VALUES (7, 'x')")
	require.NoError(t, err)
	p := NewRecord("Post", 7)
	p.Attrs["title"] = "Preloaded"
	require.NoError(t, b.OnSaved(ctx, p))

	records, err := b.Search(ctx, "Post", "preload", Options{Include: []string{"comment_count"}}, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Included["comment_count"])

	_, err = b.Search(ctx, "Post", "preload", Options{Include: []string{"nope"}}, true)
	assert.ErrorIs(t, err, ErrUnknownInclude)
}

func TestBinderLocality(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	_, err := b.Register("Place", IndexedTypeConfig{
		Fields: []string{"title"},
		Table:  "articles",
		Locality: func(origin, within interface{}) (*Condition, error) {
			return Where("articles.id <= ?", within), nil
		},
	})
	require.NoError(t, err)
	for i, name := range []string{"park one", "park two", "park three"} {
		_, err := db.Exec("INSERT INTO articles (id, title) VALUES (?, ?)", i+1, name)
		require.NoError(t, err)
		p := NewRecord("Place", int64(i+1))
		p.Attrs["title"] = name
		require.NoError(t, b.OnSaved(ctx, p))
	}

	assert.Len(t, searchIDs(t, b, "Place", "park", Options{Order: "articles.id"}), 3)
	assert.Equal(t, []int64{1, 2}, searchIDs(t, b, "Place", "park", Options{Order: "articles.id", Origin: "here", Within: 2}))

	// Types without a locality function ignore origin/within
	saveArticle(t, b, db, article(9, "park", "", true))
	assert.Equal(t, []int64{9}, searchIDs(t, b, "Article", "park", Options{Origin: "here", Within: 0}))
}

func TestBinderTypeWithoutTable(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBinder(t)
	_, err := b.Register("Note", IndexedTypeConfig{Fields: []string{"text"}})
	require.NoError(t, err)

	n := NewRecord("Note", 5)
	n.Attrs["text"] = "remember the milk"
	require.NoError(t, b.OnSaved(ctx, n))

	records, err := b.Search(ctx, "Note", "milk", Options{}, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(5), records[0].ID)
	assert.Equal(t, "remember the milk", records[0].Index.Tokens)

	_, err = b.ReindexAll(ctx, "Note")
	assert.ErrorIs(t, err, ErrNoEntityTable)
}

func TestBinderRegistry(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBinder(t)

	_, err := b.Register("Article", IndexedTypeConfig{})
	assert.ErrorIs(t, err, ErrTypeAlreadyRegistered)
	_, err = b.Register("", IndexedTypeConfig{})
	assert.ErrorIs(t, err, ErrEmptyTypeName)

	assert.Equal(t, []string{"Article", "Comment"}, b.Types())

	_, err = b.Search(ctx, "Widget", "x", Options{}, true)
	assert.ErrorIs(t, err, ErrTypeNotRegistered)
	assert.ErrorIs(t, b.OnSaved(ctx, NewRecord("Widget", 1)), ErrTypeNotRegistered)

	at, ok := b.Type("Article")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "title", "body", "published"}, at.Columns)
	assert.Equal(t, "id", at.KeyColumn)
}

func TestBinderReindexAll(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)

	// Rows written behind the binder's back are invisible until a reindex
	_, err := db.Exec("INSERT INTO articles (id, title, body) VALUES (1, 'Alpha', 'first'), (2, 'Beta', 'second')")
	require.NoError(t, err)
	assert.Empty(t, searchIDs(t, b, "Article", "alpha", Options{}))

	stale, err := b.StaleTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Article", "Comment"}, stale)

	n, err := b.ReindexAll(ctx, "Article")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1}, searchIDs(t, b, "Article", "alpha", Options{}))
	assert.Equal(t, []int64{2}, searchIDs(t, b, "Article", "sec", Options{}))

	stale, err = b.StaleTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Comment"}, stale)

	// Reindexing again does not duplicate entries
	_, err = b.ReindexAll(ctx, "Article")
	require.NoError(t, err)
	count, err := b.Index().Count(ctx, "Article")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestBinderReindexEntities(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Old", "", true))

	err := b.ReindexEntities(ctx, "Article", []Indexable{article(1, "New", "", true), article(2, "Other", "", true)})
	require.NoError(t, err)
	assert.Empty(t, searchIDs(t, b, "Article", "old", Options{}))

	entry, err := b.Index().Get(ctx, "Article", 2)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Other ", entry.Tokens)
}

func TestBinderInTxRollback(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO articles (id, title) VALUES (1, 'Hello')")
	require.NoError(t, err)
	require.NoError(t, b.InTx(tx).OnSaved(ctx, article(1, "Hello", "", false)))
	require.NoError(t, tx.Rollback())

	entry, err := b.Index().Get(ctx, "Article", 1)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestBinderInTxTypeSearch(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)

	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec("INSERT INTO articles (id, title) VALUES (1, 'Hello')")
	require.NoError(t, err)
	txb := b.InTx(tx)
	require.NoError(t, txb.OnSaved(ctx, article(1, "Hello", "", false)))

	at, ok := txb.Type("Article")
	require.True(t, ok)
	records, err := at.Search(ctx, "hello", Options{}, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)

	require.NoError(t, tx.Rollback())
	at, ok = b.Type("Article")
	require.True(t, ok)
	records, err = at.Search(ctx, "hello", Options{}, true)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBinderErasedAndOrphans(t *testing.T) {
	ctx := context.Background()
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Keep", "", true))
	saveArticle(t, b, db, article(2, "Drop", "", true))
	require.NoError(t, b.Index().Upsert(ctx, "Retired", 1, "old stuff"))

	erased, err := b.ErasedTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Retired"}, erased)
	require.NoError(t, b.Index().RemoveType(ctx, "Retired"))
	erased, err = b.ErasedTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, erased)

	_, err = db.Exec("DELETE FROM articles WHERE id = 2")
	require.NoError(t, err)
	n, err := b.PurgeOrphans(ctx, "Article")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	count, err := b.Index().Count(ctx, "Article")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestBinderOptimize(t *testing.T) {
	b, db := newTestBinder(t)
	saveArticle(t, b, db, article(1, "Hello", "", true))
	assert.NoError(t, b.Index().Optimize(context.Background()))
}

func TestParseFields(t *testing.T) {
	logger := log.New(log.Stdout, false)
	assert.Equal(t, []string{"title", "body"}, ParseFields([]interface{}{"title", "body"}, logger))
	assert.Equal(t, []string{"title"}, ParseFields("title", logger))
	assert.Equal(t, []string{"a"}, ParseFields([]string{"a"}, logger))
	assert.Equal(t, []string{}, ParseFields(nil, logger))
	assert.Equal(t, []string{}, ParseFields(42, logger))
	assert.Equal(t, []string{}, ParseFields([]interface{}{"a", 1}, logger))
}

func TestSignature(t *testing.T) {
	a := newIndexedType("A", IndexedTypeConfig{Fields: []string{"x", "y"}, Table: "t"})
	b := newIndexedType("A", IndexedTypeConfig{Fields: []string{"y", "x"}, Table: "t"})
	c := newIndexedType("A", IndexedTypeConfig{Fields: []string{"x", "y"}, Table: "t"})
	assert.NotEqual(t, a.Signature(), b.Signature())
	assert.Equal(t, a.Signature(), c.Signature())
	assert.Len(t, a.Signature(), 8)
}
