/*
Package fulltext keeps a full-text index of the entities stored in a relational database,
and searches it.

Concepts

Every entity of a registered type owns exactly one row in the fulltext_indices table. That row
holds the entity's type, its id, and its tokens. The tokens are the values of the type's indexed
fields, joined together with spaces. The storage engine's own full-text machinery does the
actual word splitting and matching, so all that we need to do is keep the tokens in step with
the entity, and translate search phrases into something the engine understands.

Keeping the index up to date

The host application calls Binder.OnSaved after an entity is created or updated, and
Binder.OnDestroying before an entity is deleted. If the entity save happens inside a
transaction, use Binder.InTx, so that the index write commits or rolls back together with
the entity. Binder.ReindexAll rebuilds the entire index of a type from its table, inside a
single transaction. Rows that are deleted behind the binder's back leave orphans in the index.
Binder.PurgeOrphans cleans those up.

Query Strings

A search phrase is lower-cased and split on white space. Duplicate words are removed, and the
remaining words are sorted. Every word becomes a required prefix term, so that

	Hello WORLD hello

compiles to

	+hello* +world*

which matches any entity whose tokens contain a word starting with "hello", and a word starting
with "world". MySQL consumes that expression as-is. Postgres receives

	'hello':* & 'world':*

and SQLite (FTS5) receives

	"hello"* AND "world"*

If a search is made with transform = false, the phrase is handed to the engine untouched,
and it must already be written in the engine's own syntax.

A phrase that contains no words compiles to a lone "+". Such a query returns no results.

Options

Searches accept conditions (an SQL fragment with '?' placeholders that is ANDed onto the filter),
order, limit, offset and include. Include names eager-load hooks that are registered with the type.
The origin and within options are passed to the type's Locality function, which may turn them into
an additional condition. Unknown option keys are ignored.

Stale types

After a full reindex, a signature of the type's table and fields is stored in fulltext_index_types.
Binder.StaleTypes reports the types whose configuration no longer matches their signature, and
Binder.ErasedTypes reports the types that still have index rows, but are no longer registered.
*/
package fulltext
