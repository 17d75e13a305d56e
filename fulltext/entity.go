package fulltext

import (
	"fmt"
	"reflect"
	"strings"
)

// Indexable is implemented by any entity whose type has been registered with a Binder.
type Indexable interface {
	IndexType() string
	IndexID() int64
	// Attribute returns the value of a named attribute, and false if the entity has no such attribute
	Attribute(name string) (interface{}, bool)
}

// IndexEntry is the single token record that an entity owns inside fulltext_indices
type IndexEntry struct {
	ID         int64
	EntityType string
	EntityID   int64
	Tokens     string
}

// Record is the generic entity that we hand back from searches and bulk reindexing.
// It implements Indexable, so a Record can be fed straight back into OnSaved.
type Record struct {
	Type     string
	ID       int64
	Attrs    map[string]interface{}
	Index    *IndexEntry
	Included map[string]interface{} // Populated by Preload hooks, keyed by include name
}

func NewRecord(entityType string, id int64) *Record {
	return &Record{
		Type:  entityType,
		ID:    id,
		Attrs: map[string]interface{}{},
	}
}

func (r *Record) IndexType() string {
	return r.Type
}

func (r *Record) IndexID() int64 {
	return r.ID
}

func (r *Record) Attribute(name string) (interface{}, bool) {
	v, ok := r.Attrs[name]
	return v, ok
}

// Include stores the result of an eager-load hook
func (r *Record) Include(name string, value interface{}) {
	if r.Included == nil {
		r.Included = map[string]interface{}{}
	}
	r.Included[name] = value
}

func (r *Record) String() string {
	return fmt.Sprintf("%v(%v)", r.Type, r.ID)
}

// TokenBuilder derives the token string of an entity from its indexed fields.
// A type may install its own TokenBuilder in IndexedTypeConfig.BuildIndexString.
type TokenBuilder func(entity Indexable, fields []string) string

// BuildIndexString joins the values of the given fields with single spaces, in the order of 'fields'.
// Missing and nil attributes still occupy a slot, so "a", nil, "b" produces "a  b".
func BuildIndexString(entity Indexable, fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	vals := make([]string, len(fields))
	for i, f := range fields {
		v, ok := entity.Attribute(f)
		if !ok {
			continue
		}
		vals[i] = attributeText(v)
	}
	return strings.Join(vals, " ")
}

func attributeText(v interface{}) string {
	// Nullable columns arrive as typed nil pointers, eg (*time.Time)(nil)
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return ""
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}
