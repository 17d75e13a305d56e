package fulltext

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is an SQL fragment that is ANDed onto the search filter.
// Placeholders are written as '?', and are rewritten for the index dialect.
// The index table is named fulltext_indices, and the entity table goes by its own name.
type Condition struct {
	SQL  string
	Args []interface{}
}

func Where(sql string, args ...interface{}) *Condition {
	return &Condition{SQL: sql, Args: args}
}

// Options refine a search
type Options struct {
	Conditions *Condition
	Order      string   // SQL ORDER BY expression. If empty, the storage engine picks the order.
	Limit      int      // Zero means no limit
	Offset     int
	Include    []string // Names of IndexedTypeConfig.Preload hooks to run on the results
	Origin     interface{}
	Within     interface{}
}

// The option keys that ParseOptions understands. Anything else is dropped.
var optionKeys = map[string]bool{
	"conditions": true,
	"order":      true,
	"limit":      true,
	"offset":     true,
	"include":    true,
	"origin":     true,
	"within":     true,
}

// ParseOptions builds Options out of a loosely typed map, such as one decoded from JSON or
// assembled from query parameters. Unrecognized keys are silently ignored.
func ParseOptions(raw map[string]interface{}) (Options, error) {
	opt := Options{}
	for k, v := range raw {
		if !optionKeys[k] {
			continue
		}
		var err error
		switch k {
		case "conditions":
			opt.Conditions, err = parseCondition(v)
		case "order":
			opt.Order, err = parseString(k, v)
		case "limit":
			opt.Limit, err = parseInt(k, v)
		case "offset":
			opt.Offset, err = parseInt(k, v)
		case "include":
			opt.Include, err = parseStringList(k, v)
		case "origin":
			opt.Origin = v
		case "within":
			opt.Within = v
		}
		if err != nil {
			return Options{}, err
		}
	}
	return opt, nil
}

func parseCondition(v interface{}) (*Condition, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &Condition{SQL: t}, nil
	case Condition:
		return &t, nil
	case *Condition:
		return t, nil
	case []interface{}:
		// ["published = ? AND author = ?", true, "bob"]
		if len(t) == 0 {
			return nil, nil
		}
		sql, ok := t[0].(string)
		if !ok {
			return nil, fmt.Errorf("Search option 'conditions' must start with an SQL string, not %T", t[0])
		}
		return &Condition{SQL: sql, Args: t[1:]}, nil
	}
	return nil, fmt.Errorf("Search option 'conditions' has invalid type %T", v)
}

func parseString(key string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("Search option '%v' must be a string, not %T", key, v)
}

func parseInt(key string, v interface{}) (int, error) {
	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int32:
		n = int(t)
	case int64:
		n = int(t)
	case float64:
		n = int(t)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("Search option '%v' is not an integer: %v", key, t)
		}
		n = i
	default:
		return 0, fmt.Errorf("Search option '%v' must be an integer, not %T", key, v)
	}
	if n < 0 {
		return 0, fmt.Errorf("Search option '%v' may not be negative", key)
	}
	return n, nil
}

func parseStringList(key string, v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		list := []string{}
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		return list, nil
	case []string:
		return t, nil
	case []interface{}:
		list := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("Search option '%v' must be a list of strings", key)
			}
			list = append(list, s)
		}
		return list, nil
	}
	return nil, fmt.Errorf("Search option '%v' must be a list of strings, not %T", key, v)
}
