package expr

import "fmt"

// kindRank implements the fixed total order over JSON kinds:
// Null < Bool < Number < String < Array (by length) < Object (by size).
func kindRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []interface{}:
		return 4
	case map[string]interface{}:
		return 5
	}
	return 6
}

// compareJSON orders two decoded JSON values per the fixed kind order; when
// both share a kind it compares within that kind, and for Array/Object
// (which have no inherent member order) it falls back to comparing length.
func compareJSON(a, b interface{}) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case []interface{}:
		bv := b.([]interface{})
		return len(av) - len(bv)
	case map[string]interface{}:
		bv := b.(map[string]interface{})
		return len(av) - len(bv)
	}
	return 0
}

// fieldValue walks a dotted path into a decoded JSON value, returning nil
// (not an error) when any segment is missing — matching the contract that
// missing field paths evaluate to null.
func fieldValue(root interface{}, path []string) interface{} {
	cur := root
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		next, ok := m[seg]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func asFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) != 0
	case map[string]interface{}:
		return len(t) != 0
	}
	return false
}

func mustFloat(v interface{}) float64 {
	f, ok := asFloat(v)
	if !ok {
		panic(fmt.Sprintf("expected number, got %T", v))
	}
	return f
}
