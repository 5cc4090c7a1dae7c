package interp

import (
	"encoding/json"
	"fmt"
	"sort"
)

// BindItem flattens a decoded JSON value into dotted-path string variables
// under prefix (e.g. prefix="item", {"id":1,"tags":["a","b"]} becomes
// item.id="1", item.tags.0="a", item.tags.1="b") and merges them into dest.
// This is what makes "${item.<field>}" interpolation work against
// arbitrary work-item JSON shapes.
func BindItem(dest map[string]string, prefix string, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("binding %s: %w", prefix, err)
	}
	flatten(dest, prefix, v)
	return nil
}

func flatten(dest map[string]string, prefix string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(dest, prefix+"."+k, val[k])
		}
	case []interface{}:
		for i, elem := range val {
			flatten(dest, fmt.Sprintf("%s.%d", prefix, i), elem)
		}
	case string:
		dest[prefix] = val
	case nil:
		dest[prefix] = ""
	default:
		data, _ := json.Marshal(val)
		dest[prefix] = string(data)
	}
}
