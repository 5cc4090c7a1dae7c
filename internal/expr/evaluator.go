package expr

import (
	"fmt"
	"regexp"
)

// evalContext carries the work item and the aggregate/index variables
// available during one evaluation.
type evalContext struct {
	item  interface{}
	index int
	key   string
}

// Evaluate runs the compiled filter against a decoded JSON work item.
// Missing field paths evaluate to null rather than erroring.
func (f *CompiledFilter) Evaluate(item interface{}) (bool, error) {
	ctx := &evalContext{item: item}
	v, err := eval(f.root, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// EvaluateIndexed runs the filter with _index/_key bound, for use inside
// foreach/array-scoped evaluation.
func (f *CompiledFilter) EvaluateIndexed(item interface{}, index int, key string) (bool, error) {
	ctx := &evalContext{item: item, index: index, key: key}
	v, err := eval(f.root, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func eval(n Node, ctx *evalContext) (interface{}, error) {
	switch node := n.(type) {
	case Literal:
		return node.Value, nil
	case FieldAccess:
		return fieldValue(ctx.item, node.Path), nil
	case Variable:
		switch node.Name {
		case "_index":
			return float64(ctx.index), nil
		case "_key":
			return ctx.key, nil
		case "_value":
			return ctx.item, nil
		}
		return nil, fmt.Errorf("unknown variable %q", node.Name)
	case ListLiteral:
		vals := make([]interface{}, len(node.Elements))
		for i, el := range node.Elements {
			v, err := eval(el, ctx)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return vals, nil
	case UnaryOp:
		v, err := eval(node.Operand, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case BinaryOp:
		return evalBinary(node, ctx)
	case Call:
		return evalCall(node, ctx)
	}
	return nil, fmt.Errorf("unsupported node type %T", n)
}

func evalBinary(node BinaryOp, ctx *evalContext) (interface{}, error) {
	switch node.Op {
	case "&&":
		l, err := eval(node.Left, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := eval(node.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "||":
		l, err := eval(node.Left, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := eval(node.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	left, err := eval(node.Left, ctx)
	if err != nil {
		return nil, err
	}

	if node.Op == "in" {
		list, err := eval(node.Right, ctx)
		if err != nil {
			return nil, err
		}
		elems, _ := list.([]interface{})
		for _, e := range elems {
			if compareJSON(left, e) == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	right, err := eval(node.Right, ctx)
	if err != nil {
		return nil, err
	}

	cmp := compareJSON(left, right)
	switch node.Op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", node.Op)
}

func evalCall(node Call, ctx *evalContext) (interface{}, error) {
	args := make([]interface{}, len(node.Args))
	for i, a := range node.Args {
		v, err := eval(a, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch node.Name {
	case "contains":
		if len(args) != 2 {
			return nil, fmt.Errorf("contains takes 2 arguments")
		}
		return containsValue(args[0], args[1]), nil
	case "starts_with":
		s, _ := asString(args[0])
		prefix, _ := asString(args[1])
		return len(s) >= len(prefix) && s[:len(prefix)] == prefix, nil
	case "ends_with":
		s, _ := asString(args[0])
		suffix, _ := asString(args[1])
		return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix, nil
	case "matches":
		s, _ := asString(args[0])
		pattern, _ := asString(args[1])
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
		}
		return re.MatchString(s), nil
	case "is_null":
		return args[0] == nil, nil
	case "is_number":
		_, ok := args[0].(float64)
		return ok, nil
	case "is_string":
		_, ok := args[0].(string)
		return ok, nil
	case "is_bool":
		_, ok := args[0].(bool)
		return ok, nil
	case "is_array":
		_, ok := args[0].([]interface{})
		return ok, nil
	case "is_object":
		_, ok := args[0].(map[string]interface{})
		return ok, nil
	case "length":
		return aggregateLength(args[0]), nil
	case "sum":
		return aggregateSum(args[0]), nil
	case "count":
		return aggregateLength(args[0]), nil
	case "min":
		return aggregateMin(args[0]), nil
	case "max":
		return aggregateMax(args[0]), nil
	case "avg":
		arr := toFloatSlice(args[0])
		if len(arr) == 0 {
			return 0.0, nil
		}
		return aggregateSum(args[0]).(float64) / float64(len(arr)), nil
	}
	return nil, fmt.Errorf("unknown function %q", node.Name)
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		n, _ := asString(needle)
		return indexOf(h, n) >= 0
	case []interface{}:
		for _, e := range h {
			if compareJSON(e, needle) == 0 {
				return true
			}
		}
	}
	return false
}

func indexOf(s, sub string) int {
	if sub == "" {
		return 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func toFloatSlice(v interface{}) []float64 {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, e := range arr {
		if f, ok := asFloat(e); ok {
			out = append(out, f)
		}
	}
	return out
}

func aggregateLength(v interface{}) float64 {
	switch t := v.(type) {
	case []interface{}:
		return float64(len(t))
	case string:
		return float64(len(t))
	case map[string]interface{}:
		return float64(len(t))
	}
	return 0
}

func aggregateSum(v interface{}) interface{} {
	var total float64
	for _, f := range toFloatSlice(v) {
		total += f
	}
	return total
}

func aggregateMin(v interface{}) interface{} {
	arr := toFloatSlice(v)
	if len(arr) == 0 {
		return nil
	}
	min := arr[0]
	for _, f := range arr[1:] {
		if f < min {
			min = f
		}
	}
	return min
}

func aggregateMax(v interface{}) interface{} {
	arr := toFloatSlice(v)
	if len(arr) == 0 {
		return nil
	}
	max := arr[0]
	for _, f := range arr[1:] {
		if f > max {
			max = f
		}
	}
	return max
}
