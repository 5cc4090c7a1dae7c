// Package expr implements the two small DSLs the map phase evaluates over
// JSON work items: a boolean filter expression and a multi-key sort spec.
package expr

// Node is a filter expression AST node.
type Node interface {
	isNode()
}

type (
	// Literal is a JSON scalar or null appearing directly in source.
	Literal struct {
		Value interface{} // nil, bool, float64, string
	}

	// FieldAccess is a dotted path into the work item, e.g. user.role.
	FieldAccess struct {
		Path []string
	}

	// Variable is one of the special bound identifiers _index, _key, _value.
	Variable struct {
		Name string
	}

	// ListLiteral is a bracketed literal list, used on the right side of `in`.
	ListLiteral struct {
		Elements []Node
	}

	// BinaryOp is a two-operand comparison or boolean connective.
	BinaryOp struct {
		Op    string // ==, !=, >, <, >=, <=, &&, ||, in
		Left  Node
		Right Node
	}

	// UnaryOp is logical negation.
	UnaryOp struct {
		Op      string // !
		Operand Node
	}

	// Call is a named function applied to arguments: contains, starts_with,
	// ends_with, matches, is_null, is_number, is_string, is_bool, is_array,
	// is_object, length, sum, count, min, max, avg.
	Call struct {
		Name string
		Args []Node
	}
)

func (Literal) isNode()     {}
func (FieldAccess) isNode() {}
func (Variable) isNode()    {}
func (ListLiteral) isNode() {}
func (BinaryOp) isNode()    {}
func (UnaryOp) isNode()     {}
func (Call) isNode()        {}

// CompiledFilter is a parsed, validated filter expression ready to evaluate
// repeatedly against work items without re-parsing.
type CompiledFilter struct {
	root Node
	src  string
}

// Source returns the original expression text, useful for diagnostics.
func (f *CompiledFilter) Source() string { return f.src }

// SortOrder is ASC or DESC for one sort key.
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

// NullPosition controls where nulls sort regardless of SortOrder.
type NullPosition int

const (
	NullsFirst NullPosition = iota
	NullsLast
)

// SortField is one comma-separated key of a sort spec.
type SortField struct {
	Path         string
	Order        SortOrder
	NullPosition NullPosition
}

// CompiledSort is a parsed multi-key sort specification.
type CompiledSort struct {
	Fields []SortField
}
