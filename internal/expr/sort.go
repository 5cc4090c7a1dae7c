package expr

import (
	"fmt"
	"sort"
	"strings"
)

// CompileSort parses a comma-separated sort spec:
// "<field> [ASC|DESC] [NULLS FIRST|NULLS LAST]".
func CompileSort(src string) (*CompiledSort, error) {
	var fields []SortField
	for _, clause := range strings.Split(src, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		f, err := parseSortField(clause)
		if err != nil {
			return nil, fmt.Errorf("parsing sort spec %q: %w", src, err)
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("parsing sort spec %q: no fields given", src)
	}
	return &CompiledSort{Fields: fields}, nil
}

func parseSortField(clause string) (SortField, error) {
	words := strings.Fields(clause)
	if len(words) == 0 {
		return SortField{}, fmt.Errorf("empty sort clause")
	}
	field := words[0]
	rest := words[1:]

	order := Asc
	nullPos := NullsLast

	if len(rest) > 0 {
		switch strings.ToUpper(rest[0]) {
		case "ASC", "ASCENDING":
			order = Asc
			rest = rest[1:]
		case "DESC", "DESCENDING":
			order = Desc
			nullPos = NullsLast
			rest = rest[1:]
		}
	}

	if len(rest) > 0 && strings.ToUpper(rest[0]) == "NULLS" {
		if len(rest) < 2 {
			return SortField{}, fmt.Errorf("expected FIRST or LAST after NULLS in %q", clause)
		}
		switch strings.ToUpper(rest[1]) {
		case "FIRST":
			nullPos = NullsFirst
		case "LAST":
			nullPos = NullsLast
		default:
			return SortField{}, fmt.Errorf("invalid null position %q, expected FIRST or LAST", rest[1])
		}
		rest = rest[2:]
	}

	if len(rest) > 0 {
		return SortField{}, fmt.Errorf("unexpected trailing tokens in sort clause %q", clause)
	}

	return SortField{Path: field, Order: order, NullPosition: nullPos}, nil
}

// Sort orders items in place according to the compiled sort spec. It is
// stable, and compares multiple keys lexicographically until one differs.
func (s *CompiledSort) Sort(items []interface{}) {
	sort.SliceStable(items, func(i, j int) bool {
		return compareItems(items[i], items[j], s.Fields) < 0
	})
}

func compareItems(a, b interface{}, fields []SortField) int {
	for _, f := range fields {
		path := strings.Split(f.Path, ".")
		av := fieldValue(a, path)
		bv := fieldValue(b, path)
		c := compareSortValues(av, bv, f)
		if c != 0 {
			return c
		}
	}
	return 0
}

// compareSortValues implements the critical policy: null-placement depends
// only on NullPosition, never on Order. Order only applies once both values
// are non-null.
func compareSortValues(a, b interface{}, f SortField) int {
	aNull, bNull := a == nil, b == nil
	if aNull && bNull {
		return 0
	}
	if aNull {
		if f.NullPosition == NullsFirst {
			return -1
		}
		return 1
	}
	if bNull {
		if f.NullPosition == NullsFirst {
			return 1
		}
		return -1
	}

	c := compareJSON(a, b)
	if f.Order == Desc {
		return -c
	}
	return c
}
