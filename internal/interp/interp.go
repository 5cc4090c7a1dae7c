// Package interp implements variable interpolation over workflow step
// fields: ${name} and $name syntaxes, a layered variable context, and a
// small set of value transforms applied to captured-output variables.
package interp

import (
	"strings"
	"unicode"

	sprig "github.com/go-task/slim-sprig/v3"
)

// Context is the layered variable lookup used while interpolating one step.
// Lookup order is per-iteration vars, then captured outputs, then globals;
// first match wins.
type Context struct {
	IterationVars   map[string]string
	CapturedOutputs map[string]string
	Globals         map[string]string
}

// NewContext builds an empty layered context.
func NewContext() *Context {
	return &Context{
		IterationVars:   make(map[string]string),
		CapturedOutputs: make(map[string]string),
		Globals:         make(map[string]string),
	}
}

// lookup resolves name against the layered context, reporting whether it
// was found at all (so callers can leave unresolved references literal)
// and whether it came from the captured-outputs layer (the only layer
// transform pipes apply to).
func (c *Context) lookup(name string) (value string, found bool, fromCaptured bool) {
	if c.IterationVars != nil {
		if v, ok := c.IterationVars[name]; ok {
			return v, true, false
		}
	}
	if c.CapturedOutputs != nil {
		if v, ok := c.CapturedOutputs[name]; ok {
			return v, true, true
		}
	}
	if c.Globals != nil {
		if v, ok := c.Globals[name]; ok {
			return v, true, false
		}
	}
	return "", false, false
}

var transformFuncs = sprig.FuncMap()

// transforms maps the recognized pipe suffixes to sprig template functions.
var transforms = map[string]string{
	"basename":  "base",
	"dirname":   "dir",
	"uppercase": "upper",
	"lowercase": "lower",
	"trim":      "trim",
}

func applyTransform(name, value string) (string, bool) {
	sprigName, ok := transforms[name]
	if !ok {
		return value, false
	}
	fn, ok := transformFuncs[sprigName]
	if !ok {
		return value, false
	}
	switch f := fn.(type) {
	case func(string) string:
		return f(value), true
	}
	return value, false
}

// Interpolate substitutes ${name}, ${name|transform}, and $name references
// in template against ctx. Unresolved variables are left literal so a later
// stage with more context can resolve them. Interpolation performs no I/O
// and has no side effects.
func Interpolate(template string, ctx *Context) string {
	var out strings.Builder
	runes := []rune(template)
	i := 0
	for i < len(runes) {
		if runes[i] != '$' {
			out.WriteRune(runes[i])
			i++
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '{' {
			end := indexRune(runes, '}', i+2)
			if end < 0 {
				out.WriteRune(runes[i])
				i++
				continue
			}
			inner := string(runes[i+2 : end])
			out.WriteString(resolveBraced(inner, ctx))
			i = end + 1
			continue
		}
		if i+1 < len(runes) && isIdentStart(runes[i+1]) {
			j := i + 1
			for j < len(runes) && isIdentChar(runes[j]) {
				j++
			}
			name := string(runes[i+1 : j])
			val, found, _ := ctx.lookup(name)
			if found {
				out.WriteString(val)
			} else {
				out.WriteString("$" + name)
			}
			i = j
			continue
		}
		out.WriteRune(runes[i])
		i++
	}
	return out.String()
}

func resolveBraced(inner string, ctx *Context) string {
	parts := strings.SplitN(inner, "|", 2)
	name := strings.TrimSpace(parts[0])
	val, found, fromCaptured := ctx.lookup(name)
	if !found {
		return "${" + inner + "}"
	}
	if len(parts) == 2 && fromCaptured {
		transformName := strings.TrimSpace(parts[1])
		if transformed, ok := applyTransform(transformName, val); ok {
			return transformed
		}
	}
	return val
}

func indexRune(runes []rune, target rune, from int) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// ExtractVariables returns the set of variable names referenced in template,
// in both ${name} and $name forms, without resolving them.
func ExtractVariables(template string) []string {
	seen := make(map[string]bool)
	var names []string
	runes := []rune(template)
	i := 0
	for i < len(runes) {
		if runes[i] != '$' {
			i++
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '{' {
			end := indexRune(runes, '}', i+2)
			if end < 0 {
				i++
				continue
			}
			inner := string(runes[i+2 : end])
			name := strings.TrimSpace(strings.SplitN(inner, "|", 2)[0])
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			i = end + 1
			continue
		}
		if i+1 < len(runes) && isIdentStart(runes[i+1]) {
			j := i + 1
			for j < len(runes) && isIdentChar(runes[j]) {
				j++
			}
			name := string(runes[i+1 : j])
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			i = j
			continue
		}
		i++
	}
	return names
}
