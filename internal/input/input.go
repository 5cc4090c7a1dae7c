// Package input loads map-phase work items from the configured source: a
// JSON file extracted via a JSONPath-like expression, or the stdout lines of
// a shell command, one work item per line.
package input

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/re-cinq/loom/internal/errs"
)

// Load resolves source per the file-mode-vs-command heuristic and returns
// one json.RawMessage per work item, in source order.
//
// Heuristic (preserved exactly, not "fixed" — see the open question this
// is grounded on): if source names a file that exists, it is parsed as
// JSON regardless of extension; otherwise source is run as a shell command
// and each line of its stdout becomes one item.
func Load(source, jsonPath string) ([]json.RawMessage, error) {
	if _, err := os.Stat(source); err == nil {
		return loadJSONFile(source, jsonPath)
	}
	return loadShellCommand(source)
}

func loadJSONFile(path, jsonPath string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input file %s: %w", path, errs.ErrInputLoad)
	}

	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing input file %s as JSON: %w", path, errs.ErrInputLoad)
	}

	extracted := root
	if jsonPath != "" {
		extracted, err = ExtractPath(root, jsonPath)
		if err != nil {
			return nil, fmt.Errorf("extracting %s from %s: %w", jsonPath, path, errs.ErrInputLoad)
		}
	}

	arr, ok := extracted.([]interface{})
	if !ok {
		return nil, fmt.Errorf("input file %s: json_path %q does not resolve to an array: %w", path, jsonPath, errs.ErrInputLoad)
	}

	items := make([]json.RawMessage, len(arr))
	for i, v := range arr {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("re-encoding item %d: %w", i, errs.ErrInputLoad)
		}
		items[i] = raw
	}
	return items, nil
}

func loadShellCommand(command string) ([]json.RawMessage, error) {
	cmd := exec.Command("sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running input command %q: %s: %w", command, stderr.String(), errs.ErrInputLoad)
	}

	var items []json.RawMessage
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		raw, err := json.Marshal(map[string]string{"item": line})
		if err != nil {
			return nil, fmt.Errorf("encoding line as work item: %w", errs.ErrInputLoad)
		}
		items = append(items, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input command output: %w", errs.ErrInputLoad)
	}
	return items, nil
}

// ExtractPath walks a dotted field path (with optional "[n]"/"[*]" index
// suffixes) into a decoded JSON value. "[*]" on a field flattens every
// matching element's remaining path into a single result array.
func ExtractPath(root interface{}, path string) (interface{}, error) {
	segments := strings.Split(path, ".")
	return extractSegments(root, segments)
}

func extractSegments(current interface{}, segments []string) (interface{}, error) {
	if len(segments) == 0 {
		return current, nil
	}
	seg := segments[0]
	rest := segments[1:]

	name, indices := splitIndices(seg)
	if name != "" {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: not an object", name)
		}
		val, ok := obj[name]
		if !ok {
			return nil, fmt.Errorf("field %q: not found", name)
		}
		current = val
	}

	for _, idx := range indices {
		arr, ok := current.([]interface{})
		if !ok {
			return nil, fmt.Errorf("index on non-array value")
		}
		if idx == "*" {
			var out []interface{}
			for _, elem := range arr {
				v, err := extractSegments(elem, rest)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", idx)
		}
		if n < 0 || n >= len(arr) {
			return nil, fmt.Errorf("index %d out of range", n)
		}
		current = arr[n]
	}

	return extractSegments(current, rest)
}

func splitIndices(seg string) (name string, indices []string) {
	for {
		start := strings.IndexByte(seg, '[')
		if start == -1 {
			if name == "" {
				name = seg
			}
			return
		}
		end := strings.IndexByte(seg[start:], ']')
		if end == -1 {
			if name == "" {
				name = seg
			}
			return
		}
		if name == "" {
			name = seg[:start]
		}
		indices = append(indices, seg[start+1:start+end])
		seg = seg[start+end+1:]
	}
}
