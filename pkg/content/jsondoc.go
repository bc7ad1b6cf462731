package content

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// jsonDoc answers JSONPath lookups over one decoded document.
type jsonDoc struct {
	root any
}

func parseJSON(data []byte) (*jsonDoc, error) {
	root, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return &jsonDoc{root: root}, nil
}

// first panics on a malformed path; paths are constants in this package.
func (d *jsonDoc) first(path string) any {
	return jp.MustParseString(path).First(d.root)
}

func (d *jsonDoc) str(path string) string {
	return asString(d.first(path))
}

func (d *jsonDoc) list(path string) []string {
	return asStrings(d.first(path))
}

func (d *jsonDoc) object(path string) map[string]any {
	m, _ := d.first(path).(map[string]any)
	return m
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	default:
		return 0
	}
}

// asStrings accepts a list of scalars or a comma separated string.
func asStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s := asString(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return cleanList(strings.Split(t, ","))
	default:
		return nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
