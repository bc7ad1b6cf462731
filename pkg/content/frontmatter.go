package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	errNoFrontmatter       = errors.New("no frontmatter found")
	errUnclosedFrontmatter = errors.New("invalid frontmatter: no closing ---")
)

// splitFrontmatter separates a leading "---" delimited YAML block from the
// markdown body.
func splitFrontmatter(data []byte) (front []byte, body string, err error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, "", errNoFrontmatter
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			front = []byte(strings.Join(lines[1:i], "\n"))
			body = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			return front, body, nil
		}
	}
	return nil, "", errUnclosedFrontmatter
}

// parseFrontmatter decodes the frontmatter of data into out and returns the
// body. A block that fails to decode is retried once after quoting values
// that commonly break YAML (HTML, unbalanced quotes).
func parseFrontmatter(data []byte, out any) (string, error) {
	front, body, err := splitFrontmatter(data)
	if err != nil {
		return "", err
	}
	if err := yaml.Unmarshal(front, out); err != nil {
		if err2 := yaml.Unmarshal([]byte(sanitizeYAML(string(front))), out); err2 != nil {
			return "", fmt.Errorf("yaml parsing failed: %w", err)
		}
	}
	return body, nil
}

var topLevelKey = regexp.MustCompile(`^([A-Za-z_][\w-]*):\s*(.*)$`)

// sanitizeYAML rewrites top-level "key: value" lines whose value contains
// characters YAML trips over into double-quoted scalars. Indented and list
// lines are left alone.
func sanitizeYAML(front string) string {
	lines := strings.Split(front, "\n")
	for i, line := range lines {
		m := topLevelKey.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		if value == "" || value == "|" || value == ">" {
			continue
		}
		if balancedQuotes(value) && !strings.ContainsAny(value, "<>&\\\t") {
			continue
		}
		value = strings.Trim(value, `"'`)
		quoted, _ := json.Marshal(value)
		lines[i] = m[1] + ": " + string(quoted)
	}
	return strings.Join(lines, "\n")
}

func balancedQuotes(v string) bool {
	if strings.HasPrefix(v, `"`) {
		return len(v) > 1 && strings.HasSuffix(v, `"`)
	}
	if strings.HasPrefix(v, `'`) {
		return len(v) > 1 && strings.HasSuffix(v, `'`)
	}
	return !strings.Contains(v, `"`)
}

// stringList accepts either a YAML sequence or a comma separated string.
type stringList []string

func (l *stringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*l = cleanList(items)
	case yaml.ScalarNode:
		*l = cleanList(strings.Split(n.Value, ","))
	default:
		return fmt.Errorf("expected list or string, got %v", n.Tag)
	}
	return nil
}

func cleanList(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
