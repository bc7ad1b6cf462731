package models

import (
	"strings"

	"github.com/freedevtools/fdtdb/pkg/hashkey"
)

// Record is one addressable unit of content: a man page, cheatsheet, MCP
// repository, TLDR page, emoji or icon.
type Record struct {
	Domain string `json:"domain" yaml:"domain"`
	// NaturalKey holds 1-3 parts in hashing order; empty parts stay "".
	NaturalKey  []string `json:"natural_key" yaml:"natural_key"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Payload     string   `json:"-" yaml:"-"`

	// Fields fill domain-specific columns by name.
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	// Extra is stored as a JSON object in the extra column.
	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`

	// Source is the file the record came from, for reporting only.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// HashID is always recomputed from the natural key.
func (r *Record) HashID() int64 {
	return hashkey.Key(r.NaturalKey...)
}

// KeyString renders the natural key for logs and reports.
func (r *Record) KeyString() string {
	return strings.Join(r.NaturalKey, "/")
}
