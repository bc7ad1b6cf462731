package hashkey

import (
	"net/url"
	"strings"
)

// Scheme is one way of turning natural-key parts into the string that gets
// hashed. Only Canonical is used for writing; the rest describe conventions
// that older scripts used and exist so drift can be diagnosed.
type Scheme struct {
	Name string
	Join func(parts []string) string
}

// Apply hashes parts under the scheme.
func (s Scheme) Apply(parts ...string) int64 {
	return Sum(s.Join(parts))
}

func joinWith(sep string) func([]string) string {
	return func(parts []string) string { return strings.Join(parts, sep) }
}

var (
	Canonical = Scheme{Name: "canonical", Join: joinWith("")}

	WithSlash      = Scheme{Name: "with_slash", Join: joinWith("/")}
	WithDash       = Scheme{Name: "with_dash", Join: joinWith("-")}
	WithUnderscore = Scheme{Name: "with_underscore", Join: joinWith("_")}
	WithPipe       = Scheme{Name: "with_pipe", Join: joinWith("|")}

	Lowercase = Scheme{Name: "lowercase", Join: func(parts []string) string {
		return strings.ToLower(strings.Join(parts, ""))
	}}

	TrailingSlash = Scheme{Name: "trailing_slash", Join: func(parts []string) string {
		return strings.Join(parts, "") + "/"
	}}

	URLEncoded = Scheme{Name: "url_encoded", Join: func(parts []string) string {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(url.PathEscape(p))
		}
		return b.String()
	}}

	// LowercaseSlash is what the first TLDR builder hashed: trimmed,
	// lowercased parts joined by "/".
	LowercaseSlash = Scheme{Name: "lowercase_slash", Join: func(parts []string) string {
		clean := make([]string, len(parts))
		for i, p := range parts {
			clean[i] = strings.ToLower(strings.TrimSpace(p))
		}
		return strings.Join(clean, "/")
	}}
)

// Alternates lists the known non-canonical schemes in the order Classify
// tries them.
var Alternates = []Scheme{
	WithSlash,
	Lowercase,
	TrailingSlash,
	WithDash,
	WithUnderscore,
	WithPipe,
	URLEncoded,
	LowercaseSlash,
}

// SchemeByName returns the scheme with the given name.
func SchemeByName(name string) (Scheme, bool) {
	if name == Canonical.Name {
		return Canonical, true
	}
	for _, s := range Alternates {
		if s.Name == name {
			return s, true
		}
	}
	return Scheme{}, false
}

// Classify reports which scheme reproduces stored for parts. The canonical
// scheme is tried first; the boolean is false when nothing matches, which
// usually means the row was inserted by hand or its natural key was edited
// after hashing.
func Classify(stored int64, parts []string) (Scheme, bool) {
	if Canonical.Apply(parts...) == stored {
		return Canonical, true
	}
	for _, s := range Alternates {
		if s.Apply(parts...) == stored {
			return s, true
		}
	}
	return Scheme{}, false
}
