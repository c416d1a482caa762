// Package normalizers provides the text normalizers used to derive entity identity
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("nfkc", NFKC)
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("trim_punctuation", TrimPunctuation)
	Register("remove_punctuation", RemovePunctuation)
}

// EntityKeyChain is the pinned chain applied to entity text before its
// identifier is derived. Changing it re-keys every stored entity.
var EntityKeyChain = []string{"nfkc", "trim", "collapse_whitespace", "trim_punctuation", "lowercase"}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// EntityKey normalizes entity display text for identity derivation.
func EntityKey(text string) string {
	return ApplyChain(text, EntityKeyChain...)
}

// NFKC folds compatibility forms (full-width letters, ligatures, non-breaking spaces)
func NFKC(s string) string {
	return norm.NFKC.String(s)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// CollapseWhitespace replaces every run of whitespace with a single space
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// edge punctuation that never carries meaning for a name; '.' is only
// trimmed at the end so ".NET" survives
const (
	leadingEdge  = "\"'“”‘’«»()[]{}<>,;:!?"
	trailingEdge = "\"'“”‘’«»()[]{}<>,;:!?."
)

// TrimPunctuation strips quotes, brackets and sentence punctuation from both
// ends. Inner punctuation is kept so "AT&T" and "Node.js" stay distinct from
// "ATT" and "Nodejs".
func TrimPunctuation(s string) string {
	s = strings.TrimLeft(s, leadingEdge)
	s = strings.TrimRight(s, trailingEdge)
	return strings.TrimSpace(s)
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Terms splits s into lowercase alphanumeric terms, used for lexical matching.
func Terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(NFKC(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return fields
}
