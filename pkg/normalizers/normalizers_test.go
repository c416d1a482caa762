package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"case folding", "Apache Kafka", "apache kafka"},
		{"whitespace runs", "  Apache\t\n Kafka ", "apache kafka"},
		{"surrounding quotes", "“Apache Kafka”", "apache kafka"},
		{"trailing sentence punctuation", "Kafka.", "kafka"},
		{"leading dot kept", ".NET", ".net"},
		{"inner punctuation kept", "AT&T", "at&t"},
		{"dotted name kept", "Node.js", "node.js"},
		{"full width folded", "ＫＡＦＫＡ", "kafka"},
		{"non breaking space", "New York", "new york"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EntityKey(tt.input))
		})
	}
}

func TestEntityKeyKeepsDistinctNames(t *testing.T) {
	assert.NotEqual(t, EntityKey("AT&T"), EntityKey("ATT"))
	assert.NotEqual(t, EntityKey("C"), EntityKey("C++"))
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "hello world", ApplyChain("  Hello,   World! ", "trim", "collapse_whitespace", "remove_punctuation", "lowercase"))
	assert.Equal(t, "unchanged", Apply("unchanged", "does_not_exist"))

	_, ok := Get("nfkc")
	assert.True(t, ok)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"apache", "kafka", "3", "0"}, Terms("Apache Kafka 3.0!"))
	assert.Empty(t, Terms("  --  "))
}
