package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Dune - Frank Herbert", "Dune - Frank Herbert"},
		{"surrounding whitespace", "\n  Dune - Frank Herbert \n", "Dune - Frank Herbert"},
		{"think block", "<think>\nthe file looks like...\n</think>\n\nDune - Frank Herbert", "Dune - Frank Herbert"},
		{"think block mixed case", "<THINK>x</Think>Dune - Frank Herbert", "Dune - Frank Herbert"},
		{"unterminated think opener removed by closing tag", "reasoning text</think>Dune - Frank Herbert", "Dune - Frank Herbert"},
		{"code fence", "```\nDune - Frank Herbert\n```", "Dune - Frank Herbert"},
		{"code fence with language", "```text\nDune - Frank Herbert\n```", "Dune - Frank Herbert"},
		{"backticks", "`Dune - Frank Herbert`", "Dune - Frank Herbert"},
		{"double quotes", `"Dune - Frank Herbert"`, "Dune - Frank Herbert"},
		{"nested quote and backtick", "`\"Dune - Frank Herbert\"`", "Dune - Frank Herbert"},
		{"smart quotes", "“Dune - Frank Herbert”", "Dune - Frank Herbert"},
		{"inner quotes kept", `The "Best" Book - Someone`, `The "Best" Book - Someone`},
		{"empty", "", ""},
		{"lone quote", `"`, `"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanReply(tt.input))
		})
	}
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel("MORE", "MORE"))
	assert.True(t, IsSentinel("more", "MORE"))
	assert.True(t, IsSentinel(" More. ", "MORE"))
	assert.False(t, IsSentinel("MORE - Author", "MORE"))
	assert.False(t, IsSentinel("Need more info", "MORE"))
	assert.False(t, IsSentinel("", "MORE"))
}
