package text_test

import (
	"testing"

	"github.com/book-expert/voice-service/internal/text"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "blank", input: " \n\t ", expected: ""},
		{name: "adds stop", input: "Hello world", expected: "Hello world."},
		{name: "keeps stop", input: "Hello world!", expected: "Hello world!"},
		{
			name:     "reference markers",
			input:    "As shown in [12] the result holds",
			expected: "As shown in the result holds.",
		},
		{
			name:     "reference ranges and superscripts",
			input:    "Prior work [3, 4] agrees²",
			expected: "Prior work agrees.",
		},
		{
			name:     "citation",
			input:    "The effect (Smith et al., 2020) is large.",
			expected: "The effect is large.",
		},
		{
			name:     "citation before stop",
			input:    "This was known (Jones 1999).",
			expected: "This was known.",
		},
		{
			name:     "hard line breaks",
			input:    "line one\nline two\r\n\tline three",
			expected: "line one line two line three.",
		},
		{
			name:     "repeated punctuation",
			input:    "Wow!!! Really??",
			expected: "Wow! Really?",
		},
		{
			name:     "typographic quotes and dashes",
			input:    "“Quoted” — text…",
			expected: `"Quoted" - text...`,
		},
		{
			name:     "urls and emails untouched",
			input:    "Visit https://example.com/a?b=1 or mail me@example.com",
			expected: "Visit https://example.com/a?b=1 or mail me@example.com.",
		},
		{name: "trailing comma", input: "and then,", expected: "and then."},
		{name: "han text", input: "你好世界", expected: "你好世界。"},
		{name: "han with stop", input: "你好世界。", expected: "你好世界。"},
	}

	normalizer := text.NewNormalizer()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}
