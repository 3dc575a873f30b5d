// Package text prepares page text for speech synthesis.
//
// Book pages arrive with layout artifacts such as reference markers, hard
// line breaks and typographic punctuation. The speech service reads those
// literally, so they are cleaned before a request is made. Normalization is
// language neutral: it never rewrites words, only markup and punctuation.
package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for text preprocessing.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	referenceRegexPattern  = `\[\d+(?:[,\-–]\s*\d+)*\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	citationRegexPattern   = `\([^()]*\b\d{4}\b[^()]*\)|\b\w+\s+et\s+al\.`
	whitespaceRegexPattern = `\s+`
	spacedPunctPattern     = `\s+([.,!?;:])`
)

// Patterns for preserving URLs and emails.
const (
	urlPlaceholderPattern   = "\x00URL%d\x00"
	emailPlaceholderPattern = "\x00EMAIL%d\x00"
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"

	latinStop = "."
	cjkStop   = "。"
)

// Normalizer cleans page text before it is sent for synthesis.
type Normalizer struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	referencePattern  *regexp.Regexp
	citationPattern   *regexp.Regexp
	whitespacePattern *regexp.Regexp
	spacedPunct       *regexp.Regexp
	quoteReplacer     *strings.Replacer
}

// NewNormalizer compiles the patterns once for reuse across pages.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		citationPattern:   regexp.MustCompile(citationRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		spacedPunct:       regexp.MustCompile(spacedPunctPattern),
		quoteReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns text with references and citations removed, whitespace
// collapsed, punctuation simplified and a closing stop appended if missing.
// URLs and email addresses pass through untouched.
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	preserved, placeholders := n.preserveTokens(text)

	cleaned := n.referencePattern.ReplaceAllString(preserved, "")
	cleaned = n.citationPattern.ReplaceAllString(cleaned, "")
	cleaned = n.whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = n.spacedPunct.ReplaceAllString(cleaned, "$1")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = removeRepeatedPunctuation(cleaned)
	cleaned = n.quoteReplacer.Replace(cleaned)

	restored := restoreTokens(cleaned, placeholders)

	return ensureSentenceEnding(restored)
}

// preserveTokens swaps URLs and emails for placeholders that the cleaning
// patterns cannot match.
func (n *Normalizer) preserveTokens(text string) (string, map[string]string) {
	placeholders := make(map[string]string)
	counter := 0

	replace := func(input string, pattern *regexp.Regexp, format string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			placeholder := fmt.Sprintf(format, counter)
			placeholders[placeholder] = match
			counter++

			return placeholder
		})
	}

	text = replace(text, n.urlPattern, urlPlaceholderPattern)
	text = replace(text, n.emailPattern, emailPlaceholderPattern)

	return text, placeholders
}

func restoreTokens(text string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		text = strings.ReplaceAll(text, placeholder, original)
	}

	return text
}

// removeRepeatedPunctuation keeps the first of a run of identical marks.
func removeRepeatedPunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
	)

	builder.Grow(len(text))

	for _, char := range text {
		if unicode.IsPunct(char) && char == last && char != '.' {
			continue
		}

		builder.WriteRune(char)
		last = char
	}

	return builder.String()
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch {
	case lastChar == '.' || lastChar == '!' || lastChar == '?':
		return text
	case lastChar == '。' || lastChar == '！' || lastChar == '？':
		return text
	case unicode.Is(unicode.Han, lastChar):
		return text + cjkStop
	case lastChar == ',' || lastChar == ';' || lastChar == ':':
		return strings.TrimRight(text, ",;:") + latinStop
	case unicode.IsPunct(lastChar):
		return text
	default:
		return text + latinStop
	}
}
