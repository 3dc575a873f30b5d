package enrollment

import "strings"

const (
	languageEnglish = "en"
	languageChinese = "zh"
)

// ResolveLanguage picks the language hint for a recording. An explicit
// choice wins; otherwise a transcript containing any ASCII letter is taken
// as English and any other transcript as Chinese. Without either, fallback
// is used.
func ResolveLanguage(explicit, transcript, fallback string) string {
	if lang := strings.TrimSpace(explicit); lang != "" {
		return lang
	}

	if strings.TrimSpace(transcript) == "" {
		return fallback
	}

	if strings.IndexFunc(transcript, isASCIILetter) >= 0 {
		return languageEnglish
	}

	return languageChinese
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
