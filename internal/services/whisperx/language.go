package whisperx

import (
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLanguage reduces a BCP 47 tag or ISO 639 code ("en-US", "eng") to
// the two-letter code WhisperX expects. It returns "" when the value cannot be
// parsed.
func NormalizeLanguage(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	tag, err := language.Parse(value)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}
