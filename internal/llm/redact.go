package llm

import (
	"regexp"
	"strings"
)

var (
	ssnPattern  = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern = regexp.MustCompile(`\b\d{4}(?:[ -]\d{4}){2}(?:[ -]\d{1,4})?\b`)
	longDigits  = regexp.MustCompile(`\b\d{9,}\b`)
)

// Redact masks SSN-shaped values and long digit runs that look like account
// or card numbers. The last four digits of an account are kept so statements
// remain distinguishable.
func Redact(text string) string {
	text = ssnPattern.ReplaceAllString(text, "[REDACTED-SSN]")
	text = cardPattern.ReplaceAllStringFunc(text, maskAccount)
	return longDigits.ReplaceAllStringFunc(text, maskAccount)
}

func maskAccount(match string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match)
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return "[REDACTED-ACCOUNT-" + digits + "]"
}
