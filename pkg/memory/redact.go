package memory

import "regexp"

// Redactor strips personally identifying substrings from text before it is
// persisted. Redaction runs ahead of classification and embedding on the COLD
// path so raw PII never reaches the index.
//
// Redaction is idempotent: replacement tokens do not themselves match any
// pattern, so redacting already-redacted text is a no-op.
type Redactor struct {
	rules []redactRule
}

type redactRule struct {
	category string
	re       *regexp.Regexp
	token    string
}

// NewRedactor builds a Redactor with the default rule set: email addresses,
// phone numbers, credit-card-shaped digit runs, and government ID patterns.
func NewRedactor() *Redactor {
	return &Redactor{rules: []redactRule{
		{
			category: "email",
			re:       regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			token:    "[email]",
		},
		{
			// Card numbers before phone numbers: 16-digit runs would otherwise
			// be chewed up as phone fragments.
			category: "card",
			re:       regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`),
			token:    "[card]",
		},
		{
			category: "ssn",
			re:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			token:    "[ssn]",
		},
		{
			category: "phone",
			re:       regexp.MustCompile(`(?:\+\d{1,3}[ \-]?)?(?:\(\d{2,4}\)[ \-]?)?\d{3}[ \-]?\d{3,4}[ \-]?\d{3,4}\b`),
			token:    "[phone]",
		},
	}}
}

// Redact returns text with all PII matches replaced by category tokens, plus
// the list of categories that matched (each at most once, in rule order).
func (r *Redactor) Redact(text string) (string, []string) {
	var categories []string
	for _, rule := range r.rules {
		if !rule.re.MatchString(text) {
			continue
		}
		text = rule.re.ReplaceAllString(text, rule.token)
		categories = append(categories, rule.category)
	}
	return text, categories
}
