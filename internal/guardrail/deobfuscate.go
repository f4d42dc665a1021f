package guardrail

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
)

// Deobfuscation expands an input into the variant set detection runs on.
// The set always contains the original text; each transform that changes
// the text contributes one more variant. Transforms are applied to the
// original independently (not stacked) — stacked obfuscation is caught over
// successive turns by the drift monitor instead.

// base64Fragment matches standalone base64-looking runs long enough to
// carry a hidden instruction.
var base64Fragment = regexp.MustCompile(`[A-Za-z0-9+/]{16,}={0,2}`)

// zeroWidth strips the invisible code points used to split trigger words.
// Escaped forms: a literal U+FEFF is only legal at the start of a Go file.
var zeroWidth = strings.NewReplacer(
	"\u200b", "", // zero width space
	"\u200c", "", // zero width non-joiner
	"\u200d", "", // zero width joiner
	"\u2060", "", // word joiner
	"\ufeff", "", // BOM
)

// homoglyphs maps common Unicode look-alikes to their ASCII letter.
var homoglyphs = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', // Cyrillic
	'і': 'i', 'ѕ': 's', 'ԁ': 'd', 'ɡ': 'g',
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', // Greek caps
	'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T',
	'ο': 'o', 'ν': 'v', 'α': 'a', 'ρ': 'p',
	'０': '0', '１': '1', '２': '2', '３': '3', '４': '4', // fullwidth digits
	'５': '5', '６': '6', '７': '7', '８': '8', '９': '9',
}

// leetMap folds digit-for-letter substitutions.
var leetMap = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't', '8': 'b',
	'@': 'a', '$': 's', '!': 'i',
}

// Variants returns the deobfuscated forms of text, original first. The
// result never contains duplicates.
func Variants(text string) []string {
	out := []string{text}
	seen := map[string]bool{text: true}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	add(zeroWidth.Replace(text))
	add(foldHomoglyphs(text))
	add(foldLeet(text))
	add(rot13(text))
	for _, decoded := range decodeBase64Fragments(text) {
		add(decoded)
	}
	return out
}

// foldHomoglyphs maps Unicode look-alikes onto ASCII.
func foldHomoglyphs(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	changed := false
	for _, r := range text {
		if mapped, ok := homoglyphs[r]; ok {
			b.WriteRune(mapped)
			changed = true
		} else {
			b.WriteRune(r)
		}
	}
	if !changed {
		return ""
	}
	return b.String()
}

// foldLeet lowercases and replaces leetspeak substitutions. Runs of pure
// digits are left alone so "call 911" is not rewritten.
func foldLeet(text string) string {
	words := strings.Fields(text)
	changed := false
	for i, w := range words {
		if isAllDigits(w) {
			continue
		}
		var b strings.Builder
		wordChanged := false
		for _, r := range strings.ToLower(w) {
			if mapped, ok := leetMap[r]; ok {
				b.WriteRune(mapped)
				wordChanged = true
			} else {
				b.WriteRune(r)
			}
		}
		if wordChanged {
			words[i] = b.String()
			changed = true
		}
	}
	if !changed {
		return ""
	}
	return strings.Join(words, " ")
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// rot13 applies the classic rotation to ASCII letters.
func rot13(text string) string {
	hasLetter := false
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			hasLetter = true
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			hasLetter = true
			return 'A' + (r-'A'+13)%26
		default:
			return r
		}
	}, text)
	if !hasLetter {
		return ""
	}
	return mapped
}

// decodeBase64Fragments decodes embedded base64 runs that yield printable
// ASCII; garbage decodes are discarded.
func decodeBase64Fragments(text string) []string {
	var out []string
	for _, frag := range base64Fragment.FindAllString(text, 4) {
		decoded, err := base64.StdEncoding.DecodeString(frag)
		if err != nil {
			if decoded, err = base64.RawStdEncoding.DecodeString(frag); err != nil {
				continue
			}
		}
		if isPrintableASCII(decoded) {
			out = append(out, string(decoded))
		}
	}
	return out
}

func isPrintableASCII(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c != '\n' && c != '\t' && (c < 0x20 || c > 0x7e) {
			return false
		}
	}
	return true
}
