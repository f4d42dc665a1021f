package guardrail

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule is one compiled detection pattern.
type Rule struct {
	Category string
	Severity Severity
	Crisis   bool
	Pattern  *regexp.Regexp
}

// RuleSet is an immutable compiled pattern collection. Engines swap whole
// sets copy-on-write; a RuleSet is never mutated after construction.
type RuleSet struct {
	rules []Rule
}

// Match returns the highest-severity rule hit on text, ok=false when no
// rule matches.
func (rs *RuleSet) Match(text string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range rs.rules {
		if !r.Pattern.MatchString(text) {
			continue
		}
		if !found || r.Severity > best.Severity {
			best = r
			found = true
		}
	}
	return best, found
}

// Len reports the number of rules in the set.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// rulePackFile is the YAML schema for rule packs under the data dir.
type rulePackFile struct {
	Categories []struct {
		Name     string   `yaml:"name"`
		Severity string   `yaml:"severity"`
		Crisis   bool     `yaml:"crisis"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"categories"`
}

// LoadRulePack parses a YAML rule pack and compiles it on top of the
// built-in defaults.
func LoadRulePack(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("guardrail: read rule pack: %w", err)
	}
	return ParseRulePack(raw)
}

// ParseRulePack compiles rule pack YAML, appending to the defaults.
func ParseRulePack(raw []byte) (*RuleSet, error) {
	return ParseRulePacks(raw)
}

// ParseRulePacks compiles several rule pack files into one set on top of
// the built-in defaults. Packs are applied in argument order.
func ParseRulePacks(raws ...[]byte) (*RuleSet, error) {
	rules := append([]Rule(nil), defaultRules()...)
	for _, raw := range raws {
		var file rulePackFile
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("guardrail: parse rule pack: %w", err)
		}
		compiled, err := compileCategories(file)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiled...)
	}
	return &RuleSet{rules: rules}, nil
}

// compileCategories compiles one pack file's categories into rules.
func compileCategories(file rulePackFile) ([]Rule, error) {
	var rules []Rule
	for _, cat := range file.Categories {
		sev, err := parseSeverity(cat.Severity)
		if err != nil {
			return nil, fmt.Errorf("guardrail: category %q: %w", cat.Name, err)
		}
		for _, p := range cat.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("guardrail: category %q pattern %q: %w", cat.Name, p, err)
			}
			rules = append(rules, Rule{
				Category: cat.Name,
				Severity: sev,
				Crisis:   cat.Crisis,
				Pattern:  re,
			})
		}
	}
	return rules, nil
}

// DefaultRuleSet returns the built-in rules only.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{rules: defaultRules()}
}

func parseSeverity(s string) (Severity, error) {
	switch s {
	case "warn":
		return SeverityWarn, nil
	case "soft_block":
		return SeveritySoftBlock, nil
	case "hard_block":
		return SeverityHardBlock, nil
	default:
		return SeverityPass, fmt.Errorf("unknown severity %q", s)
	}
}

// defaultRules are the always-on input detectors. Rule packs extend, never
// replace, this baseline.
func defaultRules() []Rule {
	mk := func(category string, sev Severity, crisis bool, pattern string) Rule {
		return Rule{
			Category: category,
			Severity: sev,
			Crisis:   crisis,
			Pattern:  regexp.MustCompile("(?i)" + pattern),
		}
	}
	return []Rule{
		// Self-harm: crisis handling, never model-generated responses.
		mk("self_harm", SeverityHardBlock, true,
			`\b(kill(ing)? myself|end(ing)? my life|want to die|suicide|hurt(ing)? myself|self[- ]harm)\b`),

		// Illegal activity.
		mk("illegal_activity", SeveritySoftBlock, false,
			`\bhow (do i|to|can i) (make|build|cook|synthesi[sz]e) (a bomb|explosives|meth|napalm)\b`),
		mk("illegal_activity", SeveritySoftBlock, false,
			`\b(hotwire a car|pick a lock to break in|launder money|buy (a gun|drugs) illegally)\b`),

		// PII volunteered in the prompt: warn so the pipeline can append
		// safety context; redaction happens on the memory path.
		mk("pii_in_prompt", SeverityWarn, false,
			`\b\d{3}-\d{2}-\d{4}\b`),
		mk("pii_in_prompt", SeverityWarn, false,
			`\b(?:\d[ -]?){13,19}\b`),

		// Prompt injection: static patterns; the semantic detector covers
		// paraphrases.
		mk("prompt_injection", SeveritySoftBlock, false,
			`\b(ignore|disregard|forget) (all |your )?(previous|prior|earlier|above) (instructions|rules|prompts?)\b`),
		mk("prompt_injection", SeveritySoftBlock, false,
			`\byou are now (dan|in developer mode|unfiltered|jailbroken)\b`),
		mk("prompt_injection", SeveritySoftBlock, false,
			`\b(reveal|show|print|repeat) (your|the) (system prompt|hidden instructions|initial prompt)\b`),
		mk("prompt_injection", SeverityWarn, false,
			`\bpretend (you have no|there are no) (rules|restrictions|guidelines)\b`),
	}
}
