package guardrail

import (
	"regexp"
	"strings"
)

// The output pass checks model-generated text before it reaches the caller.
// Detectors are ordered roughly by severity of what they catch; the pass
// still evaluates all of them and returns the maximum.

type outputRule struct {
	category string
	severity Severity
	pattern  *regexp.Regexp
	// tiers restricts the rule to specific policy tiers; empty = all.
	tiers []string
}

func mkOut(category string, sev Severity, pattern string, tiers ...string) outputRule {
	return outputRule{
		category: category,
		severity: sev,
		pattern:  regexp.MustCompile("(?i)" + pattern),
		tiers:    tiers,
	}
}

var outputRules = []outputRule{
	// Persona break / system prompt leak: the assistant must never expose
	// its own machinery.
	mkOut("persona_break", SeverityHardBlock,
		`\bas an? (ai|large language|language) model\b.*\b(i cannot|i can't|i am unable)\b`),
	mkOut("system_prompt_leak", SeverityHardBlock,
		`\b(my (system|initial) prompt (is|says|reads)|here is my system prompt)\b`),
	mkOut("jailbreak_echo", SeverityHardBlock,
		`\b(developer mode (enabled|activated)|i am now (dan|unfiltered|jailbroken))\b`),

	// Harmful instructions leaking through generation.
	mkOut("harmful_instructions", SeverityHardBlock,
		`\b(step \d+[:.].*\b(detonat|explosiv|synthesi[sz]e meth)|mix the following chemicals)\b`),

	// Explicit content: blocked everywhere, harder for minors via tier rules.
	mkOut("explicit_content", SeveritySoftBlock,
		`\b(explicit sexual|graphic sexual|pornographic)\b`),
	mkOut("age_tier_compliance", SeveritySoftBlock,
		`\b(gore|graphic violence|sexual|drugs and how to)\b`, tierStrict),
	mkOut("age_tier_compliance", SeverityWarn,
		`\b(graphic violence|gore)\b`, tierModerate),

	// PII leakage in output.
	mkOut("pii_leakage", SeveritySoftBlock,
		`\b\d{3}-\d{2}-\d{4}\b`),
	mkOut("pii_leakage", SeveritySoftBlock,
		`\b(?:\d[ -]?){13,19}\b`),
}

// Policy tiers mirrored locally so the output rules can reference them
// without importing the profile package (which would invert layering: the
// pipeline owns the profile → guardrail flow).
const (
	tierStrict   = "strict"
	tierModerate = "moderate"
	tierStandard = "standard"
)

// medicalLegalTrigger marks replies that give medical or legal direction.
var medicalLegalTrigger = regexp.MustCompile(
	`(?i)\b(you should (take|stop taking) \d+ ?mg|diagnos(is|ed)|you (definitely|certainly) have|legally you (must|cannot)|sue them|it is legal to)\b`)

// hedgeMarkers indicate the reply already carries the required hedging.
var hedgeMarkers = []string{
	"not a doctor", "not medical advice", "consult a", "talk to your doctor",
	"not a lawyer", "not legal advice", "professional advice",
}

// toneShiftTrigger catches abrupt hostility from the assistant.
var toneShiftTrigger = regexp.MustCompile(
	`(?i)\b(shut up|you('re| are) (stupid|an idiot|worthless)|i (hate|despise) you)\b`)

// evaluateOutput runs the output detectors on generated text for the given
// policy tier ("strict", "moderate", "standard").
func evaluateOutput(text, tier string) Verdict {
	verdict := Verdict{Severity: SeverityPass}

	raise := func(sev Severity, category, reason string) {
		if sev > verdict.Severity {
			verdict.Severity = sev
			verdict.Category = category
			verdict.Reason = reason
		}
	}

	for _, r := range outputRules {
		if len(r.tiers) > 0 && !containsString(r.tiers, tier) {
			continue
		}
		if r.pattern.MatchString(text) {
			raise(r.severity, r.category, "output matched "+r.category)
		}
	}

	// Medical/legal direction requires hedging; direction without a hedge
	// warns so the pipeline can append one.
	if medicalLegalTrigger.MatchString(text) && !hasHedge(text) {
		raise(SeverityWarn, "medical_legal_hedging", "directive medical/legal content without hedging")
	}

	if toneShiftTrigger.MatchString(text) {
		raise(SeveritySoftBlock, "tone_shift", "hostile tone in generated output")
	}

	return verdict
}

func hasHedge(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range hedgeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
