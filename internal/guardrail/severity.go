// Package guardrail implements the input and output safety passes, the
// conversation drift monitor, and the adaptive jailbreak learner.
//
// Both passes map text to a severity on the lattice
//
//	pass < warn < soft_block < hard_block
//
// and the pipeline acts on the maximum severity across detectors. Guardrail
// internals fail closed: an internal error is reported as soft_block rather
// than letting the turn through unchecked.
package guardrail

// Severity is a guardrail verdict. The zero value is SeverityPass.
type Severity int

const (
	SeverityPass Severity = iota
	SeverityWarn
	SeveritySoftBlock
	SeverityHardBlock
)

// String returns the wire form used in events and admin surfaces.
func (s Severity) String() string {
	switch s {
	case SeverityPass:
		return "pass"
	case SeverityWarn:
		return "warn"
	case SeveritySoftBlock:
		return "soft_block"
	case SeverityHardBlock:
		return "hard_block"
	default:
		return "unknown"
	}
}

// Max returns the higher of two severities.
func Max(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// Verdict is the outcome of a guardrail pass.
type Verdict struct {
	// Severity is the maximum severity across all detectors and variants.
	Severity Severity

	// Category names the detector that produced the maximum severity
	// (e.g. "self_harm", "prompt_injection").
	Category string

	// Reason is a short operator-facing explanation.
	Reason string

	// Crisis marks a self-harm hard match; the response must be the
	// pre-written empathetic text, never model output.
	Crisis bool

	// Variant is the deobfuscated form that triggered, when it differs
	// from the original input.
	Variant string
}
