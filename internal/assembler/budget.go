package assembler

import (
	"strings"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// Input is everything Assemble needs for one prompt.
type Input struct {
	SessionID string

	// System is the system + safety region (fixed, never dropped).
	System string

	// ProfileSnapshot is the profile + spatial region (fixed).
	ProfileSnapshot string

	// Memory holds retrieved memory snippets, highest relevance first.
	Memory []string

	// Current is the user's message for this turn (fixed, never dropped).
	Current types.Message

	// Thinking selects the larger generation reserve.
	Thinking bool
}

// Prompt is the assembled, budget-fitted request.
type Prompt struct {
	// SystemPrompt carries the fixed regions plus the memory and
	// checkpoint sections.
	SystemPrompt string

	// Messages is the active conversation window ending with the current
	// message.
	Messages []types.Message

	Report Report
}

// Report is the per-region token accounting for one assembly.
type Report struct {
	ContextTokens int
	Reserve       int

	SystemTokens     int
	ProfileTokens    int
	MemoryTokens     int
	CheckpointTokens int
	ActiveTokens     int
	CurrentTokens    int

	// MemorySnippetsDropped and TurnsDropped count what the budget forced
	// out of this prompt.
	MemorySnippetsDropped int
	TurnsDropped          int

	// Degraded is set when even the fixed regions plus the reserve exceed
	// the context window.
	Degraded bool
}

// Used is the total prompt token estimate.
func (r Report) Used() int {
	return r.SystemTokens + r.ProfileTokens + r.MemoryTokens +
		r.CheckpointTokens + r.ActiveTokens + r.CurrentTokens
}

// Assemble builds the prompt for one turn. Regions fill in stable order:
// system+safety, profile+spatial, memory (≤20% of free, cap 800),
// checkpoints (what remains after active), active turns (≤60% of free,
// cap 3000), current message. When the budget starves, memory is dropped
// first, then the oldest active turns; the system region and the current
// message are never dropped.
func (a *Assembler) Assemble(sessionID string, in Input) *Prompt {
	a.mu.Lock()
	w := a.session(sessionID)
	turns := append([]types.Message(nil), w.turns...)
	checkpoints := append([]Checkpoint(nil), w.checkpoints...)
	a.mu.Unlock()

	report := Report{
		ContextTokens: a.contextTokens,
		Reserve:       ReserveStandard,
		SystemTokens:  estimateText(in.System),
		ProfileTokens: estimateText(in.ProfileSnapshot),
		CurrentTokens: estimateTokens(in.Current),
	}
	if in.Thinking {
		report.Reserve = ReserveThinking
	}

	free := a.contextTokens - report.Reserve -
		report.SystemTokens - report.ProfileTokens - report.CurrentTokens
	if free < 0 {
		free = 0
		report.Degraded = true
	}

	// Memory region.
	memBudget := min(int(float64(free)*memoryShare), memoryCap)
	var memLines []string
	for _, snippet := range in.Memory {
		cost := estimateText(snippet)
		if report.MemoryTokens+cost > memBudget {
			report.MemorySnippetsDropped++
			continue
		}
		memLines = append(memLines, snippet)
		report.MemoryTokens += cost
	}

	// Active turns: newest backwards until the budget is spent.
	activeBudget := min(int(float64(free)*activeShare), activeCap)
	firstKept := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := estimateTokens(turns[i])
		if report.ActiveTokens+cost > activeBudget {
			break
		}
		report.ActiveTokens += cost
		firstKept = i
	}
	report.TurnsDropped = firstKept
	kept := turns[firstKept:]

	// Checkpoints take what remains, oldest first.
	cpBudget := free - report.MemoryTokens - report.ActiveTokens
	var cpLines []string
	for _, cp := range checkpoints {
		line := cp.PromptLine()
		cost := estimateText(line)
		if report.CheckpointTokens+cost > cpBudget {
			break
		}
		cpLines = append(cpLines, line)
		report.CheckpointTokens += cost
	}

	var sb strings.Builder
	sb.WriteString(in.System)
	if in.ProfileSnapshot != "" {
		sb.WriteString("\n\n")
		sb.WriteString(in.ProfileSnapshot)
	}
	if len(memLines) > 0 {
		sb.WriteString("\n\nRelevant memories:\n")
		for _, l := range memLines {
			sb.WriteString("- ")
			sb.WriteString(l)
			sb.WriteString("\n")
		}
	}
	if len(cpLines) > 0 {
		sb.WriteString("\nEarlier in this conversation:\n")
		for _, l := range cpLines {
			sb.WriteString("- ")
			sb.WriteString(l)
			sb.WriteString("\n")
		}
	}

	messages := make([]types.Message, 0, len(kept)+1)
	messages = append(messages, kept...)
	messages = append(messages, in.Current)

	return &Prompt{
		SystemPrompt: sb.String(),
		Messages:     messages,
		Report:       report,
	}
}

// PromptLine renders a checkpoint as one context line.
func (cp Checkpoint) PromptLine() string {
	var b strings.Builder
	b.WriteString(cp.Summary)
	if len(cp.Decisions) > 0 {
		b.WriteString(" Decisions: ")
		b.WriteString(strings.Join(cp.Decisions, "; "))
		b.WriteString(".")
	}
	if len(cp.OpenQuestions) > 0 {
		b.WriteString(" Open: ")
		b.WriteString(strings.Join(cp.OpenQuestions, "; "))
		b.WriteString(".")
	}
	return b.String()
}
