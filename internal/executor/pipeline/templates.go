package pipeline

import (
	"fmt"
	"strings"
)

// contextModePrefaces maps a command's context mode to the translator's
// framing preface: where the template's artefact lives, its naming
// convention, and the review/execute discipline expected of the agent.
var contextModePrefaces = map[string]string{
	"sprint": "You are drafting a sprint plan. Write the plan to a root-level " +
		"file named SPRINT_PLAN.md. Enumerate numbered tasks with owners and " +
		"acceptance criteria; do not begin implementation in this turn.",
	"security_review": "You are performing a security review. Write findings to " +
		"a root-level file named SECURITY_REVIEW.md, one section per finding, " +
		"severity-ordered. Do not modify source files; this is a read-only pass.",
	"monorepo_init": "You are scaffolding a new package inside a monorepo. Each " +
		"package gets its own README.md under its package directory, not at " +
		"the repo root. Follow the existing package layout conventions.",
	"gap_analysis": "You are producing a gap analysis. Write it to a root-level " +
		"file named GAP_ANALYSIS.md comparing current behavior against the " +
		"stated requirement, one gap per bullet.",
	"feature_plan": "You are drafting an implementation plan for a feature. " +
		"Write it to a root-level file named FEATURE_PLAN.md: summary, " +
		"affected files, step-by-step approach, test plan. Do not implement yet.",
	"commit": "You are preparing a commit. Stage the relevant changes and write " +
		"a commit message following the repository's existing commit message " +
		"conventions; do not invent a new convention.",
}

// buildTranslatorPrompt assembles the translate-phase prompt: a
// context-mode preface, an optional prior-conversation block, and the
// escaped user input, ending with an instruction to respond with a JSON
// object carrying a single cursor_prompt string field.
func buildTranslatorPrompt(contextMode string, history []chatTurnPrompt, input string) string {
	preface, ok := contextModePrefaces[contextMode]
	if !ok {
		preface = fmt.Sprintf("You are operating in %q mode.", contextMode)
	}

	var sb strings.Builder
	writeLine(&sb, preface)
	writeLine(&sb, "")

	if len(history) > 0 {
		writeLine(&sb, "Prior conversation:")
		for _, turn := range history {
			writeLine(&sb, "User: "+turn.Input)
			if turn.Output != "" {
				writeLine(&sb, "Assistant: "+turn.Output)
			}
		}
		writeLine(&sb, "")
	}

	writeLine(&sb, fmt.Sprintf("User request: \"%s\"", escapeQuotes(input)))
	writeLine(&sb, "")
	writeLine(&sb, `Respond with a single JSON object of the form {"cursor_prompt": "<the rewritten instruction to execute>"} and nothing else.`)
	return sb.String()
}

func writeLine(sb *strings.Builder, s string) {
	sb.WriteString(s)
	sb.WriteByte('\n')
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '\\', '"')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

type chatTurnPrompt struct {
	Input  string
	Output string
}
