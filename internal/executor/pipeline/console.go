package pipeline

import (
	"fmt"
	"strings"

	"github.com/devpmagent/relay/internal/executor/agentcli"
)

const consolePreviewLimit = 2000

// accumulator tracks the four running sections of an execute-phase
// stream: thinking, response, console, and the final result override.
type accumulator struct {
	thinking   strings.Builder
	response   string
	console    strings.Builder
	fullResult string
}

// apply folds one stream event into the accumulator per spec §4.8 step 5.
func (a *accumulator) apply(ev agentcli.StreamEvent) {
	switch ev.Type {
	case "thinking":
		if ev.Subtype == "delta" {
			a.thinking.WriteString(ev.Text)
		}
	case "assistant":
		if ev.Subtype == "delta" {
			a.response += ev.Text
		} else {
			a.response = ev.Text
		}
	case "tool_call":
		switch ev.Subtype {
		case "started":
			a.console.WriteString(consoleStartLine(ev) + "\n")
		case "completed":
			a.console.WriteString(consoleCompleteLine(ev) + "\n")
		}
	case "result":
		if ev.Result != "" {
			a.fullResult = ev.Result
		}
	}
}

// display rebuilds the composite progress string from nonempty sections.
func (a *accumulator) display() string {
	var parts []string
	if a.thinking.Len() > 0 {
		parts = append(parts, "[Thinking]\n"+a.thinking.String())
	}
	if a.console.Len() > 0 {
		parts = append(parts, "[Console]\n"+a.console.String())
	}
	if a.response != "" {
		parts = append(parts, "[Response]\n"+a.response)
	}
	return strings.Join(parts, "\n\n")
}

// finalOutput computes the terminal output once the subprocess exits
// cleanly, preferring the result event over the accumulated response.
func (a *accumulator) finalOutput() string {
	if a.fullResult != "" {
		return a.fullResult
	}
	if a.thinking.Len() > 0 {
		return fmt.Sprintf("[Thinking]\n%s\n\n[Response]\n%s", a.thinking.String(), a.response)
	}
	return a.response
}

// consoleStartLine renders a one-line human summary for a started tool
// call, keyed by the tool name.
func consoleStartLine(ev agentcli.StreamEvent) string {
	switch ev.Tool {
	case "bash", "runCommand", "terminal":
		return "$ " + stringArg(ev.Args, "command", "cmd") + " ..."
	case "ls", "listDir":
		return "ls " + stringArg(ev.Args, "path", "dir") + " ..."
	case "read", "readFile":
		return "cat " + stringArg(ev.Args, "path", "file") + " ..."
	case "write", "writeFile", "editFile", "edit":
		return "write " + stringArg(ev.Args, "path", "file") + " ..."
	case "grep", "search":
		return "grep " + stringArg(ev.Args, "pattern", "query") + " ..."
	default:
		return "[" + ev.Tool + "] ..."
	}
}

// consoleCompleteLine renders the outcome of a completed tool call:
// an error, a capped output preview, or a bare success mark.
func consoleCompleteLine(ev agentcli.StreamEvent) string {
	if ev.Error != "" {
		return "✗ " + ev.Error
	}
	preview := ev.Stdout
	if preview == "" {
		preview = ev.Output
	}
	if preview != "" {
		if len(preview) > consolePreviewLimit {
			preview = preview[:consolePreviewLimit] + "... (truncated)"
		}
		return preview
	}
	if ev.Success != nil {
		return "✓"
	}
	return ""
}

func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
