// Package agentcli wraps the coding-agent subprocess contract: a binary
// named "agent" invoked fresh for each pipeline phase, never as a
// persistent bidirectional stream. See spec §6 for the exact flag
// surface this package assumes.
package agentcli

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner invokes the agent binary. BinPath defaults to "agent" (resolved
// via PATH) when empty.
type Runner struct {
	BinPath string
}

func (r Runner) bin() string {
	if r.BinPath == "" {
		return "agent"
	}
	return r.BinPath
}

// RunText invokes the agent once in text mode: `-p --model <model>
// --output-format text --force <prompt>`, optionally scoped to a
// workspace. Used by the translate and summarize phases.
func (r Runner) RunText(ctx context.Context, model, workspace, prompt string) (string, error) {
	args := []string{"-p", "--model", model, "--output-format", "text", "--force"}
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, r.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("agentcli: run text: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CreateChat invokes `agent create-chat`, returning the new chat id
// captured from stdout. Empty output is treated as an error.
func (r Runner) CreateChat(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.bin(), "create-chat")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("agentcli: create-chat: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", fmt.Errorf("agentcli: create-chat returned empty id")
	}
	return id, nil
}

// Models invokes `agent models` and parses one model id per line, taking
// the text before the first " - " separator.
func (r Runner) Models(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, r.bin(), "models")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agentcli: models: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var out []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, _, _ := strings.Cut(line, " - ")
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}
