// Package pipeline implements the executor's per-command lifecycle:
// translate, resolve or create a chat session, execute the agent in
// streaming mode with throttled progress updates, and summarize.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devpmagent/relay/internal/executor/agentcli"
	"github.com/devpmagent/relay/relay"
)

// Updater PATCHes a command's state back to the relayer. Implemented by
// the executor's relay client over HTTP.
type Updater interface {
	UpdateCommand(ctx context.Context, id string, req relay.UpdateCommandRequest) error
}

// AgentRunner is the subset of agentcli.Runner the pipeline drives.
// Declared here so tests can substitute a fake without spawning a real
// subprocess.
type AgentRunner interface {
	RunText(ctx context.Context, model, workspace, prompt string) (string, error)
	CreateChat(ctx context.Context) (string, error)
	Execute(ctx context.Context, model, workspace, resumeID string, onEvent func(agentcli.StreamEvent)) (stderrText string, err error)
}

const summaryTruncateLimit = 2000

// Run drives job through the full pipeline, PATCHing progress and a
// terminal status. It never returns an error for an agent-side failure
// — those are reported as a failed command PATCH — only for a failure
// to reach the relayer at all gets propagated to the caller's log.
func Run(ctx context.Context, job relay.WsCommandNewPayload, upd Updater, runner AgentRunner, defaultRepo string) error {
	log := logrus.WithField("command_id", job.ID)

	repoPath := defaultRepo
	if job.RepoPath != nil && *job.RepoPath != "" {
		repoPath = *job.RepoPath
	}
	expandedRepo, err := expandRepoPath(repoPath)
	if err != nil || !strings.Contains(expandedRepo, "repos") {
		return terminalFail(ctx, upd, job.ID, fmt.Errorf("repo path must resolve under a repos directory: %s", repoPath))
	}

	running := relay.StatusRunning
	if err := upd.UpdateCommand(ctx, job.ID, relay.UpdateCommandRequest{Status: &running}); err != nil {
		log.WithError(err).Warn("pipeline: failed to PATCH running status")
	}

	cursorPrompt := job.Input
	if job.ContextMode != nil && *job.ContextMode != "" {
		prompt := buildTranslatorPrompt(*job.ContextMode, chatHistoryToPrompts(job.ChatHistory), job.Input)
		translatorModel := modelOrDefault(job.TranslatorModel)
		raw, err := runner.RunText(ctx, translatorModel, expandedRepo, prompt)
		if err != nil {
			return terminalFail(ctx, upd, job.ID, fmt.Errorf("translate phase: %w", err))
		}
		parsed, err := extractCursorPrompt(raw)
		if err != nil {
			return terminalFail(ctx, upd, job.ID, fmt.Errorf("translate phase: %w", err))
		}
		cursorPrompt = parsed
	}

	chatID := ""
	resumingExisting := false
	if job.CursorChatID != nil && *job.CursorChatID != "" {
		chatID = *job.CursorChatID
		resumingExisting = true
	} else {
		id, err := runner.CreateChat(ctx)
		if err != nil {
			return terminalFail(ctx, upd, job.ID, fmt.Errorf("create chat: %w", err))
		}
		chatID = id
	}
	_ = resumingExisting

	workloadModel := modelOrDefault(job.WorkloadModel)
	acc := &accumulator{}
	th := &throttle{}
	onEvent := func(ev agentcli.StreamEvent) {
		acc.apply(ev)
		if !th.allow(time.Now()) {
			return
		}
		display := acc.display()
		if err := upd.UpdateCommand(ctx, job.ID, relay.UpdateCommandRequest{
			Status: &running,
			Output: &display,
		}); err != nil {
			log.WithError(err).Debug("pipeline: progress PATCH dropped")
		}
	}

	stderr, execErr := runner.Execute(ctx, workloadModel, expandedRepo, chatID, onEvent)
	if execErr != nil {
		return terminalFail(ctx, upd, job.ID, fmt.Errorf("execute phase: %s", strings.TrimSpace(stderr)))
	}

	finalOutput := acc.finalOutput()

	summary := summarize(ctx, runner, workloadModel, finalOutput)

	done := relay.StatusDone
	if err := upd.UpdateCommand(ctx, job.ID, relay.UpdateCommandRequest{
		Status:       &done,
		Output:       &finalOutput,
		Summary:      &summary,
		CursorChatID: &chatID,
	}); err != nil {
		return fmt.Errorf("pipeline: terminal PATCH failed: %w", err)
	}
	return nil
}

// summarize runs the summarization phase; failures are non-fatal per
// spec §4.8 step 8.
func summarize(ctx context.Context, runner AgentRunner, model, output string) string {
	truncated := output
	if len(truncated) > summaryTruncateLimit {
		truncated = truncated[:summaryTruncateLimit]
	}
	prompt := fmt.Sprintf(
		"Summarize the following execution output. Respond with a short topic "+
			"title line followed by 3-5 \"-\" bullets. Keep the total under 700 "+
			"characters.\n\n%s", truncated)
	summary, err := runner.RunText(ctx, model, "", prompt)
	if err != nil {
		return "Summary unavailable"
	}
	return summary
}

// terminalFail PATCHes a failed command and returns nil: the pipeline
// always resolves terminally, so a failure inside a phase is not itself
// an error the caller need act on.
func terminalFail(ctx context.Context, upd Updater, id string, cause error) error {
	failed := relay.StatusFailed
	output := fmt.Sprintf("Error: %s", cause)
	empty := ""
	if err := upd.UpdateCommand(ctx, id, relay.UpdateCommandRequest{
		Status:  &failed,
		Output:  &output,
		Summary: &empty,
	}); err != nil {
		return fmt.Errorf("pipeline: failed-terminal PATCH failed: %w", err)
	}
	return nil
}

// expandRepoPath expands a leading ~ against the process's home
// directory; the relayer stores paths unexpanded precisely so the
// executor can do this with its own HOME.
func expandRepoPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand repo path: %w", err)
	}
	return home + strings.TrimPrefix(path, "~"), nil
}

// extractCursorPrompt pulls the first {...} substring out of raw model
// output and reads its cursor_prompt field.
func extractCursorPrompt(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in translator output")
	}
	var payload struct {
		CursorPrompt string `json:"cursor_prompt"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return "", fmt.Errorf("parse translator output: %w", err)
	}
	if payload.CursorPrompt == "" {
		return "", fmt.Errorf("translator output missing cursor_prompt")
	}
	return payload.CursorPrompt, nil
}

func chatHistoryToPrompts(history []relay.ChatTurn) []chatTurnPrompt {
	out := make([]chatTurnPrompt, len(history))
	for i, t := range history {
		out[i] = chatTurnPrompt{Input: t.Input}
		if t.Output != nil {
			out[i].Output = *t.Output
		}
	}
	return out
}

func modelOrDefault(m *string) string {
	if m == nil {
		return ""
	}
	return *m
}
