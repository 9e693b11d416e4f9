package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devpmagent/relay/internal/executor/agentcli"
	"github.com/devpmagent/relay/relay"
)

type fakeRunner struct {
	translateOutput string
	translateErr    error
	chatID          string
	createChatErr   error
	events          []agentcli.StreamEvent
	executeErr      error
}

func (f *fakeRunner) RunText(ctx context.Context, model, workspace, prompt string) (string, error) {
	return f.translateOutput, f.translateErr
}

func (f *fakeRunner) CreateChat(ctx context.Context) (string, error) {
	return f.chatID, f.createChatErr
}

func (f *fakeRunner) Execute(ctx context.Context, model, workspace, resumeID string, onEvent func(agentcli.StreamEvent)) (string, error) {
	for _, ev := range f.events {
		onEvent(ev)
	}
	return "", f.executeErr
}

type fakeUpdater struct {
	mu    sync.Mutex
	calls []relay.UpdateCommandRequest
}

func (f *fakeUpdater) UpdateCommand(ctx context.Context, id string, req relay.UpdateCommandRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return nil
}

func (f *fakeUpdater) last() relay.UpdateCommandRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func repoPathForTest() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/repos/x"
	}
	_ = home
	return "~/repos/x"
}

func TestRunFreeformSkipsTranslateAndEmitsDone(t *testing.T) {
	repo := repoPathForTest()
	job := relay.WsCommandNewPayload{ID: "cmd-1", Input: "do the thing", RepoPath: &repo}
	runner := &fakeRunner{chatID: "chat-1", events: []agentcli.StreamEvent{
		{Type: "result", Subtype: "final", Result: "all done"},
	}}
	upd := &fakeUpdater{}

	err := Run(context.Background(), job, upd, runner, "~/repos/default")
	require.NoError(t, err)

	last := upd.last()
	require.NotNil(t, last.Status)
	require.Equal(t, relay.StatusDone, *last.Status)
	require.Equal(t, "all done", *last.Output)
	require.Equal(t, "chat-1", *last.CursorChatID)
}

func TestRunFailsWhenRepoNotUnderRepos(t *testing.T) {
	repo := "/tmp/not-a-repo"
	job := relay.WsCommandNewPayload{ID: "cmd-2", Input: "x", RepoPath: &repo}
	runner := &fakeRunner{}
	upd := &fakeUpdater{}

	err := Run(context.Background(), job, upd, runner, "~/repos/default")
	require.NoError(t, err) // pipeline always resolves terminally, never bubbles up

	last := upd.last()
	require.Equal(t, relay.StatusFailed, *last.Status)
}

func TestRunTranslatesStructuredContextMode(t *testing.T) {
	repo := repoPathForTest()
	mode := "sprint"
	job := relay.WsCommandNewPayload{ID: "cmd-3", Input: "plan it", RepoPath: &repo, ContextMode: &mode}
	runner := &fakeRunner{
		translateOutput: `noise before {"cursor_prompt": "write SPRINT_PLAN.md"} noise after`,
		chatID:          "chat-2",
		events:          []agentcli.StreamEvent{{Type: "assistant", Subtype: "delta", Text: "ok"}},
	}
	upd := &fakeUpdater{}

	err := Run(context.Background(), job, upd, runner, "~/repos/default")
	require.NoError(t, err)

	last := upd.last()
	require.Equal(t, relay.StatusDone, *last.Status)
	require.Equal(t, "ok", *last.Output)
}

func TestRunReusesExistingChatIDWithoutCreateChat(t *testing.T) {
	repo := repoPathForTest()
	chatID := "existing-chat"
	job := relay.WsCommandNewPayload{ID: "cmd-4", Input: "continue", RepoPath: &repo, CursorChatID: &chatID}
	runner := &fakeRunner{createChatErr: fmt.Errorf("should not be called"), events: []agentcli.StreamEvent{
		{Type: "assistant", Subtype: "delta", Text: "continuing"},
	}}
	upd := &fakeUpdater{}

	err := Run(context.Background(), job, upd, runner, "~/repos/default")
	require.NoError(t, err)

	last := upd.last()
	require.Equal(t, chatID, *last.CursorChatID)
}

func TestRunFailsOnExecuteError(t *testing.T) {
	repo := repoPathForTest()
	job := relay.WsCommandNewPayload{ID: "cmd-5", Input: "x", RepoPath: &repo}
	runner := &fakeRunner{chatID: "chat-3", executeErr: fmt.Errorf("boom")}
	upd := &fakeUpdater{}

	err := Run(context.Background(), job, upd, runner, "~/repos/default")
	require.NoError(t, err)

	last := upd.last()
	require.Equal(t, relay.StatusFailed, *last.Status)
}
