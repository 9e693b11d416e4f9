package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/devpmagent/relay/relay"
)

func relayCommand(id, deviceID, input string, repoPath *string) relay.Command {
	return relay.Command{ID: id, DeviceID: deviceID, Input: input, RepoPath: repoPath}
}

func relayCommandWithChat(id, deviceID, input, chatID string) relay.Command {
	return relay.Command{ID: id, DeviceID: deviceID, Input: input, CursorChatID: &chatID}
}

func statusPtr(s string) *relay.CommandStatus {
	st := relay.CommandStatus(s)
	return &st
}

func strPtr(s string) *string { return &s }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayer.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations(filepath.Join(t.TempDir(), "does-not-exist")))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAdminExistsFalseInitially(t *testing.T) {
	s := newTestStore(t)
	exists, err := s.AdminExists(context.Background())
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSetupAdminAndAdminExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.SetupAdmin(ctx, uuid.NewString(), uuid.NewString(), "alice", "hashed-pw", "totp-secret", "hashed-key")
	require.NoError(t, err)

	exists, err := s.AdminExists(ctx)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDeviceCandidatesIncludesSetupDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID, deviceID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.SetupAdmin(ctx, adminID, deviceID, "alice", "hashed-pw", "totp-secret", "hashed-key"))

	candidates, err := s.DeviceCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, deviceID, candidates[0].ID)
	require.Equal(t, adminID, candidates[0].AdminID)
	require.Equal(t, "controller", string(candidates[0].Role))
}

func TestCreateCommandAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID, deviceID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.SetupAdmin(ctx, adminID, deviceID, "a", "h", "t", "k"))

	repo := "~/repos/foo"
	cmdID := uuid.NewString()
	require.NoError(t, s.CreateCommand(ctx, relayCommand(cmdID, deviceID, "hello world", &repo)))

	got, err := s.GetCommand(ctx, cmdID)
	require.NoError(t, err)
	require.Equal(t, "hello world", got.Input)
	require.Equal(t, "pending", string(got.Status))

	status := statusPtr("done")
	output := strPtr("output")
	ok, err := s.UpdateCommand(ctx, cmdID, status, output, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)

	got2, err := s.GetCommand(ctx, cmdID)
	require.NoError(t, err)
	require.Equal(t, "done", string(got2.Status))
	require.Equal(t, "output", *got2.Output)
}

func TestAddRepoAcceptsValidPathUnderRepos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID, deviceID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.SetupAdmin(ctx, adminID, deviceID, "a", "h", "t", "k"))

	_, err := s.AddRepo(ctx, uuid.NewString(), adminID, "~/repos/my-project", nil)
	require.NoError(t, err)

	repos, err := s.ListRepos(ctx, adminID)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	require.Equal(t, "~/repos/my-project", repos[0].Path)
}

func TestAddRepoRejectsPathNotUnderRepos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID, deviceID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.SetupAdmin(ctx, adminID, deviceID, "a", "h", "t", "k"))

	bad := []string{"/tmp/foo_repos_bar", "~/repos_backup", "/malicious/repos/../../../etc/passwd"}
	for _, p := range bad {
		_, err := s.AddRepo(ctx, uuid.NewString(), adminID, p, nil)
		require.Error(t, err, "path %q should be rejected", p)
	}
}

func TestReplaceReposSkipsInvalidPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID, deviceID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.SetupAdmin(ctx, adminID, deviceID, "a", "h", "t", "k"))

	paths := []string{"~/repos/valid-project", "/tmp/foo_repos_bar", "~/repos/another-valid"}
	require.NoError(t, s.ReplaceRepos(ctx, adminID, paths, uuid.NewString))

	repos, err := s.ListRepos(ctx, adminID)
	require.NoError(t, err)
	require.Len(t, repos, 2)
}

func TestListCommandsByCursorChatIDExcludesRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adminID, deviceID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.SetupAdmin(ctx, adminID, deviceID, "a", "h", "t", "k"))

	chatID := "chat-1"
	doneCmd := uuid.NewString()
	require.NoError(t, s.CreateCommand(ctx, relayCommandWithChat(doneCmd, deviceID, "first", chatID)))
	_, err := s.UpdateCommand(ctx, doneCmd, statusPtr("done"), strPtr("first-output"), nil, nil)
	require.NoError(t, err)

	runningCmd := uuid.NewString()
	require.NoError(t, s.CreateCommand(ctx, relayCommandWithChat(runningCmd, deviceID, "second", chatID)))
	_, err = s.UpdateCommand(ctx, runningCmd, statusPtr("running"), nil, nil, nil)
	require.NoError(t, err)

	turns, err := s.ListCommandsByCursorChatID(ctx, deviceID, chatID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "first", turns[0].Input)
}
