package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/devpmagent/relay/internal/relayserver/config"
	"github.com/devpmagent/relay/internal/relayserver/hub"
	"github.com/devpmagent/relay/internal/relayserver/store"
	"github.com/devpmagent/relay/relay"
)

const testExecutorKey = "executor-test-key"

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "relayer.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.RunMigrations(filepath.Join(t.TempDir(), "nonexistent")))

	cfg := config.Config{
		JWTSecret:                 "test-jwt-secret",
		JWTTTL:                    time.Hour,
		JWTRefreshGrace:           24 * time.Hour,
		ExecutorAPIKey:            testExecutorKey,
		DeviceRegistrationCodeTTL: 10 * time.Minute,
		PasswordSalt:              "test-salt",
		CORSAllowedOrigins:        []string{"*"},
	}

	h := hub.New()
	idCounter := 0
	newID := func() string {
		idCounter++
		return "id-" + strconv.Itoa(idCounter)
	}

	srv := NewServer(st, h, cfg, newID)
	router, err := srv.Router()
	require.NoError(t, err)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, srv
}

func doJSON(t *testing.T, method, url, bearer string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	if out != nil {
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// setupAdmin drives bootstrap -> setup and returns the admin's device
// key, password, and TOTP secret for use by subsequent login calls.
func setupAdmin(t *testing.T, ts *httptest.Server) (deviceKey, password, totpSecret string) {
	t.Helper()
	var bootstrapResp relay.BootstrapDeviceResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/bootstrap-device", testExecutorKey, nil, &bootstrapResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	password = "correct horse battery staple"
	var setupResp relay.SetupResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/setup", "", relay.SetupRequest{
		BootstrapKey: bootstrapResp.DeviceAPIKey,
		Username:     "admin",
		Password:     password,
	}, &setupResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return bootstrapResp.DeviceAPIKey, password, setupResp.TOTPSecret
}

func loginDevice(t *testing.T, ts *httptest.Server, deviceKey, password, totpSecret string) string {
	t.Helper()
	code, err := totp.GenerateCode(totpSecret, time.Now())
	require.NoError(t, err)

	var loginResp relay.LoginResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", relay.LoginRequest{
		DeviceAPIKey: deviceKey,
		Password:     password,
		TOTPCode:     code,
	}, &loginResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

func TestBootstrapSetupLoginFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)
	require.NotEmpty(t, token)
}

func TestBootstrapDeviceForbiddenAfterAdminExists(t *testing.T) {
	ts, _ := newTestServer(t)
	setupAdmin(t, ts)

	var resp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/bootstrap-device", testExecutorKey, nil, &resp)
	require.Equal(t, http.StatusForbidden, httpResp.StatusCode)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, _, totpSecret := setupAdmin(t, ts)
	code, err := totp.GenerateCode(totpSecret, time.Now())
	require.NoError(t, err)

	var resp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", relay.LoginRequest{
		DeviceAPIKey: deviceKey,
		Password:     "wrong password",
		TOTPCode:     code,
	}, &resp)
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
}

func TestLoginRejectsUnknownDeviceKey(t *testing.T) {
	ts, _ := newTestServer(t)
	setupAdmin(t, ts)

	var resp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", relay.LoginRequest{
		DeviceAPIKey: "not-a-real-key",
		Password:     "whatever",
		TOTPCode:     "000000",
	}, &resp)
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
}

func TestRefreshMintsFreshToken(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var refreshResp relay.RefreshResponse
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/refresh", "", relay.RefreshRequest{Token: token}, &refreshResp)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.NotEmpty(t, refreshResp.Token)
}

func TestReserveCodeRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)
	var resp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/devices/reserve-code", "", nil, &resp)
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
}

func TestRegisterDeviceFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var reserveResp relay.ReserveCodeResponse
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/devices/reserve-code", token, nil, &reserveResp)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.NotEmpty(t, reserveResp.Code)

	var registerResp relay.RegisterDeviceResponse
	httpResp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/register-device", testExecutorKey, relay.RegisterDeviceRequest{
		Code:     reserveResp.Code,
		Password: password,
	}, &registerResp)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.NotEmpty(t, registerResp.DeviceAPIKey)
	require.NotEmpty(t, registerResp.TOTPSecret)
}

func TestRegisterDeviceWrongPasswordDoesNotConsumeCode(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var reserveResp relay.ReserveCodeResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/devices/reserve-code", token, nil, &reserveResp)

	var errResp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register-device", testExecutorKey, relay.RegisterDeviceRequest{
		Code:     reserveResp.Code,
		Password: "totally wrong",
	}, &errResp)
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)

	// the code must still be live: a correct-password retry now succeeds.
	var registerResp relay.RegisterDeviceResponse
	httpResp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/register-device", testExecutorKey, relay.RegisterDeviceRequest{
		Code:     reserveResp.Code,
		Password: password,
	}, &registerResp)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.NotEmpty(t, registerResp.DeviceAPIKey)
}

func TestRegisterDeviceRequiresExecutorKey(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var reserveResp relay.ReserveCodeResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/devices/reserve-code", token, nil, &reserveResp)

	var errResp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register-device", token, relay.RegisterDeviceRequest{
		Code:     reserveResp.Code,
		Password: password,
	}, &errResp)
	require.Equal(t, http.StatusForbidden, httpResp.StatusCode)
}

func TestCommandCreateListGetCancel(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var created relay.CommandResponse
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/commands", token, relay.CreateCommandRequest{
		Input: "do the thing",
	}, &created)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, relay.StatusPending, created.Status)
	require.NotEmpty(t, created.ID)

	var list []relay.CommandResponse
	httpResp = doJSON(t, http.MethodGet, ts.URL+"/api/commands", token, nil, &list)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Len(t, list, 1)

	var fetched relay.CommandResponse
	httpResp = doJSON(t, http.MethodGet, ts.URL+"/api/commands/"+created.ID, token, nil, &fetched)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, created.ID, fetched.ID)

	var cancelled relay.CommandResponse
	httpResp = doJSON(t, http.MethodPost, ts.URL+"/api/commands/"+created.ID+"/cancel", token, nil, &cancelled)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, relay.StatusCancelled, cancelled.Status)
}

func TestCommandCancelRejectsAlreadyTerminal(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var created relay.CommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/commands", token, relay.CreateCommandRequest{Input: "x"}, &created)

	var cancelled relay.CommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/commands/"+created.ID+"/cancel", token, nil, &cancelled)
	require.Equal(t, relay.StatusCancelled, cancelled.Status)

	var errResp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/commands/"+created.ID+"/cancel", token, nil, &errResp)
	require.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
}

func TestExecutorOnlyUpdateCommandRejectsControllerToken(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var created relay.CommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/commands", token, relay.CreateCommandRequest{Input: "x"}, &created)

	running := relay.StatusRunning
	var errResp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPatch, ts.URL+"/api/commands/"+created.ID, token, relay.UpdateCommandRequest{
		Status: &running,
	}, &errResp)
	require.Equal(t, http.StatusForbidden, httpResp.StatusCode)
}

func TestExecutorCanUpdateCommand(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var created relay.CommandResponse
	doJSON(t, http.MethodPost, ts.URL+"/api/commands", token, relay.CreateCommandRequest{Input: "x"}, &created)

	running := relay.StatusRunning
	output := "working..."
	var updated relay.CommandResponse
	httpResp := doJSON(t, http.MethodPatch, ts.URL+"/api/commands/"+created.ID, testExecutorKey, relay.UpdateCommandRequest{
		Status: &running,
		Output: &output,
	}, &updated)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, relay.StatusRunning, updated.Status)
	require.Equal(t, "working...", *updated.Output)
}

func TestRepoAddListAndExecutorSync(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var added relay.RepoResponse
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/repos", token, relay.AddRepoRequest{Path: "~/repos/demo"}, &added)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, "~/repos/demo", added.Path)

	var list []relay.RepoResponse
	httpResp = doJSON(t, http.MethodGet, ts.URL+"/api/repos", token, nil, &list)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Len(t, list, 1)

	var synced []relay.RepoResponse
	httpResp = doJSON(t, http.MethodPost, ts.URL+"/api/repos/sync", testExecutorKey, relay.SyncReposRequest{
		Paths: []string{"~/repos/a", "~/repos/b"},
	}, &synced)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Len(t, synced, 2)
}

func TestRepoSyncRequiresExecutorKey(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var errResp relay.ErrorBody
	httpResp := doJSON(t, http.MethodPost, ts.URL+"/api/repos/sync", token, relay.SyncReposRequest{Paths: []string{"~/repos/a"}}, &errResp)
	require.Equal(t, http.StatusForbidden, httpResp.StatusCode)
}

func TestModelsGetSet(t *testing.T) {
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	var empty relay.ModelsResponse
	httpResp := doJSON(t, http.MethodGet, ts.URL+"/api/models", token, nil, &empty)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Empty(t, empty.Models)

	var forbidden relay.ErrorBody
	httpResp = doJSON(t, http.MethodPost, ts.URL+"/api/models", token, relay.ModelsRequest{
		Models: []string{"gpt-5", "claude-sonnet"},
	}, &forbidden)
	require.Equal(t, http.StatusForbidden, httpResp.StatusCode)

	httpResp = doJSON(t, http.MethodPost, ts.URL+"/api/models", testExecutorKey, relay.ModelsRequest{
		Models: []string{"gpt-5", "claude-sonnet"},
	}, nil)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var after relay.ModelsResponse
	httpResp = doJSON(t, http.MethodGet, ts.URL+"/api/models", token, nil, &after)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, []string{"gpt-5", "claude-sonnet"}, after.Models)
}

func TestFileReadTimesOutWithoutExecutorResponse(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the full 15s file-read deadline")
	}
	ts, _ := newTestServer(t)
	deviceKey, password, totpSecret := setupAdmin(t, ts)
	token := loginDevice(t, ts, deviceKey, password, totpSecret)

	url := fmt.Sprintf("%s/api/files/read?repo_path=%s&file_path=%s", ts.URL, "~/repos/demo", "README.md")
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestHealthIsPublic(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
