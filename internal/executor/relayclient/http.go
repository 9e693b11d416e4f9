package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/devpmagent/relay/relay"
)

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("relayclient: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Config.RelayerURL+path, reader)
	if err != nil {
		return fmt.Errorf("relayclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Config.ExecutorAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("relayclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relayclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// UpdateCommand PATCHes a command's progress or terminal state.
// Implements pipeline.Updater.
func (c *Client) UpdateCommand(ctx context.Context, id string, req relay.UpdateCommandRequest) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/commands/"+id, req, nil)
}

// postFileReadResponse resolves a pending read RPC.
func (c *Client) postFileReadResponse(ctx context.Context, req relay.FileReadResponseRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/files/read/response", req, nil)
}

// postFileSearchResponse resolves a pending search RPC.
func (c *Client) postFileSearchResponse(ctx context.Context, req relay.FileSearchResponseRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/files/search/response", req, nil)
}

// syncRepos discovers top-level directories under ~/repos (expanded with
// the process's HOME) and POSTs them as the workspace set.
func (c *Client) syncRepos(ctx context.Context) error {
	paths, err := discoverRepoDirs()
	if err != nil {
		return fmt.Errorf("relayclient: discover repos: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, "/api/repos/sync", relay.SyncReposRequest{Paths: paths}, nil)
}

// syncModels invokes the agent's models subcommand and POSTs the result.
func (c *Client) syncModels(ctx context.Context) error {
	models, err := c.Runner.Models(ctx)
	if err != nil {
		return fmt.Errorf("relayclient: list models: %w", err)
	}
	if len(models) == 0 {
		return nil
	}
	return c.doJSON(ctx, http.MethodPost, "/api/models", relay.ModelsRequest{Models: models}, nil)
}
