// Package relayclient is the executor's outbound half: a reconnecting
// WebSocket client that authenticates, advertises workspaces and model
// inventory, and dispatches incoming command and file-RPC jobs.
package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/devpmagent/relay/internal/executor/agentcli"
	"github.com/devpmagent/relay/internal/executor/config"
	"github.com/devpmagent/relay/internal/executor/filetools"
	"github.com/devpmagent/relay/internal/executor/pipeline"
	"github.com/devpmagent/relay/relay"
)

const reconnectDelay = 5 * time.Second

// Client is the executor's relayer connection: HTTP for progress PATCHes
// and sync calls, WebSocket for job dispatch.
type Client struct {
	Config config.Config
	Runner agentcli.Runner

	client *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	return c.client
}

// Run performs the startup sync, then connects and reconnects forever
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.syncRepos(ctx); err != nil {
		logrus.WithError(err).Warn("relayclient: startup repo sync failed")
	}
	if err := c.syncModels(ctx); err != nil {
		logrus.WithError(err).Warn("relayclient: startup model sync failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			logrus.WithError(err).Warn("relayclient: connection ended, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// connectOnce dials, authenticates, and dispatches until the socket
// fails or ctx is cancelled. In-flight jobs are not tied to the socket:
// they keep PATCHing over HTTP regardless of connection state.
func (c *Client) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.Config.RelayerWSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	authPayload, _ := json.Marshal(relay.WsAuthPayload{Token: c.Config.ExecutorAPIKey})
	if err := conn.WriteJSON(relay.WsEnvelope{Version: 1, Type: relay.WsTypeAuth, Payload: authPayload}); err != nil {
		return err
	}

	var env relay.WsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		return err
	}
	if env.Type != relay.WsTypeAuthOK {
		logrus.Warn("relayclient: auth rejected by relayer")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg relay.WsEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		c.dispatch(ctx, msg)
	}
}

// dispatch spawns an independent goroutine per job so a long-running
// command never blocks the read loop.
func (c *Client) dispatch(ctx context.Context, env relay.WsEnvelope) {
	switch env.Type {
	case relay.WsTypeCommandNew:
		var job relay.WsCommandNewPayload
		if err := json.Unmarshal(env.Payload, &job); err != nil {
			logrus.WithError(err).Warn("relayclient: malformed command_new payload")
			return
		}
		go func() {
			if err := pipeline.Run(ctx, job, c, c.Runner, c.Config.DefaultRepo); err != nil {
				logrus.WithError(err).WithField("command_id", job.ID).Error("relayclient: pipeline failed")
			}
		}()

	case relay.WsTypeFileReadRequest:
		var req relay.WsFileReadRequestPayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return
		}
		go c.handleFileRead(ctx, req)

	case relay.WsTypeFileSearchRequest:
		var req relay.WsFileSearchRequestPayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return
		}
		go c.handleFileSearch(ctx, req)
	}
}

func (c *Client) handleFileRead(ctx context.Context, req relay.WsFileReadRequestPayload) {
	content, err := filetools.ReadFile(req.RepoPath, req.FilePath)
	resp := relay.FileReadResponseRequest{RequestID: req.RequestID}
	if err != nil {
		reason := err.Error()
		resp.Error = &reason
	} else {
		resp.Content = &content
	}
	if postErr := c.postFileReadResponse(ctx, resp); postErr != nil {
		logrus.WithError(postErr).Debug("relayclient: file read response not delivered (request likely expired)")
	}
}

func (c *Client) handleFileSearch(ctx context.Context, req relay.WsFileSearchRequestPayload) {
	matches, err := filetools.SearchFiles(req.RepoPath, req.FileName)
	resp := relay.FileSearchResponseRequest{RequestID: req.RequestID}
	if err != nil {
		reason := err.Error()
		resp.Error = &reason
	} else {
		resp.Matches = make([]relay.FileSearchMatch, len(matches))
		for i, m := range matches {
			resp.Matches[i] = relay.FileSearchMatch{
				Path:       m.Path,
				ModifiedAt: filetools.FormatModifiedAt(m.ModifiedAt),
			}
		}
	}
	if postErr := c.postFileSearchResponse(ctx, resp); postErr != nil {
		logrus.WithError(postErr).Debug("relayclient: file search response not delivered (request likely expired)")
	}
}
