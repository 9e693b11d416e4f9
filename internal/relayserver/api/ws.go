package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/devpmagent/relay/internal/relayserver/auth"
	"github.com/devpmagent/relay/internal/relayserver/hub"
	"github.com/devpmagent/relay/relay"
)

const wsPingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection, authenticates the first
// frame, then runs independent reader/writer loops until either fails.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket: upgrade failed")
		return
	}
	defer conn.Close()

	if !s.wsAuthenticate(conn) {
		return
	}
	_ = conn.WriteJSON(relay.WsEnvelope{Version: 1, Type: relay.WsTypeAuthOK, Payload: json.RawMessage(`{}`)})

	sub := s.Hub.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go s.wsReaderLoop(conn, done)
	s.wsWriterLoop(conn, sub, done)
}

// wsAuthenticate waits for the mandatory first auth frame and validates
// its token against either a session token or the executor shared key.
func (s *Server) wsAuthenticate(conn *websocket.Conn) bool {
	var env relay.WsEnvelope
	if err := conn.ReadJSON(&env); err != nil || env.Type != relay.WsTypeAuth {
		s.wsAuthFail(conn, "expected auth frame")
		return false
	}
	var payload relay.WsAuthPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.Token == "" {
		s.wsAuthFail(conn, "missing token")
		return false
	}
	if payload.Token == s.Config.ExecutorAPIKey {
		return true
	}
	if _, ok := auth.ValidateToken(s.Config.JWTSecret, payload.Token); ok {
		return true
	}
	s.wsAuthFail(conn, "invalid or expired session")
	return false
}

func (s *Server) wsAuthFail(conn *websocket.Conn, reason string) {
	payload, _ := json.Marshal(relay.ErrorBody{Reason: reason})
	_ = conn.WriteJSON(relay.WsEnvelope{Version: 1, Type: relay.WsTypeAuthFail, Payload: payload})
}

// wsReaderLoop drains inbound frames until the connection closes; no
// inbound message beyond auth is semantically required.
func (s *Server) wsReaderLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWriterLoop forwards hub events as envelope frames and interleaves a
// 30 s keep-alive ping, skipping a missed tick rather than bursting.
func (s *Server) wsWriterLoop(conn *websocket.Conn, sub *hub.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				continue
			}
			env := relay.WsEnvelope{
				Version: 1,
				Type:    string(ev.Type),
				Payload: payload,
				Ts:      time.Now().UTC().Format("2006-01-02T15:04:05Z"),
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleHealth is the unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
