package relay

import "encoding/json"

// WsEnvelope is the wire shape of every frame exchanged over the
// WebSocket endpoint.
type WsEnvelope struct {
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Ts      string          `json:"ts,omitempty"`
}

// Recognised envelope Type values.
const (
	WsTypeAuth              = "auth"
	WsTypeAuthOK            = "auth_ok"
	WsTypeAuthFail          = "auth_fail"
	WsTypeCommandNew        = "command_new"
	WsTypeCommandUpdate     = "command_update"
	WsTypeCommandAck        = "command_ack"
	WsTypeCommandResult     = "command_result"
	WsTypeFileReadRequest   = "file_read_request"
	WsTypeFileSearchRequest = "file_search_request"
	WsTypePing              = "ping"
	WsTypePong              = "pong"
	WsTypeError             = "error"
)

// WsAuthPayload is the payload of the client's first auth frame.
type WsAuthPayload struct {
	Token string `json:"token"`
}

// WsCommandNewPayload announces a freshly created command to subscribers.
type WsCommandNewPayload struct {
	ID              string     `json:"id"`
	Input           string     `json:"input"`
	RepoPath        *string    `json:"repo_path,omitempty"`
	ContextMode     *string    `json:"context_mode,omitempty"`
	TranslatorModel *string    `json:"translator_model,omitempty"`
	WorkloadModel   *string    `json:"workload_model,omitempty"`
	CursorChatID    *string    `json:"cursor_chat_id,omitempty"`
	ChatHistory     []ChatTurn `json:"chat_history,omitempty"`
}

// WsCommandUpdatePayload announces a status/output/summary change.
type WsCommandUpdatePayload struct {
	ID           string        `json:"id"`
	Status       CommandStatus `json:"status"`
	Output       *string       `json:"output,omitempty"`
	Summary      *string       `json:"summary,omitempty"`
	CursorChatID *string       `json:"cursor_chat_id,omitempty"`
}

// WsFileReadRequestPayload asks an executor to read a file.
type WsFileReadRequestPayload struct {
	RequestID string `json:"request_id"`
	RepoPath  string `json:"repo_path"`
	FilePath  string `json:"file_path"`
}

// WsFileSearchRequestPayload asks an executor to search for a file.
type WsFileSearchRequestPayload struct {
	RequestID string `json:"request_id"`
	RepoPath  string `json:"repo_path"`
	FileName  string `json:"file_name"`
}

// FileSearchMatch is one file found by a search RPC.
type FileSearchMatch struct {
	Path       string `json:"path"`
	ModifiedAt string `json:"modified_at"`
}
