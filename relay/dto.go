package relay

// SetupRequest provisions the admin and first controller device.
type SetupRequest struct {
	BootstrapKey string `json:"bootstrap_key"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// SetupResponse returns the TOTP secret the admin must enrol.
type SetupResponse struct {
	TOTPSecret string `json:"totp_secret"`
}

// VerifyBootstrapRequest checks a bootstrap key before setup.
type VerifyBootstrapRequest struct {
	BootstrapKey string `json:"bootstrap_key"`
}

// VerifyBootstrapResponse reports whether the key matches a live row.
type VerifyBootstrapResponse struct {
	Valid bool `json:"valid"`
}

// BootstrapDeviceResponse is returned to the executor on first run.
type BootstrapDeviceResponse struct {
	DeviceAPIKey string `json:"device_api_key"`
}

// LoginRequest authenticates a device.
type LoginRequest struct {
	DeviceAPIKey string `json:"device_api_key"`
	Password     string `json:"password"`
	TOTPCode     string `json:"totp_code"`
}

// LoginResponse carries a fresh session token.
type LoginResponse struct {
	Token string `json:"token"`
}

// RefreshRequest renews a session token within the grace window.
type RefreshRequest struct {
	Token string `json:"token"`
}

// RefreshResponse carries the renewed session token.
type RefreshResponse struct {
	Token string `json:"token"`
}

// ReserveCodeRequest has no body fields; kept for symmetry with other DTOs.
type ReserveCodeRequest struct{}

// ReserveCodeResponse carries a newly reserved registration code.
type ReserveCodeResponse struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

// RegisterDeviceRequest consumes a registration code with the admin password.
type RegisterDeviceRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

// RegisterDeviceResponse returns the new device's credentials.
type RegisterDeviceResponse struct {
	DeviceAPIKey string `json:"device_api_key"`
	TOTPSecret   string `json:"totp_secret"`
}

// CreateCommandRequest creates a new pending command.
type CreateCommandRequest struct {
	Input           string  `json:"input"`
	RepoPath        *string `json:"repo_path,omitempty"`
	ContextMode     *string `json:"context_mode,omitempty"`
	TranslatorModel *string `json:"translator_model,omitempty"`
	WorkloadModel   *string `json:"workload_model,omitempty"`
	CursorChatID    *string `json:"cursor_chat_id,omitempty"`
}

// UpdateCommandRequest is the executor's progress/terminal PATCH body.
type UpdateCommandRequest struct {
	Status       *CommandStatus `json:"status,omitempty"`
	Output       *string        `json:"output,omitempty"`
	Summary      *string        `json:"summary,omitempty"`
	CursorChatID *string        `json:"cursor_chat_id,omitempty"`
}

// CommandResponse is the JSON view of a Command row.
type CommandResponse struct {
	ID              string        `json:"id"`
	Input           string        `json:"input"`
	Status          CommandStatus `json:"status"`
	Output          *string       `json:"output,omitempty"`
	Summary         *string       `json:"summary,omitempty"`
	RepoPath        *string       `json:"repo_path,omitempty"`
	ContextMode     *string       `json:"context_mode,omitempty"`
	TranslatorModel *string       `json:"translator_model,omitempty"`
	WorkloadModel   *string       `json:"workload_model,omitempty"`
	CursorChatID    *string       `json:"cursor_chat_id,omitempty"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

// CommandFromModel converts a stored Command into its wire representation.
func CommandFromModel(c Command) CommandResponse {
	return CommandResponse{
		ID:              c.ID,
		Input:           c.Input,
		Status:          c.Status,
		Output:          c.Output,
		Summary:         c.Summary,
		RepoPath:        c.RepoPath,
		ContextMode:     c.ContextMode,
		TranslatorModel: c.TranslatorModel,
		WorkloadModel:   c.WorkloadModel,
		CursorChatID:    c.CursorChatID,
		CreatedAt:       c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:       c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// AddRepoRequest registers a single repo path.
type AddRepoRequest struct {
	Path string  `json:"path"`
	Name *string `json:"name,omitempty"`
}

// SyncReposRequest replaces the admin's repo set, executor-authored.
type SyncReposRequest struct {
	Paths []string `json:"paths"`
}

// RepoResponse is the JSON view of a Repo row.
type RepoResponse struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Name      *string `json:"name,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// RepoFromModel converts a stored Repo into its wire representation.
func RepoFromModel(r Repo) RepoResponse {
	return RepoResponse{
		ID:        r.ID,
		Path:      r.Path,
		Name:      r.Name,
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// ModelsRequest replaces the process-level model inventory.
type ModelsRequest struct {
	Models []string `json:"models"`
}

// ModelsResponse lists the current model inventory.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// FileReadResponseRequest is POSTed by the executor to resolve a read RPC.
type FileReadResponseRequest struct {
	RequestID string  `json:"request_id"`
	Content   *string `json:"content,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// FileSearchResponseRequest is POSTed by the executor to resolve a search RPC.
type FileSearchResponseRequest struct {
	RequestID string            `json:"request_id"`
	Matches   []FileSearchMatch `json:"matches,omitempty"`
	Error     *string           `json:"error,omitempty"`
}

// FileReadResult is what the controller's GET /files/read ultimately sees.
type FileReadResult struct {
	Content string `json:"content"`
}

// FileSearchResult is what the controller's GET /files/search ultimately sees.
type FileSearchResult struct {
	Matches []FileSearchMatch `json:"matches"`
}

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Reason string `json:"reason"`
}
