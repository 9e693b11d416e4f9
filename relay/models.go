// Package relay defines the wire and persistence types shared by the
// relayer and executor binaries: device roles, command lifecycle, and
// the WebSocket envelope that carries events between them.
package relay

import "time"

// DeviceRole identifies what a device is trusted to do.
type DeviceRole string

const (
	// RoleController issues commands and observes events.
	RoleController DeviceRole = "controller"

	// RoleExecutor runs the agent subprocess on developer hardware.
	RoleExecutor DeviceRole = "executor"
)

// CommandStatus is the lifecycle state of a Command.
type CommandStatus string

const (
	StatusPending   CommandStatus = "pending"
	StatusRunning   CommandStatus = "running"
	StatusDone      CommandStatus = "done"
	StatusFailed    CommandStatus = "failed"
	StatusCancelled CommandStatus = "cancelled"
)

// Admin is the single administrative principal per deployment.
type Admin struct {
	ID           string
	Username     string
	PasswordHash string
	TOTPSecret   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Device is a trust grant belonging to an Admin.
type Device struct {
	ID           string
	AdminID      string
	Name         string
	Role         DeviceRole
	TokenHash    string
	RegisteredAt time.Time
	LastSeenAt   time.Time
}

// RegistrationCode is a short-lived, single-use device registration token.
type RegistrationCode struct {
	ID                string
	Code              string
	CreatedByDeviceID string
	Used              bool
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// Command is a unit of work dispatched to an executor.
type Command struct {
	ID              string
	DeviceID        string
	Input           string
	Status          CommandStatus
	Output          *string
	Summary         *string
	RepoPath        *string
	ContextMode     *string
	TranslatorModel *string
	WorkloadModel   *string
	CursorChatID    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Repo is a workspace path an admin has made available to the agent.
type Repo struct {
	ID        string
	AdminID   string
	Path      string
	Name      *string
	CreatedAt time.Time
}

// ChatTurn is one prior (input, output) pair in a resumed chat, attached
// to a command's broadcast so the executor can synthesise translator
// context without re-querying the store.
type ChatTurn struct {
	Input  string  `json:"input"`
	Output *string `json:"output"`
}
