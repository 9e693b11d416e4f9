// Package store is the relayer's single-writer-serialised relational
// backend: admins, devices, bootstrap keys, registration codes,
// commands, and repos, over database/sql and the sqlite3 cgo driver.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/devpmagent/relay/relay"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Store wraps a *sql.DB with an explicit write mutex. SetMaxOpenConns(1)
// already serialises at the connection-pool level; the mutex documents
// the critical section spec.md §5 calls for ("hold the store's
// serialising mutex only for the duration of a statement") rather than
// leaving that guarantee implicit in pool behaviour.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating parent directories and the file as needed) the
// sqlite database at path and enables foreign key enforcement.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunMigrations applies any .sql files under dir (ascending filename
// order) that are not yet recorded in _schema_migrations. If dir does
// not exist on disk, the baked-in default migration set is used instead
// so a fresh deployment always gets a usable schema without requiring
// an external migrations directory to be present.
func (s *Store) RunMigrations(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS _schema_migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	names, read, err := loadMigrations(dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		var applied int
		err := s.db.QueryRow(`SELECT 1 FROM _schema_migrations WHERE name = ?`, name).Scan(&applied)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("store: check migration %s: %w", name, err)
		}

		sqlText, err := read(name)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(sqlText); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _schema_migrations (name) VALUES (?)`, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", name, err)
		}
	}
	return nil
}

// loadMigrations lists migration filenames in ascending order plus a
// reader for their contents, sourced from disk when dir exists, else
// from the embedded default set.
func loadMigrations(dir string) ([]string, func(string) (string, error), error) {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("store: read migrations dir: %w", err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		return names, func(name string) (string, error) {
			data, err := os.ReadFile(filepath.Join(dir, name))
			return string(data), err
		}, nil
	}

	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("store: read embedded migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, func(name string) (string, error) {
		data, err := embeddedMigrations.ReadFile("migrations/" + name)
		return string(data), err
	}, nil
}

func nowISO8601() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// --- bootstrap devices ---

// InsertBootstrapDevice records a one-time key digest minted before any
// admin exists.
func (s *Store) InsertBootstrapDevice(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bootstrap_devices (token_hash, created_at) VALUES (?, ?)`,
		tokenHash, nowISO8601())
	return err
}

// BootstrapTokenHashes returns every stored bootstrap digest.
func (s *Store) BootstrapTokenHashes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT token_hash FROM bootstrap_devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteBootstrapDevice removes a consumed bootstrap row by its digest.
func (s *Store) DeleteBootstrapDevice(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM bootstrap_devices WHERE token_hash = ?`, tokenHash)
	return err
}

// --- admin ---

// AdminExists reports whether an admin row has ever been created.
func (s *Store) AdminExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin`).Scan(&count)
	return count > 0, err
}

// SetupAdmin creates the admin row and its first controller device
// (digest = deviceAPIKeyHash) in one transaction.
func (s *Store) SetupAdmin(ctx context.Context, adminID, deviceID, username, passwordHash, totpSecret, deviceAPIKeyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowISO8601()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO admin (id, username, password_hash, totp_secret, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		adminID, username, passwordHash, totpSecret, now, now); err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO devices (id, admin_id, device_id, name, role, token_hash, registered_at, last_seen_at)
		 VALUES (?, ?, ?, 'default', 'controller', ?, ?, ?)`,
		deviceID, adminID, deviceID, deviceAPIKeyHash, now, now); err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return tx.Commit()
}

// SingleAdminID returns the lone admin row's id. The deployment model is
// single-tenant, so the executor's shared API key is always scoped to
// whichever admin has been set up; returns ErrNotFound before setup.
func (s *Store) SingleAdminID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM admin LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// AdminCredentials is the slice of an Admin row needed to verify a login.
type AdminCredentials struct {
	ID           string
	PasswordHash string
	TOTPSecret   string
}

// GetAdminCredentials fetches verification material by admin id.
func (s *Store) GetAdminCredentials(ctx context.Context, adminID string) (AdminCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c AdminCredentials
	c.ID = adminID
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, totp_secret FROM admin WHERE id = ?`, adminID,
	).Scan(&c.PasswordHash, &c.TOTPSecret)
	return c, err
}

// --- devices ---

// DeviceCandidate is a row examined during constant-time device-key
// validation.
type DeviceCandidate struct {
	ID        string
	AdminID   string
	Role      relay.DeviceRole
	TokenHash string
}

// DeviceCandidates returns every device with a stored key digest.
func (s *Store) DeviceCandidates(ctx context.Context) ([]DeviceCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, admin_id, role, token_hash FROM devices WHERE token_hash IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeviceCandidate
	for rows.Next() {
		var c DeviceCandidate
		var role string
		if err := rows.Scan(&c.ID, &c.AdminID, &role, &c.TokenHash); err != nil {
			return nil, err
		}
		c.Role = relay.DeviceRole(role)
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchDevice updates a device's last-seen timestamp.
func (s *Store) TouchDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_seen_at = ? WHERE id = ?`, nowISO8601(), deviceID)
	return err
}

// --- registration codes ---

// ReserveCode inserts a fresh registration code created by deviceID,
// expiring at expiresAt.
func (s *Store) ReserveCode(ctx context.Context, id, code, createdByDeviceID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_registration_codes (id, code, created_by_device_id, used, expires_at, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		id, code, createdByDeviceID, expiresAt.UTC().Format("2006-01-02T15:04:05Z"), nowISO8601())
	return err
}

// ErrCodeNotFound is returned when a registration code is unknown,
// already used, or expired.
var ErrCodeNotFound = fmt.Errorf("store: registration code not found, used, or expired")

// PeekRegistrationCode resolves a live code's creating device id without
// consuming it, so a caller can verify the admin password before the
// code is spent inside RegisterDevice's own transaction.
func (s *Store) PeekRegistrationCode(ctx context.Context, code string) (createdByDeviceID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt string
	row := s.db.QueryRowContext(ctx,
		`SELECT created_by_device_id, expires_at FROM device_registration_codes WHERE code = ? AND used = 0`, code)
	if err := row.Scan(&createdByDeviceID, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrCodeNotFound
		}
		return "", err
	}
	if expiresAt < nowISO8601() {
		return "", ErrCodeNotFound
	}
	return createdByDeviceID, nil
}

// RegisterDevice consumes code and inserts a new controller device for
// the admin that owns the creating device, after the caller has already
// verified the admin password. Returns the admin's TOTP secret.
func (s *Store) RegisterDevice(ctx context.Context, newDeviceID, code, deviceAPIKeyHash string) (adminID, totpSecret string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowISO8601()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	var createdByDeviceID, expiresAt string
	row := tx.QueryRowContext(ctx,
		`SELECT created_by_device_id, expires_at FROM device_registration_codes WHERE code = ? AND used = 0`, code)
	if err := row.Scan(&createdByDeviceID, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrCodeNotFound
		}
		return "", "", err
	}
	if expiresAt < now {
		return "", "", ErrCodeNotFound
	}

	if err := tx.QueryRowContext(ctx, `SELECT admin_id FROM devices WHERE id = ?`, createdByDeviceID).Scan(&adminID); err != nil {
		return "", "", err
	}
	if err := tx.QueryRowContext(ctx, `SELECT totp_secret FROM admin WHERE id = ?`, adminID).Scan(&totpSecret); err != nil {
		return "", "", err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO devices (id, admin_id, device_id, name, role, token_hash, registered_at, last_seen_at)
		 VALUES (?, ?, ?, 'controller', 'controller', ?, ?, ?)`,
		newDeviceID, adminID, newDeviceID, deviceAPIKeyHash, now, now); err != nil {
		return "", "", err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE device_registration_codes SET used = 1 WHERE code = ?`, code); err != nil {
		return "", "", err
	}
	if err := tx.Commit(); err != nil {
		return "", "", err
	}
	return adminID, totpSecret, nil
}

// AdminPasswordHash fetches the stored password digest for an admin,
// used by register-device to verify the password before consuming a code.
func (s *Store) AdminPasswordHash(ctx context.Context, adminID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM admin WHERE id = ?`, adminID).Scan(&hash)
	return hash, err
}

// AdminIDForDevice resolves the admin that owns a device, for use before
// RegisterDevice's own transaction is opened (password pre-check).
func (s *Store) AdminIDForDevice(ctx context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var adminID string
	err := s.db.QueryRowContext(ctx, `SELECT admin_id FROM devices WHERE id = ?`, deviceID).Scan(&adminID)
	return adminID, err
}

// --- commands ---

// CreateCommand inserts c as a new pending command under its own id.
func (s *Store) CreateCommand(ctx context.Context, c relay.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowISO8601()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (id, device_id, input, status, output, summary, repo_path, context_mode, translator_model, workload_model, cursor_chat_id, created_at, updated_at)
		 VALUES (?, ?, ?, 'pending', NULL, NULL, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DeviceID, c.Input, c.RepoPath, c.ContextMode, c.TranslatorModel, c.WorkloadModel, c.CursorChatID, now, now)
	return err
}

func scanCommand(scan func(dest ...any) error) (relay.Command, error) {
	var c relay.Command
	var status, createdAt, updatedAt string
	err := scan(&c.ID, &c.DeviceID, &c.Input, &status, &c.Output, &c.Summary, &c.RepoPath,
		&c.ContextMode, &c.TranslatorModel, &c.WorkloadModel, &c.CursorChatID, &createdAt, &updatedAt)
	if err != nil {
		return relay.Command{}, err
	}
	c.Status = relay.CommandStatus(status)
	c.CreatedAt, _ = time.Parse("2006-01-02T15:04:05Z", createdAt)
	c.UpdatedAt, _ = time.Parse("2006-01-02T15:04:05Z", updatedAt)
	return c, nil
}

const commandColumns = `id, device_id, input, status, output, summary, repo_path, context_mode, translator_model, workload_model, cursor_chat_id, created_at, updated_at`

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = fmt.Errorf("store: not found")

// GetCommand fetches a command by id.
func (s *Store) GetCommand(ctx context.Context, id string) (relay.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	c, err := scanCommand(row.Scan)
	if err == sql.ErrNoRows {
		return relay.Command{}, ErrNotFound
	}
	return c, err
}

// ListCommands returns the most recent limit commands belonging to
// adminID's devices, newest first.
func (s *Store) ListCommands(ctx context.Context, adminID string, limit int) ([]relay.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.device_id, c.input, c.status, c.output, c.summary, c.repo_path, c.context_mode, c.translator_model, c.workload_model, c.cursor_chat_id, c.created_at, c.updated_at
		 FROM commands c JOIN devices d ON c.device_id = d.id
		 WHERE d.admin_id = ? ORDER BY c.created_at DESC LIMIT ?`, adminID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []relay.Command
	for rows.Next() {
		c, err := scanCommand(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCommand removes a command if it belongs to adminID's devices.
// Returns false if no row matched.
func (s *Store) DeleteCommand(ctx context.Context, id, adminID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM commands WHERE id = ? AND device_id IN (SELECT id FROM devices WHERE admin_id = ?)`,
		id, adminID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateCommand applies a partial update (status/output/summary/cursor
// chat id); nil fields are left unchanged via COALESCE. A command already
// in a terminal status (done/failed/cancelled) rejects any further
// update — terminal is terminal — reported the same as "not found" since
// the caller's retry/backoff handling is identical either way.
func (s *Store) UpdateCommand(ctx context.Context, id string, status *relay.CommandStatus, output, summary, cursorChatID *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	switch err := s.db.QueryRowContext(ctx, `SELECT status FROM commands WHERE id = ?`, id).Scan(&current); {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	}
	if isTerminalStatus(relay.CommandStatus(current)) {
		return false, nil
	}

	now := nowISO8601()
	var res sql.Result
	var err error
	if status != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE commands SET status = ?, output = COALESCE(?, output), summary = COALESCE(?, summary), cursor_chat_id = COALESCE(?, cursor_chat_id), updated_at = ? WHERE id = ?`,
			string(*status), output, summary, cursorChatID, now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE commands SET output = COALESCE(?, output), summary = COALESCE(?, summary), cursor_chat_id = COALESCE(?, cursor_chat_id), updated_at = ? WHERE id = ?`,
			output, summary, cursorChatID, now, id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func isTerminalStatus(status relay.CommandStatus) bool {
	switch status {
	case relay.StatusDone, relay.StatusFailed, relay.StatusCancelled:
		return true
	default:
		return false
	}
}

// ListCommandsByCursorChatID returns prior (input, output) pairs for the
// same device and chat id, ordered oldest first, limited to done and
// failed rows (pending, running and cancelled rows are excluded).
func (s *Store) ListCommandsByCursorChatID(ctx context.Context, deviceID, cursorChatID string) ([]relay.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT input, output FROM commands
		 WHERE device_id = ? AND cursor_chat_id = ? AND status IN ('done', 'failed')
		 ORDER BY created_at ASC`, deviceID, cursorChatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []relay.ChatTurn
	for rows.Next() {
		var t relay.ChatTurn
		if err := rows.Scan(&t.Input, &t.Output); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- repos ---

// ValidateRepoPath enforces the ~/repos/ prefix and traversal rules.
// It returns the path unchanged (never expanded) so the executor can
// later expand it with its own HOME.
func ValidateRepoPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	const prefix = "~/repos"
	if path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return "", fmt.Errorf("repo path must be under ~/repos/")
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("repo path must be under ~/repos/")
	}
	return path, nil
}

// AddRepo validates and inserts a single repo path.
func (s *Store) AddRepo(ctx context.Context, id, adminID, path string, name *string) (string, error) {
	validated, err := ValidateRepoPath(path)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repos (id, admin_id, path, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, adminID, validated, name, nowISO8601())
	return validated, err
}

// ListRepos returns an admin's repos, newest first.
func (s *Store) ListRepos(ctx context.Context, adminID string) ([]relay.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, name, created_at FROM repos WHERE admin_id = ? ORDER BY created_at DESC`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []relay.Repo
	for rows.Next() {
		var r relay.Repo
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &createdAt); err != nil {
			return nil, err
		}
		r.AdminID = adminID
		r.CreatedAt, _ = time.Parse("2006-01-02T15:04:05Z", createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceRepos deletes the admin's current repo set and inserts only
// the paths that pass ValidateRepoPath; invalid paths are skipped, not
// errored, matching the executor's best-effort sync semantics.
func (s *Store) ReplaceRepos(ctx context.Context, adminID string, paths []string, newID func() string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM repos WHERE admin_id = ?`, adminID); err != nil {
		return err
	}
	now := nowISO8601()
	for _, p := range paths {
		validated, err := ValidateRepoPath(p)
		if err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO repos (id, admin_id, path, name, created_at) VALUES (?, ?, ?, NULL, ?)`,
			newID(), adminID, validated, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
