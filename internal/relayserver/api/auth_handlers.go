package api

import (
	"encoding/json"
	"net/http"

	"github.com/devpmagent/relay/internal/relayserver/auth"
	"github.com/devpmagent/relay/internal/relayserver/store"
	"github.com/devpmagent/relay/relay"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// handleBootstrapDevice mints a one-time device key before any admin
// exists, stored only as a digest.
func (s *Server) handleBootstrapDevice(w http.ResponseWriter, r *http.Request) {
	exists, err := s.Store.AdminExists(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	if exists {
		writeError(w, http.StatusForbidden, "admin already set up")
		return
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key generation failure")
		return
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key hashing failure")
		return
	}
	if err := s.Store.InsertBootstrapDevice(r.Context(), hash); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	writeJSON(w, http.StatusOK, relay.BootstrapDeviceResponse{DeviceAPIKey: key})
}

// handleVerifyBootstrap reports whether a key matches any live bootstrap row.
func (s *Server) handleVerifyBootstrap(w http.ResponseWriter, r *http.Request) {
	var req relay.VerifyBootstrapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	hashes, err := s.Store.BootstrapTokenHashes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	_, ok := auth.FindMatch(hashes, func(h string) string { return h }, req.BootstrapKey)
	writeJSON(w, http.StatusOK, relay.VerifyBootstrapResponse{Valid: ok})
}

// handleSetup consumes a bootstrap key to create the admin and its first
// controller device.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req relay.SetupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	exists, err := s.Store.AdminExists(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	if exists {
		writeError(w, http.StatusForbidden, "admin already set up")
		return
	}

	hashes, err := s.Store.BootstrapTokenHashes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	matchedHash, ok := auth.FindMatch(hashes, func(h string) string { return h }, req.BootstrapKey)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown bootstrap key")
		return
	}

	totpSecret, err := auth.GenerateTOTPSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "totp generation failure")
		return
	}
	passwordHash, err := auth.HashPassword(s.Config.PasswordSalt + req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password hashing failure")
		return
	}

	adminID := s.NewID()
	deviceID := s.NewID()
	deviceKeyHash, err := auth.HashAPIKey(req.BootstrapKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key hashing failure")
		return
	}
	if err := s.Store.SetupAdmin(r.Context(), adminID, deviceID, req.Username, passwordHash, totpSecret, deviceKeyHash); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	if err := s.Store.DeleteBootstrapDevice(r.Context(), matchedHash); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}

	writeJSON(w, http.StatusOK, relay.SetupResponse{TOTPSecret: totpSecret})
}

// handleLogin verifies device key, password, and TOTP, returning a
// session token. Every branch performs at least one KDF comparison so
// the three failure modes are not distinguishable by timing.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req relay.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	candidates, err := s.Store.DeviceCandidates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	// FindMatch verifies against every candidate and performs one dummy
	// bcrypt compare internally on a miss, so this path costs the same as
	// the wrong-password and wrong-totp branches below: one KDF compare
	// per candidate plus one more.
	device, ok := auth.FindMatch(candidates, func(d store.DeviceCandidate) string { return d.TokenHash }, req.DeviceAPIKey)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown device key")
		return
	}

	creds, err := s.Store.GetAdminCredentials(r.Context(), device.AdminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	if !auth.VerifyHash(s.Config.PasswordSalt+req.Password, creds.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	if !auth.VerifyTOTP(creds.TOTPSecret, req.TOTPCode) {
		writeError(w, http.StatusUnauthorized, "wrong totp code")
		return
	}

	token, err := auth.CreateToken(s.Config.JWTSecret, device.ID, device.AdminID, string(device.Role), s.Config.JWTTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failure")
		return
	}
	_ = s.Store.TouchDevice(r.Context(), device.ID)
	writeJSON(w, http.StatusOK, relay.LoginResponse{Token: token})
}

// handleRefresh mints a fresh token from one still within its grace
// window, ignoring — but not extending past — its original expiry check.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req relay.RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	claims, ok := auth.ValidateTokenIgnoringExpiry(s.Config.JWTSecret, req.Token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "malformed session token")
		return
	}
	if !auth.WithinRefreshGrace(claims, s.Config.JWTRefreshGrace) {
		writeError(w, http.StatusUnauthorized, "session expired beyond refresh grace")
		return
	}
	token, err := auth.CreateToken(s.Config.JWTSecret, claims.DeviceID, claims.AdminID, claims.Role, s.Config.JWTTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failure")
		return
	}
	writeJSON(w, http.StatusOK, relay.RefreshResponse{Token: token})
}

// handleRegisterDevice consumes a reservation code, on the executor's
// behalf, to mint a new controller device.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req relay.RegisterDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	creatorDeviceID, err := s.Store.PeekRegistrationCode(r.Context(), req.Code)
	if err == store.ErrCodeNotFound {
		writeError(w, http.StatusBadRequest, "invalid or expired registration code")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	adminID, err := s.Store.AdminIDForDevice(r.Context(), creatorDeviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	passwordHash, err := s.Store.AdminPasswordHash(r.Context(), adminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	if !auth.VerifyHash(s.Config.PasswordSalt+req.Password, passwordHash) {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}

	newKey, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key generation failure")
		return
	}
	newKeyHash, err := auth.HashAPIKey(newKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key hashing failure")
		return
	}

	_, totpSecret, regErr := s.Store.RegisterDevice(r.Context(), s.NewID(), req.Code, newKeyHash)
	if regErr == store.ErrCodeNotFound {
		writeError(w, http.StatusBadRequest, "invalid or expired registration code")
		return
	}
	if regErr != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}

	writeJSON(w, http.StatusOK, relay.RegisterDeviceResponse{DeviceAPIKey: newKey, TOTPSecret: totpSecret})
}

// handleReserveCode mints a fresh one-time registration code.
func (s *Server) handleReserveCode(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	code, err := randomWordCode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "code generation failure")
		return
	}
	expiresAt := s.clock().Add(s.Config.DeviceRegistrationCodeTTL)
	id := s.NewID()
	if err := s.Store.ReserveCode(r.Context(), id, code, p.DeviceID, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	writeJSON(w, http.StatusOK, relay.ReserveCodeResponse{
		Code:      code,
		ExpiresAt: expiresAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
