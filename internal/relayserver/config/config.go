// Package config loads relayer configuration from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the relayer's environment-derived configuration.
type Config struct {
	Host                         string
	Port                         int
	DatabasePath                 string
	JWTSecret                    string
	JWTTTL                       time.Duration
	JWTRefreshGrace              time.Duration
	ExecutorAPIKey               string
	DeviceRegistrationCodeTTL    time.Duration
	PasswordSalt                 string
	CORSAllowedOrigins           []string
	MigrationsDir                string
}

// FromEnv builds a Config from the process environment. JWT_SECRET,
// EXECUTOR_API_KEY, and PASSWORD_SALT are required; everything else has
// the default spec.md §6 documents.
func FromEnv() (Config, error) {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	executorKey := os.Getenv("EXECUTOR_API_KEY")
	if executorKey == "" {
		return Config{}, fmt.Errorf("config: EXECUTOR_API_KEY is required")
	}
	passwordSalt := os.Getenv("PASSWORD_SALT")
	if passwordSalt == "" {
		return Config{}, fmt.Errorf("config: PASSWORD_SALT is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = os.Getenv("DATABASE_URL")
	}
	dbPath = strings.TrimPrefix(dbPath, "sqlite:")
	if dbPath == "" {
		dbPath = "./data/relayer.db"
	}

	cfg := Config{
		Host:                      envOr("HOST", "0.0.0.0"),
		Port:                      envInt("PORT", 8080),
		DatabasePath:              dbPath,
		JWTSecret:                 jwtSecret,
		JWTTTL:                    time.Duration(envInt("JWT_TTL_SECS", 3600)) * time.Second,
		JWTRefreshGrace:           time.Duration(envInt("JWT_REFRESH_GRACE_SECS", 86400)) * time.Second,
		ExecutorAPIKey:            executorKey,
		DeviceRegistrationCodeTTL: time.Duration(envInt("DEVICE_REGISTRATION_CODE_TTL_SECS", 600)) * time.Second,
		PasswordSalt:              passwordSalt,
		CORSAllowedOrigins:        envCSV("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://127.0.0.1:5173"}),
		MigrationsDir:             envOr("MIGRATIONS_DIR", "./migrations"),
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envCSV(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
