// Package config loads the executor's environment-derived configuration.
package config

import (
	"fmt"
	"os"
)

// Config is the executor's environment-derived configuration.
type Config struct {
	RelayerWSURL    string
	RelayerURL      string
	ExecutorAPIKey  string
	DefaultRepo     string
	TranslatorModel string
	WorkloadModel   string
	ClientSalt      string
}

// FromEnv builds a Config from the process environment. RELAYER_URL and
// EXECUTOR_API_KEY are required; RELAYER_WS_URL, when unset, is derived
// from RELAYER_URL. CLIENT_SALT is required only for register-device.
func FromEnv() (Config, error) {
	cfg := Config{
		RelayerWSURL:    os.Getenv("RELAYER_WS_URL"),
		RelayerURL:      os.Getenv("RELAYER_URL"),
		ExecutorAPIKey:  os.Getenv("EXECUTOR_API_KEY"),
		DefaultRepo:     envOr("DEFAULT_REPO", "~/repos/default"),
		TranslatorModel: os.Getenv("TRANSLATOR_MODEL"),
		WorkloadModel:   os.Getenv("WORKLOAD_MODEL"),
		ClientSalt:      os.Getenv("CLIENT_SALT"),
	}
	if cfg.RelayerURL == "" {
		return cfg, fmt.Errorf("config: RELAYER_URL is required")
	}
	if cfg.ExecutorAPIKey == "" {
		return cfg, fmt.Errorf("config: EXECUTOR_API_KEY is required")
	}
	if cfg.RelayerWSURL == "" {
		cfg.RelayerWSURL = deriveWSURL(cfg.RelayerURL)
	}
	return cfg, nil
}

func deriveWSURL(httpURL string) string {
	switch {
	case len(httpURL) >= 8 && httpURL[:8] == "https://":
		return "wss://" + httpURL[8:] + "/api/ws"
	case len(httpURL) >= 7 && httpURL[:7] == "http://":
		return "ws://" + httpURL[7:] + "/api/ws"
	default:
		return httpURL
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
