// Command relayer runs the HTTP+WebSocket relay server: device trust,
// command lifecycle, and the event fabric that fans updates out to
// connected controllers and executors.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devpmagent/relay/internal/relayserver/api"
	"github.com/devpmagent/relay/internal/relayserver/config"
	"github.com/devpmagent/relay/internal/relayserver/hub"
	"github.com/devpmagent/relay/internal/relayserver/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.RunMigrations(cfg.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	h := hub.New()
	srv := api.NewServer(st, h, cfg, uuid.NewString)
	router, err := srv.Router()
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.WithField("addr", addr).Info("relayer listening")
	return http.ListenAndServe(addr, router)
}
