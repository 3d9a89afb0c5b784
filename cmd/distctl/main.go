// Command distctl runs distribution maintenance jobs against the live store
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
	"github.com/kekeling/kekeling/services/distribution/internal/service"
	"github.com/kekeling/kekeling/services/distribution/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:          "distctl",
	Short:        "Maintenance jobs for the distribution service",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(settleDueCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// session is a service over the configured Neo4j store. Statistics jobs
// run inline since there is no worker pool.
type session struct {
	svc   *service.Service
	log   *logging.Logger
	store *repository.Neo4jStore
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logging.NewLoggerFromEnv(cfg.Env)

	store, err := repository.NewNeo4jStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}
	svc := service.New(store, service.Options{Config: cfg.Service, Log: log})
	return &session{svc: svc, log: log, store: store}, nil
}

func (s *session) close() {
	if err := s.store.Close(context.Background()); err != nil {
		s.log.Warn("failed to close store", logging.Error(err))
	}
	s.log.AtExit()
}
