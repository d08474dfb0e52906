package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-recognition/internal/api/service"
	"github.com/cuongbtq/face-recognition/internal/bootstrap"
	"github.com/cuongbtq/face-recognition/internal/config"
	"github.com/cuongbtq/face-recognition/internal/results"
	"github.com/spf13/cobra"
)

// app is what every subcommand works against, opened once per invocation
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	storage    *bootstrap.Storage
	components *bootstrap.Components
	service    *service.RecognitionService
}

func newRootCmd() *cobra.Command {
	var configPath string
	a := &app{}

	root := &cobra.Command{
		Use:           "facectl",
		Short:         "Administer registered identities and the recognition cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd, configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config",
		bootstrap.ConfigPath("FACECTL_CONFIG_PATH", "configs/api-service/config.yaml"),
		"Path to configuration file")

	root.AddCommand(
		newRegisterCmd(a),
		newIdentitiesCmd(a),
		newStatsCmd(a),
		newCacheCmd(a),
		newResetCmd(a),
	)

	return root
}

func (a *app) open(cmd *cobra.Command, configPath string) error {
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// the HNSW graph is owned by the API process; a second copy would diverge
	if cfg.Index.Backend == config.IndexBackendHNSW {
		return errors.New("facectl needs the pgvector index backend; use the HTTP API with hnsw")
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	storage, err := bootstrap.OpenStorage(cmd.Context(), cfg, appLogger.Logger)
	if err != nil {
		return err
	}

	components, err := bootstrap.NewComponents(cfg, storage, appLogger.Logger)
	if err != nil {
		storage.Close()
		return err
	}

	a.cfg = cfg
	a.logger = appLogger.Logger
	a.storage = storage
	a.components = components
	a.service = service.NewRecognitionService(&service.Config{
		Logger:       appLogger.Logger,
		Resolver:     components.Resolver,
		Status:       components.Status,
		Results:      results.NewSubscriber(storage.Store, appLogger.Logger),
		Counter:      components.Counter,
		Index:        storage.Index,
		Cache:        components.Cache,
		Photos:       components.Photos,
		MaxImageSide: cfg.Recognition.MaxImageSide,
	})

	return nil
}

func (a *app) close() {
	if a.storage != nil {
		a.storage.Close()
	}
}
