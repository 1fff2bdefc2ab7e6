package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/couchmongo/couchmongo/internal/config"
	"github.com/couchmongo/couchmongo/internal/designrepo"
	"github.com/couchmongo/couchmongo/internal/docengine"
	"github.com/couchmongo/couchmongo/internal/jsruntime"
	"github.com/couchmongo/couchmongo/internal/mongodb"
	"github.com/couchmongo/couchmongo/internal/server"
	"github.com/couchmongo/couchmongo/internal/viewengine"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a config file")
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.Default()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	adapter := mongodb.New(client.Database(cfg.DBPrefix + "couchmongo"))

	budget := jsruntime.Budget{Timeout: cfg.JSTimeout, MaxSteps: cfg.JSMaxSteps}
	engine := docengine.New(adapter, budget)

	repo, err := designrepo.New(cfg.DesignRoot,
		designrepo.WithDocReader(func(ctx context.Context, db, id string) (map[string]interface{}, error) {
			return engine.Get(ctx, db, id, "")
		}),
		designrepo.WithPollInterval(cfg.DesignPoll),
		designrepo.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("start design repo: %w", err)
	}
	defer repo.Close()

	views := viewengine.New(budget, logger, cfg.ViewWorkers)

	h := server.New(adapter, engine, repo, views)
	h.Logger = logger
	h.VendorName = cfg.VendorName
	h.VendorVersion = cfg.VendorVersion
	h.CompressLevel = cfg.CompressionLevel
	h.AllowDBDelete = cfg.AllowDBDelete

	srv := &http.Server{Addr: cfg.BindAddr, Handler: h.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
