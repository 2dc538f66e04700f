package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/dicomstore/internal/config"
	"github.com/nainya/dicomstore/internal/logger"
	"github.com/nainya/dicomstore/internal/metrics"
	"github.com/nainya/dicomstore/internal/server"
	"github.com/nainya/dicomstore/pkg/blob"
	"github.com/nainya/dicomstore/pkg/index"
	"github.com/nainya/dicomstore/pkg/metadata"
	"github.com/nainya/dicomstore/pkg/query"
	"github.com/nainya/dicomstore/pkg/store"
)

func newServeCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the DICOM HTTP API",
		Long: `
Runs the HTTP API, the gRPC health service, the metrics endpoint and the
background cleanup of deleted instances until interrupted.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			log := newLogger(cfg, stdout, "dicomstore")

			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// openObjectStore picks MinIO/S3 when an endpoint is configured and local disk otherwise
func openObjectStore(cfg config.BlobConfig) (blob.ObjectStore, error) {
	if cfg.Endpoint != "" {
		client, err := blob.NewS3Client(blob.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	local, err := blob.NewLocalStore(cfg.LocalRoot)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func serve(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	idx, err := index.Open(ctx, cfg.Postgres.URL, index.WithCleanupDelay(cfg.Cleanup.Delay))
	if err != nil {
		return err
	}
	defer idx.Close()

	objects, err := openObjectStore(cfg.Blob)
	if err != nil {
		return err
	}
	files, err := blob.NewFileStore(ctx, objects, cfg.Blob.FileBucket)
	if err != nil {
		return err
	}
	meta, err := metadata.NewMetadataStore(ctx, objects, cfg.Blob.MetadataBucket)
	if err != nil {
		return err
	}

	orchestrator := store.NewStoreOrchestrator(files, meta, idx, log, store.WithCompensationMetrics(m))
	services := server.Services{
		Store:      store.NewStoreService(store.WithMetrics(store.WithLogging(orchestrator, log), m), log),
		Query:      store.NewQueryService(query.NewParser(cfg.Query.DefaultLimit, cfg.Query.MaxLimit), idx, meta),
		Retrieve:   store.NewRetrieveMetadataService(idx, meta),
		Delete:     store.NewDeleteService(idx, log),
		ChangeFeed: store.NewChangeFeedService(idx, meta),
	}

	api := server.NewServer(services, log, m)
	grpcServer := server.NewGrpcServer(m, log)
	ready := func(ctx context.Context) error {
		if err := idx.Ping(ctx); err != nil {
			return err
		}
		return objects.Ping(ctx)
	}
	obs := server.NewObservabilityServer(cfg.Server.MetricsPort, reg, ready, log)
	cleaner := store.NewDeletedInstanceCleaner(idx, files, meta, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Start(cfg.Server.HTTPPort) })
	g.Go(func() error { return grpcServer.Start(cfg.Server.GrpcPort) })
	g.Go(obs.Start)
	g.Go(func() error {
		err := cleaner.Run(gctx, cfg.Cleanup.Interval, cfg.Cleanup.BatchSize)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		m.RunUptime(gctx.Done())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		grpcServer.Stop()
		apiErr := api.Shutdown(shutdownCtx)
		obsErr := obs.Shutdown(shutdownCtx)
		return errors.Join(apiErr, obsErr)
	})

	log.LogServerReady("http", cfg.Server.HTTPPort)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("Server stopped").Send()
	return nil
}
