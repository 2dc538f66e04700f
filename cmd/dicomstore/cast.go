package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/dicomstore/internal/config"
	"github.com/nainya/dicomstore/internal/metrics"
	"github.com/nainya/dicomstore/internal/server"
	"github.com/nainya/dicomstore/pkg/cast"
	"github.com/nainya/dicomstore/pkg/changefeed"
)

func newCastCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "cast",
		Short: "Replay the change feed into FHIR, Kafka or RabbitMQ",
		Long: `
Reads the store's change feed from the last synced sequence and applies each
entry to the configured sink, checkpointing after every successful batch.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateCast(); err != nil {
				return err
			}
			log := newLogger(cfg, stdout, "dicomcast").WithFields(map[string]interface{}{
				"sink":          cfg.Cast.Sink,
				"dicom_web_url": cfg.Cast.DicomWebURL,
			})

			ctx, stop := signalContext()
			defer stop()

			reg := prometheus.NewRegistry()
			m := metrics.NewMetrics(reg)

			pipeline, closePipeline, err := openPipeline(cfg.Cast)
			if err != nil {
				return err
			}
			defer closePipeline()

			state, err := cast.OpenSQLSyncStateStore(ctx, cfg.Cast.State.Driver, cfg.Cast.State.DSN, cfg.Cast.FloorSequence)
			if err != nil {
				return err
			}
			defer state.Close()

			source := changefeed.NewHTTPSource(changefeed.HTTPSourceConfig{
				BaseURL:         cfg.Cast.DicomWebURL,
				BatchSize:       cfg.Cast.BatchSize,
				IncludeMetadata: true,
			})
			processor := cast.NewProcessor(source, pipeline, state, log, cast.WithProcessorMetrics(m))
			worker := cast.NewWorker(processor, cfg.Cast.PollInterval, cfg.Cast.CatchupInterval, log)
			obs := server.NewObservabilityServer(cfg.Server.MetricsPort, reg, nil, log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(obs.Start)
			g.Go(func() error {
				defer obs.Shutdown(context.Background())
				return worker.Run(gctx)
			})
			return g.Wait()
		},
	}
}

// openPipeline builds the sink named by cfg.Sink and returns its closer
func openPipeline(cfg config.CastConfig) (cast.Pipeline, func(), error) {
	switch cfg.Sink {
	case config.SinkFHIR:
		p := cast.NewFHIRPipeline(cast.FHIRConfig{
			BaseURL:           cfg.FHIR.URL,
			RequestsPerSecond: cfg.FHIR.RequestsPerSecond,
		})
		return p, func() {}, nil
	case config.SinkKafka:
		p, err := cast.NewKafkaPipeline(cast.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	case config.SinkRabbitMQ:
		p, err := cast.NewRabbitMQPipeline(cast.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}
