package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nainya/dicomstore/internal/config"
	"github.com/nainya/dicomstore/internal/logger"
)

// NewRootCommand builds the dicomstore command tree
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "dicomstore",
		Short: "DICOMweb style image store with a change feed",
		Long: `dicomstore stores DICOM instances across a PostgreSQL index and an
object store, answers QIDO style searches, and publishes an ordered change
feed. The cast command replays that feed into FHIR, Kafka or RabbitMQ.

Settings come from an optional config file and DICOMSTORE_* environment
variables, for example DICOMSTORE_POSTGRES_URL.
`,
		SilenceUsage: true,
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newServeCommand(stdout, stderr))
	rc.AddCommand(newCastCommand(stdout, stderr))
	rc.AddCommand(newStoreCommand(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

func newLogger(cfg config.Config, out io.Writer, service string) *logger.Logger {
	logger.InitGlobalLogger(logger.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Output:  out,
		Service: service,
	})
	return logger.GetGlobalLogger()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
