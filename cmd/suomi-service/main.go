// main package for the suomi-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/book-expert/logger"
	"go.opentelemetry.io/otel"

	"github.com/book-expert/suomi-tutor/internal/config"
	"github.com/book-expert/suomi-tutor/internal/httpapi"
	"github.com/book-expert/suomi-tutor/internal/worker"
)

const (
	serviceName      = "suomi-service"
	bootstrapLogFile = "suomi-service-bootstrap.log"
	serviceLogFile   = "suomi-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, otel.GetMeterProvider().Meter(serviceName), finalLog)
	if err != nil {
		finalLog.Error("Failed to initialise services: %v", err)

		return err
	}
	defer app.Close()

	finalLog.System("%s initialised with %s storage; HTTP on %s", serviceName, cfg.Storage.Backend, cfg.HTTP.Addr)

	return serve(ctx, stop, cfg, app, finalLog)
}

// serve runs the HTTP API and, when enabled, the prefetch worker until ctx
// ends or one of them fails.
func serve(ctx context.Context, stop context.CancelFunc, cfg *config.Config, app *application, log *logger.Logger) error {
	server := httpapi.New(app.services, httpapi.Options{
		Addr:              cfg.HTTP.Addr,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		TrustForwarded:    cfg.HTTP.TrustForwarded,
		MaxUploadBytes:    cfg.HTTP.MaxUploadBytes,
	}, log)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	record := func(err error) {
		if err == nil {
			return
		}

		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		stop()
	}

	wg.Add(1)

	go func() {
		defer wg.Done()
		record(server.Run(ctx))
	}()

	if cfg.NATS.WorkerEnabled && app.natsConnection != nil {
		prefetchWorker, err := worker.NewNatsWorker(
			app.natsConnection, cfg.NATS.TextProcessedSubject, app.texts, app.speech, log,
			worker.WithQuotaReserve(app.queue, cfg.NATS.PrefetchReserve),
		)
		if err != nil {
			record(fmt.Errorf("failed to create worker: %w", err))
		} else {
			wg.Add(1)

			go func() {
				defer wg.Done()
				record(prefetchWorker.Run(ctx))
			}()
		}
	}

	<-ctx.Done()
	wg.Wait()

	log.System("%s stopped", serviceName)

	return errors.Join(errs...)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
