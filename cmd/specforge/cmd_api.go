package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/coordinator"
	"github.com/suPer8Hu/specforge/internal/db"
	"github.com/suPer8Hu/specforge/internal/httpapi"
	"github.com/suPer8Hu/specforge/internal/httpapi/handlers"
	"github.com/suPer8Hu/specforge/internal/store/rabbitmq"
)

var apiMigrate bool

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API",
	RunE:  runAPI,
}

func init() {
	apiCmd.Flags().BoolVar(&apiMigrate, "migrate", true, "Create or update tables before serving")
}

func runAPI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if apiMigrate {
		if err := db.Migrate(a.db); err != nil {
			return err
		}
	}

	var inProcess *coordinator.InProcessDispatcher
	switch a.cfg.Dispatch {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(a.cfg.RabbitURL, a.cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		a.coord.Dispatcher = pub
	default:
		inProcess = coordinator.NewInProcessDispatcher(a.coord.Run, a.logger)
		a.coord.Dispatcher = inProcess
	}

	var src handlers.EventSource
	if a.redis != nil {
		src = a.redis
	}
	h := handlers.NewHandler(a.coord.Projects, a.coord, src, a.logger)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, a.cfg.JWTSecret, a.cfg.CORSOrigins, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", zap.String("addr", a.cfg.HTTPAddr), zap.String("dispatch", a.cfg.Dispatch))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	// in-flight runs and VM warm-ups finish before the process exits
	if inProcess != nil {
		inProcess.Wait()
	}
	a.coord.Wait()
	return nil
}
