package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shd/internal/controllers"
	"shd/internal/poller/interfaces"
	"shd/internal/providers"
	"shd/internal/services"
	"shd/internal/storage"
	"shd/internal/structures"
)

type App struct {
	WebServer *http.Server

	logger     providers.Logger
	scheduler  interfaces.SchedulerInterface
	monitor    interfaces.MonitorInterface
	evictor    services.EvictorInterface
	backend    storage.Backend
	compressor storage.CompressorInterface
}

// NewHandler mounts infrastructure endpoints next to the API router.
func NewHandler(conf *structures.Config, router providers.RouterProviderInterface, healthController *controllers.HealthController) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthController.Health)
	if conf.Metrics.Enabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	mux.Handle("/", router.Handler())
	return mux
}

// NewApp runs the daemon until SIGINT or SIGTERM and then shuts it down.
func NewApp(conf *structures.Config, logger providers.Logger, router providers.RouterProviderInterface, healthController *controllers.HealthController, scheduler interfaces.SchedulerInterface, monitor interfaces.MonitorInterface, evictor services.EvictorInterface, backend storage.Backend, compressor storage.CompressorInterface) (*App, error) {
	logger.Infof(providers.TypeApp, "Starting %s in %s mode", conf.AppName, conf.Mode)

	app := &App{
		WebServer: &http.Server{
			Addr:         conf.WebServer.Host + ":" + strconv.Itoa(conf.WebServer.Port),
			Handler:      NewHandler(conf, router, healthController),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:     logger,
		scheduler:  scheduler,
		monitor:    monitor,
		evictor:    evictor,
		backend:    backend,
		compressor: compressor,
	}

	monitor.Start()
	evictor.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof(providers.TypeApp, "Listening HTTP clients on %s:%d", conf.WebServer.Host, conf.WebServer.Port)
		if err := app.WebServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
		logger.Infof(providers.TypeApp, "Shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	if err := app.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return nil, runErr
	}
	return app, nil
}

// shutdown stops pollers first so no tick writes during shutdown, then HTTP,
// then storage. Log files are closed last.
func (a *App) shutdown() error {
	defer a.logger.Close()

	a.monitor.Stop()
	a.evictor.Stop()
	a.scheduler.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.WebServer.Shutdown(ctx)

	if cerr := a.backend.Close(); cerr != nil {
		a.logger.Errorf(providers.TypeStorage, "Closing storage failed: %v", cerr)
	}
	a.compressor.Close()
	if err == nil {
		a.logger.Infof(providers.TypeApp, "gracefully stopped")
	}
	return err
}
