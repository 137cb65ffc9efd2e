package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"ecocredit.org/internal/app"
	"ecocredit.org/internal/config"
	"ecocredit.org/internal/httpapi"
	"ecocredit.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configFile := flag.String("config", "", "path to config file (default: ./ecocredit.yaml if present)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *configFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer a.Close()

	api := a.API(version)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	var grpcSrv *grpc.Server
	if cfg.HTTP.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(httpapi.ReadyFunc(a.Ready))
		health.Register(grpcSrv)
		go health.Watch(ctx, 10*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc serve", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("starting ecocredit-api",
		slog.String("version", version),
		slog.String("addr", srv.Addr),
		slog.String("grpc_addr", cfg.HTTP.GRPCAddr),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("registry", cfg.Registry.Backend),
		slog.String("evidence", cfg.Evidence.Backend))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("listen", slog.String("error", err.Error()))
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	logger.Info("stopped")
}
