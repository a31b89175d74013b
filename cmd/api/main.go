package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authgrid.org/internal/config"
	"authgrid.org/internal/httpapi"
	"authgrid.org/internal/iam"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/store/pg"
)

var version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Version != "dev" {
		version = cfg.Version
	}

	obs.Init()
	obs.InitBuildInfo(version, cfg.Commit)

	if cfg.PGDSN == "" {
		log.Fatal("AUTHGRID_PG_DSN is required")
	}
	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	resolver := iam.NewResolver(store)
	issuer, err := iam.NewIssuer(resolver, []byte(cfg.JWTSecret), iam.WithTTL(cfg.JWTTTL))
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	core, err := iam.NewCore(store, issuer)
	if err != nil {
		log.Fatalf("core: %v", err)
	}

	guards := []iam.Guard{
		iam.NewBearerGuard(store, issuer),
		iam.NewClientGuard(store),
	}

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(probe, version, core, guards...)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	grpcSrv := httpapi.NewGRPCServer(probe)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		obs.LogEvent("info", "grpc_listening", map[string]any{"addr": cfg.GRPCAddr})
		if err := grpcSrv.Serve(ctx, grpcLis); err != nil {
			obs.LogEvent("error", "grpc_serve_failed", map[string]any{"error": err.Error()})
		}
	}()

	go func() {
		obs.LogEvent("info", "http_listening", map[string]any{
			"addr":    cfg.Addr,
			"service": "authgrid-api",
			"version": version,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	obs.LogEvent("info", "shutting_down", nil)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	obs.LogEvent("info", "stopped", nil)
}
