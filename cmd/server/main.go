package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/denwal/poolgate/internal/config"
	"github.com/denwal/poolgate/internal/database"
	_ "github.com/denwal/poolgate/internal/database/mysql"
	_ "github.com/denwal/poolgate/internal/database/postgres"
	"github.com/denwal/poolgate/internal/gateway"
	"github.com/denwal/poolgate/internal/health"
	"github.com/denwal/poolgate/internal/lifecycle"
	"github.com/denwal/poolgate/internal/logger"
	"github.com/denwal/poolgate/internal/metrics"
	"github.com/denwal/poolgate/internal/server"
)

const shutdownGrace = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("invalid configuration: %v", err))
		return 1
	}

	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.SetGlobal(log)

	log.InfoWith("starting server", map[string]interface{}{
		"env":           cfg.Env,
		"port":          cfg.Port,
		"db_configured": cfg.Database.Configured(),
	})

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("poolgate", reg)

	// A missing database config disables the pool but never the process.
	var opener lifecycle.OpenFunc
	if cfg.Database.Configured() {
		dbCfg := cfg.Database
		opener = func(ctx context.Context) (database.DB, error) {
			return database.Open(ctx, dbCfg)
		}
	}

	mgr := lifecycle.NewManager(cfg.Lifecycle, opener, log, m)
	mgr.Start()

	reporter := health.NewReporter(mgr, cfg.Env, cfg.Lifecycle.ProbeTimeout)
	gw := gateway.New(mgr, gateway.Config{
		AcquireTimeout: cfg.Database.AcquireTimeout,
		QueryTimeout:   cfg.Database.QueryTimeout,
	}, log, m)

	srv := server.New(server.Config{
		Addr:      cfg.Addr(),
		StaticDir: cfg.StaticDir,
	}, reporter, gw, log, m, reg)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Errorf("server failed: %v", err)
			return 1
		}
		return 0
	case sig := <-quit:
		log.Infof("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		log.Errorf("pool shutdown: %v", err)
	}
	<-serveErr

	log.Info("shutdown complete")
	return 0
}
