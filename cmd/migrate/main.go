package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/denwal/poolgate/internal/config"
	"github.com/denwal/poolgate/internal/database"
	_ "github.com/denwal/poolgate/internal/database/mysql"
	_ "github.com/denwal/poolgate/internal/database/postgres"
	"github.com/denwal/poolgate/internal/filestore/minio"
	"github.com/denwal/poolgate/internal/logger"
	"github.com/denwal/poolgate/internal/migrate"
	"github.com/denwal/poolgate/internal/report"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var tables string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (defaults to $MIGRATE_CONFIG_FILE)")
	flag.StringVar(&tables, "tables", "", "comma-separated tables to copy (overrides config)")
	flag.Parse()

	cfg, err := config.LoadMigrate(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("invalid configuration: %v", err))
		return 1
	}
	if tables != "" {
		cfg.Tables = nil
		for _, t := range strings.Split(tables, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Tables = append(cfg.Tables, t)
			}
		}
	}

	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.SetGlobal(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Warn("interrupt received, aborting copy")
		cancel()
	}()

	source, err := database.Open(ctx, cfg.Source)
	if err != nil {
		log.Errorf("source connect failed: %v", err)
		return 1
	}
	defer source.Close()

	target, err := database.Open(ctx, cfg.Target)
	if err != nil {
		log.Errorf("target connect failed: %v", err)
		return 1
	}
	defer target.Close()

	copier := migrate.NewCopier(
		migrate.Endpoint{DB: source, Driver: cfg.Source.Driver, Label: endpointLabel(cfg.Source)},
		migrate.Endpoint{DB: target, Driver: cfg.Target.Driver, Label: endpointLabel(cfg.Target)},
		migrate.Options{Tables: cfg.Tables, Workers: cfg.Workers, BatchSize: cfg.BatchSize},
		log,
	)

	rep, err := copier.Run(ctx)
	if err != nil {
		log.Errorf("copy run failed: %v", err)
		return 1
	}

	if cfg.ReportEnabled() {
		publishReport(ctx, cfg, rep, log)
	}

	if rep.HasFailures() {
		return 1
	}
	return 0
}

// publishReport uploads the run report. Failures are logged and
// swallowed; a lost report never fails a finished copy.
func publishReport(ctx context.Context, cfg *config.Migrate, rep *migrate.Report, log *logger.Logger) {
	store, err := minio.New(ctx, cfg.Report.Store)
	if err != nil {
		log.ErrorWith("report store unavailable, skipping upload", err, nil)
		return
	}
	defer store.Close()

	sink := report.NewSink(store, cfg.Report.Bucket, cfg.Report.Prefix, log)
	url, err := sink.Publish(ctx, rep.RunID, rep)
	if err != nil {
		log.ErrorWith("report upload failed", err, nil)
		return
	}
	log.Infof("run report available at %s", url)
}

func endpointLabel(c database.Config) string {
	return fmt.Sprintf("%s:%d/%s", c.Host, c.EffectivePort(), c.Name)
}
