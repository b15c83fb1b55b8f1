package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowdata/salesreport/internal/config"
	"github.com/flowdata/salesreport/internal/database"
	"github.com/flowdata/salesreport/internal/enrich"
	"github.com/flowdata/salesreport/internal/ingest"
	"github.com/flowdata/salesreport/internal/loader"
	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/report"
	"github.com/flowdata/salesreport/internal/repository"
	"github.com/flowdata/salesreport/internal/resolver"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting enrichment pipeline", map[string]interface{}{
		"environment": cfg.Server.Env,
		"orders_file": cfg.Pipeline.OrdersFile,
		"ip_file":     cfg.Pipeline.IPFile,
		"batch_size":  cfg.Pipeline.BatchSize,
	})

	// A signal aborts the run cleanly between batches and resolutions
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create database connection pool
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	// Explicit schema initialization before any load
	if err := db.Migrate(ctx); err != nil {
		log.Fatal("Failed to initialize schema", err, nil)
	}

	log.Info("Database ready", map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Name,
	})

	// Wire the pipeline
	reader := ingest.NewReader(log)
	bulkLoader := loader.New(db, log)
	orderRepo := repository.NewOrderRepository(db)
	locationRepo := repository.NewLocationRepository(db)

	client := resolver.NewClient(cfg.Resolver, resolver.PolicyFromConfig(cfg.Resolver), log)
	cache := enrich.NewCache(client, locationRepo, log)

	coordinator := enrich.NewCoordinator(reader, bulkLoader, orderRepo, cache, enrich.RunConfig{
		OrdersFile: cfg.Pipeline.OrdersFile,
		IPFile:     cfg.Pipeline.IPFile,
		BatchSize:  cfg.Pipeline.BatchSize,
		Workers:    cfg.Resolver.Workers,
	}, log)

	// Run the enrichment
	summary, err := coordinator.Run(ctx)
	if summary != nil {
		log.Info("Run summary", map[string]interface{}{
			"run_id":          summary.RunID,
			"state":           summary.State,
			"orders_read":     summary.OrdersRead,
			"orders_skipped":  summary.OrdersSkipped,
			"orders_inserted": summary.OrdersInserted,
			"ips_loaded":      summary.IPsLoaded,
			"ips_resolved":    summary.IPsResolved,
			"ips_failed":      summary.IPsFailed,
			"orders_enriched": summary.OrdersEnriched,
			"duration_ms":     summary.Duration.Milliseconds(),
		})
		for _, failure := range summary.Failures {
			log.Warn("Unresolved address", map[string]interface{}{
				"run_id": summary.RunID,
				"ip":     failure.IP,
				"reason": failure.Reason,
			})
		}
	}
	if err != nil {
		log.Error("Pipeline run failed; committed progress is kept and a re-run is safe", err, nil)
		os.Exit(1)
	}

	// Produce the flat export and the quarterly sales report
	writer := report.NewWriter(orderRepo, log)

	if _, err := writer.WriteExport(ctx, cfg.Pipeline.ExportFile); err != nil {
		log.Error("Failed to write export file", err, map[string]interface{}{
			"path": cfg.Pipeline.ExportFile,
		})
		os.Exit(1)
	}

	if cfg.Pipeline.ReportState != "" {
		path, rows, err := writer.WriteQuarterlySales(ctx, cfg.Pipeline.ReportDir, cfg.Pipeline.ReportState, cfg.Pipeline.ReportYear)
		if err != nil {
			log.Error("Failed to write quarterly sales report", err, map[string]interface{}{
				"state": cfg.Pipeline.ReportState,
				"year":  cfg.Pipeline.ReportYear,
			})
			os.Exit(1)
		}
		if rows == 0 {
			log.Warn("No sales data found for report", map[string]interface{}{
				"state": cfg.Pipeline.ReportState,
				"year":  cfg.Pipeline.ReportYear,
				"path":  path,
			})
		}
	}

	log.Info("Pipeline finished", nil)
}
