package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-unrest-alerts/internal/alerting"
	"github.com/mr1hm/go-unrest-alerts/internal/api"
	"github.com/mr1hm/go-unrest-alerts/internal/cluster"
	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/geo"
	"github.com/mr1hm/go-unrest-alerts/internal/ingestion"
	"github.com/mr1hm/go-unrest-alerts/internal/logging"
	"github.com/mr1hm/go-unrest-alerts/internal/metrics"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/moderation"
	"github.com/mr1hm/go-unrest-alerts/internal/nlp"
	"github.com/mr1hm/go-unrest-alerts/internal/pipeline"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
	"github.com/mr1hm/go-unrest-alerts/internal/risk"
	"github.com/mr1hm/go-unrest-alerts/internal/severity"
	"github.com/mr1hm/go-unrest-alerts/internal/verify"
	"github.com/mr1hm/go-unrest-alerts/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := alerting.NewBroadcaster()
	m := metrics.New()
	locks := worker.NewKeyMutex()

	geocoders := []geo.Geocoder{geo.NewGazetteer()}
	if cfg.Geo.NominatimEnabled {
		geocoders = append(geocoders, geo.NewNominatimClient(cfg.Geo.NominatimURL))
	}
	resolver := geo.NewResolver(cfg.Geo.CacheSize, geocoders...)

	engine := cluster.NewEngine(db, locks, cfg.Cluster, cfg.DB.MaxUpdateRetries)
	verifier := verify.NewEngine(cfg.Verify)
	classifier := severity.NewClassifier(cfg.Severity, cfg.Verify)
	pipe := pipeline.New(db, nlp.NewKeywordExtractor(), resolver, engine,
		verifier, classifier, broadcaster, m, locks, cfg)

	gate := moderation.NewGate(db, locks, verifier, classifier, cfg.Moderation, cfg.DB.MaxUpdateRetries)
	predictor := risk.NewPredictor(db, cfg.Risk)

	// Start ingestion: HTTP pollers plus the Kafka intake when brokers
	// are configured.
	mgr := ingestion.NewManager(cfg, pipe, buildCollectors(cfg)...)
	mgr.Start(ctx)

	var intake *ingestion.KafkaIntake
	if cfg.Kafka.Enabled() {
		intake = ingestion.NewKafkaIntake(cfg.Kafka, pipe)
		intake.Start(ctx)
	}

	go runMaintenance(ctx, pipe, cfg.Collection.PollInterval)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.API.RateLimitRPS))

	handler := api.NewHandler(db, gate, predictor, mgr, broadcaster, m)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	if intake != nil {
		if err := intake.Stop(); err != nil {
			slog.Error("kafka intake shutdown error", "error", err)
		}
	}
	broadcaster.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

// buildCollectors turns configured endpoints into pollers. Feed URLs
// default to the social kind; an entry like "forum=https://..." pins a
// different one. RSS endpoints always produce news posts.
func buildCollectors(cfg *config.Config) []ingestion.Collector {
	var collectors []ingestion.Collector

	for _, entry := range cfg.Collection.FeedURLs {
		kind := models.SourceSocial
		feedURL := entry
		if prefix, rest, ok := strings.Cut(entry, "="); ok {
			if k, kok := models.ParseSourceKind(prefix); kok {
				kind, feedURL = k, rest
			}
		}
		collectors = append(collectors,
			ingestion.NewFeedCollector(collectorName(feedURL), string(kind), feedURL))
	}
	for _, entry := range cfg.Collection.RSSURLs {
		collectors = append(collectors, ingestion.NewRSSCollector(collectorName(entry), entry))
	}
	return collectors
}

func collectorName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

// runMaintenance periodically retries posts whose enrichment failed and
// rescores open incidents so verification reflects aged-out windows.
func runMaintenance(ctx context.Context, pipe *pipeline.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := pipe.RetryUnextracted(ctx, 500); err != nil {
				slog.Error("maintenance retry failed", "error", err)
			} else if n > 0 {
				slog.Info("maintenance recovered posts", "count", n)
			}
			if _, err := pipe.RescoreOpen(ctx); err != nil {
				slog.Error("maintenance rescore failed", "error", err)
			}
		}
	}
}
