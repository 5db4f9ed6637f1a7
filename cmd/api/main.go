package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FireBladesAdi/dental-form-pro/internal/app"
	"github.com/FireBladesAdi/dental-form-pro/internal/config"
	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/export"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
	"github.com/FireBladesAdi/dental-form-pro/internal/metrics"
	"github.com/FireBladesAdi/dental-form-pro/internal/search"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	rawStore, err := docstore.Open(ctx, docstore.Settings{
		Driver:        cfg.StoreDriver,
		Namespace:     cfg.StoreNamespace,
		RedisURL:      cfg.RedisURL,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsDir,
	})
	if err != nil {
		log.Fatalf("store connection failed: %v", err)
	}
	defer rawStore.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	store := metrics.InstrumentStore(rawStore, m)
	engine := intake.New(store,
		intake.WithExclusiveClaims(cfg.ExclusiveClaims()),
		intake.WithObserver(m),
	)

	var seeds []intake.SeedTemplate
	if strings.TrimSpace(cfg.SeedTemplatesFile) != "" {
		seeds, err = loadSeeds(cfg.SeedTemplatesFile)
		if err != nil {
			log.Fatalf("seed templates: %v", err)
		}
		log.Printf("Loaded %d seed templates from %s", len(seeds), cfg.SeedTemplatesFile)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewLedgerScan(engine.Ledger))
	defer searchService.Close()

	var uploader *export.Uploader
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		uploader, err = export.NewUploader(ctx, export.UploaderConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: export uploads disabled: %v", err)
			uploader = nil
		}
	}

	service := app.NewService(store, engine, app.Options{
		Search:   searchService,
		Uploader: uploader,
		Feeds:    m,
		Seeds:    seeds,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, nil)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for a check-in that waits for its session.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Dental intake API listening on %s (store=%s)", cfg.Addr, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func loadSeeds(path string) ([]intake.SeedTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return intake.ParseSeeds(f)
}
