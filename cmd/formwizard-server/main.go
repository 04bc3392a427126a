package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	formwizard "github.com/PandiO/knk-form-engine"
	"github.com/PandiO/knk-form-engine/internal/httpapi"
	"github.com/PandiO/knk-form-engine/internal/openapi"
	"github.com/PandiO/knk-form-engine/internal/progressdb"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
)

type config struct {
	Addr        string
	DBPath      string
	ConfigDir   string
	OpenAPIPath string
}

func loadConfig() config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return config{
		Addr:        getEnv("HTTP_ADDR", ":8080"),
		DBPath:      getEnv("DB_PATH", "formwizard.db"),
		ConfigDir:   getEnv("CONFIG_DIR", "configs"),
		OpenAPIPath: getEnv("OPENAPI_PATH", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg := loadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	configs, err := loadConfigurations(cfg.ConfigDir, logger)
	if err != nil {
		log.Fatalf("load configurations: %v", err)
	}
	if len(configs) == 0 {
		log.Fatalf("no form configurations found under %s", cfg.ConfigDir)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	store, err := progressdb.New(db)
	if err != nil {
		log.Fatalf("prepare progress store: %v", err)
	}

	options := []formwizard.Option{
		formwizard.WithConfigProvider(mapProvider(configs)),
		formwizard.WithStore(store),
		formwizard.WithLogger(logger),
	}
	if cfg.OpenAPIPath != "" {
		raw, err := os.ReadFile(cfg.OpenAPIPath)
		if err != nil {
			log.Fatalf("read OpenAPI document: %v", err)
		}
		metadata, err := openapi.NewProvider(ctx, raw)
		if err != nil {
			log.Fatalf("parse OpenAPI document: %v", err)
		}
		options = append(options, formwizard.WithMetadataProvider(metadata))
	}
	engine := formwizard.New(options...)

	handler := httpapi.NewHandler(mapProvider(configs), logger, engine.SessionOptions()...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/api/v1", handler.Routes())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening", "addr", cfg.Addr, "configurations", len(configs))
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func loadConfigurations(dir string, logger *slog.Logger) (map[string]formwizard.FormConfiguration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	configs := make(map[string]formwizard.FormConfiguration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		loaded, err := formwizard.LoadConfigurationFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, issue := range formwizard.Diagnose(loaded) {
			logger.Warn("configuration issue", "file", entry.Name(), "issue", issue.String())
		}
		configs[loaded.ID] = loaded
		logger.Info("configuration loaded", "id", loaded.ID, "entity", loaded.EntityTypeName)
	}
	return configs, nil
}

func mapProvider(configs map[string]formwizard.FormConfiguration) formconfig.Provider {
	return formconfig.ProviderFunc(func(_ context.Context, ref formconfig.Ref) (formwizard.FormConfiguration, error) {
		if ref.ID != "" {
			if cfg, ok := configs[ref.ID]; ok {
				return cfg, nil
			}
			return formwizard.FormConfiguration{}, formconfig.ErrNotFound
		}
		for _, cfg := range configs {
			if strings.EqualFold(cfg.EntityTypeName, ref.EntityTypeName) {
				return cfg, nil
			}
		}
		return formwizard.FormConfiguration{}, formconfig.ErrNotFound
	})
}
