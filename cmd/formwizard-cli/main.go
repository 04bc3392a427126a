package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	formwizard "github.com/PandiO/knk-form-engine"
	"github.com/PandiO/knk-form-engine/internal/openapi"
	"github.com/PandiO/knk-form-engine/internal/progressdb"
	"github.com/PandiO/knk-form-engine/internal/tui"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "form configuration file (JSON or YAML)")
	openapiPath := flag.String("openapi", "", "OpenAPI document supplying entity metadata (required for submit)")
	dbPath := flag.String("db", "", "sqlite file for draft persistence (in-memory when empty)")
	resumeID := flag.String("resume", "", "progress id of a draft to resume")
	entityID := flag.String("entity", "", "entity id to edit instead of creating")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("missing -config")
	}

	ctx := context.Background()

	cfg, err := formwizard.LoadConfigurationFile(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	for _, issue := range formwizard.Diagnose(cfg) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", issue)
	}

	options := []formwizard.Option{
		formwizard.WithConfigProvider(singleConfigProvider(cfg)),
	}

	if *openapiPath != "" {
		raw, err := os.ReadFile(*openapiPath)
		if err != nil {
			log.Fatalf("read OpenAPI document: %v", err)
		}
		provider, err := openapi.NewProvider(ctx, raw)
		if err != nil {
			log.Fatalf("parse OpenAPI document: %v", err)
		}
		options = append(options, formwizard.WithMetadataProvider(provider))
	}

	if *dbPath != "" {
		db, err := gorm.Open(sqlite.Open(*dbPath), &gorm.Config{})
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		store, err := progressdb.New(db)
		if err != nil {
			log.Fatalf("prepare progress store: %v", err)
		}
		options = append(options, formwizard.WithStore(store))
	}

	engine := formwizard.New(options...)
	ref := formconfig.Ref{ID: cfg.ID}

	var wizard *formwizard.Session
	switch {
	case *resumeID != "":
		wizard, err = engine.Resume(ctx, ref, *resumeID)
	case *entityID != "":
		wizard, err = engine.EditSession(ctx, ref, *entityID)
	default:
		wizard, err = engine.NewSession(ctx, ref)
	}
	if errors.Is(err, session.ErrTerminalProgress) {
		log.Fatalf("progress %s is already completed or abandoned", *resumeID)
	}
	if err != nil {
		log.Fatalf("start session: %v", err)
	}

	runner := tui.NewRunner(tui.NewSurveyDriver(), wizard)
	if err := runner.Run(ctx); err != nil {
		if errors.Is(err, tui.ErrAborted) {
			fmt.Fprintln(os.Stderr, "aborted")
			os.Exit(1)
		}
		log.Fatalf("wizard: %v", err)
	}
}

func singleConfigProvider(cfg formwizard.FormConfiguration) formconfig.Provider {
	return formconfig.ProviderFunc(func(_ context.Context, ref formconfig.Ref) (formwizard.FormConfiguration, error) {
		if ref.ID == "" || ref.ID == cfg.ID || ref.EntityTypeName == cfg.EntityTypeName {
			return cfg, nil
		}
		return formwizard.FormConfiguration{}, formconfig.ErrNotFound
	})
}
