package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"

	"androidfleet/internal/adb"
	"androidfleet/internal/api"
	"androidfleet/internal/config"
	"androidfleet/internal/device"
	"androidfleet/internal/imaging"
	"androidfleet/internal/job"
	"androidfleet/internal/logging"
	"androidfleet/internal/workflow"
)

func main() {
	logFile, err := logging.Setup("log")
	if err != nil {
		log.Printf("warning: failed to set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	logging.Info("starting androidfleet server")

	cfg := config.FromEnv()

	if err := os.MkdirAll("./data", 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	if err := runMigrations(db, cfg.MigrationsPath); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	templates, err := imaging.NewTemplateStore(db, cfg.TemplatesDir)
	if err != nil {
		log.Fatalf("failed to init template store: %v", err)
	}
	repo := workflow.NewRepo(db)
	matcher := imaging.NewMatcher()
	interpreter := workflow.NewInterpreter(templates, matcher, workflow.NullExtractor{}, cfg.GamePackage, cfg.AccountRemotePath, time.Duration(cfg.ColdStartSeconds)*time.Second)

	bus := job.NewStatusBus()
	transport := adb.New(cfg.ADBPath)
	registry := device.NewRegistry(transport, bus)
	coordinator := job.NewCoordinator(registry, repo, templates, interpreter, bus, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go registry.PollLoop(ctx, time.Duration(cfg.DevicePollIntervalSeconds)*time.Second)

	wsHub := api.NewWebSocketHub(bus)
	go wsHub.Run()

	handlers := &api.Handlers{
		Registry:    registry,
		Coordinator: coordinator,
		Repo:        repo,
		Templates:   templates,
		Cfg:         cfg,
	}

	router := gin.Default()
	api.SetupRoutes(router, handlers, wsHub)

	logging.Info("server listening on %s", cfg.HTTPAddr)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func runMigrations(db *sql.DB, path string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = db.Exec(string(sqlBytes))
	return err
}
