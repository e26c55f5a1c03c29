package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	openai "github.com/sashabaranov/go-openai"

	"github.com/un-fck/webtv.unfck.org/internal/config"
	"github.com/un-fck/webtv.unfck.org/internal/handlers"
	"github.com/un-fck/webtv.unfck.org/internal/janitor"
	"github.com/un-fck/webtv.unfck.org/internal/logging"
	"github.com/un-fck/webtv.unfck.org/internal/media"
	"github.com/un-fck/webtv.unfck.org/internal/pipeline"
	"github.com/un-fck/webtv.unfck.org/internal/speakers"
	"github.com/un-fck/webtv.unfck.org/internal/store"
	"github.com/un-fck/webtv.unfck.org/internal/stt"
	"github.com/un-fck/webtv.unfck.org/internal/topics"
)

func main() {
	log := logging.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	resolver := media.NewResolver(cfg.Media.BaseURL, cfg.Media.PartnerID,
		logging.Component(log, "media"))
	sttClient := stt.NewClient(cfg.Transcription.BaseURL, cfg.Transcription.APIKey,
		logging.Component(log, "stt"))

	llmConfig := openai.DefaultConfig(cfg.Classifier.APIKey)
	if cfg.Classifier.BaseURL != "" {
		llmConfig.BaseURL = cfg.Classifier.BaseURL
	}
	llm := openai.NewClientWithConfig(llmConfig)

	attributor := speakers.NewAttributor(llm, db, cfg.Classifier.Model,
		logging.Component(log, "speakers"))
	tagger := topics.NewTagger(llm, cfg.Classifier.Model,
		cfg.Classifier.TaggerConcurrency, cfg.Classifier.ContextWindow,
		logging.Component(log, "topics"))

	lockTimeout := time.Duration(cfg.Pipeline.LockTimeoutMinutes) * time.Minute
	orchestrator := pipeline.New(db, resolver, media.NoopSegmentDownloader{},
		sttClient, attributor, tagger,
		pipeline.Options{
			PollInterval:    time.Duration(cfg.Transcription.PollIntervalSeconds) * time.Second,
			PollMaxAttempts: cfg.Transcription.PollMaxAttempts,
			LockTimeout:     lockTimeout,
		},
		logging.Component(log, "pipeline"))

	lockJanitor := janitor.NewScheduler(db,
		time.Duration(cfg.Pipeline.JanitorIntervalMin)*time.Minute,
		lockTimeout, logging.Component(log, "janitor"))
	lockJanitor.Start()
	defer lockJanitor.Stop()

	app := fiber.New(fiber.Config{
		AppName: "webtv-transcripts",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	transcriptHandler := handlers.NewTranscriptHandler(orchestrator, db,
		logging.Component(log, "handlers"))
	pipelineHandler := handlers.NewPipelineHandler(orchestrator,
		logging.Component(log, "handlers"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api := app.Group("/api")
	api.Post("/transcribe", transcriptHandler.Transcribe)
	api.Get("/transcripts/:id", transcriptHandler.Status)
	api.Get("/transcripts/:id/full", transcriptHandler.Full)
	api.Post("/transcripts/:id/speakers", pipelineHandler.IdentifySpeakers)
	api.Post("/transcripts/:id/topics", pipelineHandler.TagTopics)
	api.Post("/gaps", pipelineHandler.Gaps)
	api.Get("/videos/:id/transcripts", transcriptHandler.List)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Infof("Server starting on %s", addr)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.WithError(err).Warn("server shutdown")
		}
		orchestrator.Wait()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
