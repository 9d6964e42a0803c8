package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"google.golang.org/api/option"

	"pagechat/features/chat"
	"pagechat/features/document"
	"pagechat/features/job"
	"pagechat/features/stats"
	"pagechat/internal/adapter/gemini"
	"pagechat/internal/adapter/reranker"
	"pagechat/internal/config"
	"pagechat/internal/conversation"
	"pagechat/internal/fetch"
	"pagechat/internal/ingest"
	"pagechat/internal/llm"
	"pagechat/internal/middleware"
	"pagechat/internal/plan"
	"pagechat/internal/rag"
	"pagechat/internal/retrieval"
	"pagechat/internal/settings"
	"pagechat/internal/text"
	"pagechat/internal/vector"
	"pagechat/internal/worker"
)

type VectorStore interface {
	vector.Store
	EnsureSchema(ctx context.Context) error
	CountChunks(ctx context.Context) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Options swaps out provider adapters, mostly for tests.
type Options struct {
	Embedder       llm.Embedder
	ChatModel      llm.ChatModel
	YouTubeOptions []option.ClientOption
}

type App struct {
	Handler        http.Handler
	Documents      *document.Service
	Engine         *rag.Engine
	Pipeline       *ingest.Pipeline
	IngestConsumer *worker.IngestConsumer

	cfg      *config.Config
	queryLog *retrieval.QueryLogger
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	splitter, err := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(db))
	if seeded, err := settingsService.SeedKeys(context.Background(), cfg.GeminiAPIKey, cfg.YouTubeAPIKey, cfg.RerankAPIKey); err != nil {
		logger.Warn("failed to seed provider keys", "error", err)
	} else if seeded {
		logger.Info("seeded provider keys from environment")
	}
	settingsHandler := settings.NewHandler(settingsService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Document
	docRepo := document.NewPostgresRepo(db)
	docService := document.NewService(docRepo, taskPub, vecStore, jobRepo)
	docHandler := document.NewHandler(docService, cfg.UploadDir, cfg.MaxUploadSizeMB)

	// Adapters: Dynamic
	var embedder llm.Embedder = opts.Embedder
	if embedder == nil {
		embedder = gemini.NewDynamicEmbedder(settingsService).WithRateLimit(cfg.EmbedRatePerSecond)
	}
	var chatModel llm.ChatModel = opts.ChatModel
	if chatModel == nil {
		chatModel = gemini.NewDynamicChatModel(settingsService)
	}
	rerankerClient := reranker.NewDynamicClient(settingsService)

	// Ingestion
	httpClient := fetch.NewHTTPClient(60 * time.Second)
	fetchers := fetch.NewRegistry()
	fetchers.Register(string(document.KindPDF), fetch.NewPDF(httpClient, cfg.FetchMaxBytes))
	fetchers.Register(string(document.KindWebPage), fetch.NewWeb(httpClient, cfg.FetchMaxBytes))
	fetchers.Register(string(document.KindYouTube), fetch.NewYouTube(youtubeKey(settingsService), opts.YouTubeOptions...))

	plans := plan.NewService(plan.NewPostgresRepo(db), settingsService)
	pipeline := ingest.NewPipeline(docRepo, vecStore, fetchers, embedder, splitter, plans, cfg.EmbedConcurrency)
	ingestConsumer := worker.NewIngestConsumer(pipeline, jobRepo, cfg.IngestMaxAttempts,
		time.Duration(cfg.IngestTimeoutSeconds)*time.Second)

	// Retrieval & chat
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, vecStore, rerankerClient, queryLogger)

	messages := conversation.NewPostgresStore(db)
	engine := rag.NewEngine(docService, messages, retrievalService, chatModel, settingsService)
	chatHandler := chat.NewHandler(engine, docService, messages)

	// Feature: Stats
	statsHandler := stats.NewHandler(docService, messages, jobService, vecStore)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.HeaderUserID)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	route := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(enableCORS(middleware.Authenticate(h).ServeHTTP))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", route(docHandler.Create))
	mux.Handle("POST /documents/upload", route(docHandler.Upload))
	mux.Handle("GET /documents", route(docHandler.List))
	mux.Handle("GET /documents/{id}", route(docHandler.Get))
	mux.Handle("GET /documents/{id}/status", route(docHandler.Status))
	mux.Handle("DELETE /documents/{id}", route(docHandler.Delete))

	mux.Handle("POST /documents/{id}/messages", route(chatHandler.Ask))
	mux.Handle("GET /documents/{id}/messages", route(chatHandler.List))

	mux.Handle("GET /settings", route(settingsHandler.GetSettings))
	mux.Handle("PUT /settings", route(settingsHandler.UpdateSettings))

	mux.Handle("GET /jobs/failed", route(jobHandler.List))
	mux.Handle("POST /jobs/{id}/retry", route(jobHandler.Retry))

	mux.Handle("GET /stats", route(statsHandler.GetStats))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:        mux,
		Documents:      docService,
		Engine:         engine,
		Pipeline:       pipeline,
		IngestConsumer: ingestConsumer,
		cfg:            cfg,
		queryLog:       queryLogger,
	}, nil
}

// The YouTube key is read per request so a settings update takes effect
// without a restart.
func youtubeKey(svc *settings.Service) fetch.KeyFunc {
	return func(ctx context.Context) (string, error) {
		set, err := svc.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get settings: %w", err)
		}
		return set.YouTubeAPIKey, nil
	}
}

// StartIngestWorker subscribes the ingest consumer to the document topic.
// The returned consumer must be stopped by the caller.
func (a *App) StartIngestWorker() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxAttempts = a.cfg.IngestMaxAttempts
	nsqCfg.MaxInFlight = max(1, a.cfg.IngestConcurrency)
	// Leave room for the handler's own timeout before nsqd redelivers.
	nsqCfg.MsgTimeout = time.Duration(a.cfg.IngestTimeoutSeconds)*time.Second + 30*time.Second

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(a.IngestConsumer, max(1, a.cfg.IngestConcurrency))

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}
	slog.Info("ingest worker connected", "topic", config.TopicIngestDocument, "channel", config.ChannelIngestWorker)
	return consumer, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	defer func() {
		if err := a.queryLog.Close(); err != nil {
			slog.Error("failed to close query log", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
