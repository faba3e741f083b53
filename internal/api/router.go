package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"triage/internal/api/handlers"
	mw "triage/internal/api/middleware"
	"triage/internal/buildconfig"
	"triage/internal/config"
	"triage/internal/domain"
	"triage/internal/lexicon"
	"triage/internal/llm"
	"triage/internal/service"
	"triage/internal/store"
	"triage/internal/triage"
)

// App holds the router and request metrics.
type App struct {
	Router       *chi.Mux
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, lex *lexicon.Store, logger *zap.Logger) *App {
	// Stores
	sessionStore := store.NewSessionStore(db)
	messageStore := store.NewMessageStore(db)

	// Triage pipeline over the shared read-only lexicon
	engine := triage.NewEngine(lex)

	// Completion backend via provider factory
	llmProvider := config.LLMProvider()
	llmClient, err := llm.NewClient(llmProvider, config.LLMAPIKey(), config.ChatModel())
	if err != nil {
		logger.Warn("completion client initialization failed", zap.String("provider", llmProvider), zap.Error(err))
	} else {
		logger.Info("completion client initialized", zap.String("provider", llmProvider))
	}

	// Services
	sessionSvc := service.NewSessionService(sessionStore, messageStore, engine, llmClient, logger, service.Options{
		QuestionBudget:  config.QuestionBudget(),
		DefaultLanguage: config.DefaultLanguage(),
		ReplyMaxTokens:  config.ReplyMaxTokens(),
	})

	// Handlers
	chatHandler := handlers.NewChatHandler(sessionSvc, logger)
	sessionHandler := handlers.NewSessionHandler(sessionSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		startTime: time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health and metrics (no caller identity required)
	r.Get("/health", healthHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.CallerID)

		r.Post("/chat", chatHandler.Turn)
		r.Post("/chat/end", chatHandler.End)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)
			r.Get("/{id}", sessionHandler.GetByID)
			r.Put("/{id}/language", sessionHandler.UpdateLanguage)
		})
	})

	return app
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": buildconfig.Version(),
			"commit":  buildconfig.Commit(),
		})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb": float64(memStats.Alloc) / 1024 / 1024,
				"sys_mb":   float64(memStats.Sys) / 1024 / 1024,
				"num_gc":   memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.SessionStore     = (*store.SessionStore)(nil)
	_ domain.MessageStore     = (*store.MessageStore)(nil)
	_ domain.CompletionClient = (*llm.OpenAIClient)(nil)
	_ domain.CompletionClient = (*llm.MockClient)(nil)
)
