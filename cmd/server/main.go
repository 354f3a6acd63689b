package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"mindjournal/internal/analyzer"
	"mindjournal/internal/config"
	"mindjournal/internal/db"
	"mindjournal/internal/devicestore"
	"mindjournal/internal/handlers"
	"mindjournal/internal/journal"
	"mindjournal/internal/llm"
	mw "mindjournal/internal/middleware"
	"mindjournal/internal/remote"
	"mindjournal/internal/services"
	"mindjournal/internal/syncstore"
)

func newLogger(cfg *config.Config) *zap.Logger {
	var logger *zap.Logger
	var err error
	if cfg != nil && cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func newProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (llm.TextAnalyzer, func(), error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		p, err := llm.NewOpenAI(llm.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}, logger)
		return p, func() {}, err
	case config.ProviderGemini:
		p, err := llm.NewGemini(ctx, llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	default:
		logger.Info("text analysis disabled; replies use the fallback message")
		return llm.Disabled{}, func() {}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger(nil).Fatal("invalid configuration", zap.Error(err))
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	if err := cfg.RequireJWT(); err != nil {
		logger.Fatal("missing configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var encSvc *services.EncryptionService
	if cfg.Encrypted() {
		if encSvc, err = services.NewEncryptionService(cfg.EncryptionKey, cfg.BlindIndexKey); err != nil {
			logger.Fatal("failed to init encryption", zap.Error(err))
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set; emails and payloads are stored in the clear")
	}

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	dbConn, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open db", zap.Error(err))
	}
	defer dbConn.Close()
	dbConn.SetMaxOpenConns(10)
	dbConn.SetConnMaxLifetime(2 * time.Hour)

	// An unreachable database at boot is tolerated: writes fall back to the
	// device store and the sync worker replays them once it is back.
	if err := dbConn.PingContext(ctx); err != nil {
		logger.Warn("database unreachable at startup", zap.Error(err))
	} else if err := db.RunMigrations(ctx, dbConn); err != nil {
		logger.Fatal("failed migrations", zap.Error(err))
	}

	device, err := devicestore.Open(cfg.DevicePath)
	if err != nil {
		logger.Fatal("failed to open device store", zap.String("path", cfg.DevicePath), zap.Error(err))
	}
	defer device.Close()

	lex := analyzer.DefaultLexicon()
	if cfg.LexiconPath != "" {
		if lex, err = analyzer.LoadLexicon(cfg.LexiconPath); err != nil {
			logger.Fatal("failed to load lexicon", zap.String("path", cfg.LexiconPath), zap.Error(err))
		}
	}

	provider, closeProvider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init text analysis", zap.Error(err))
	}
	defer closeProvider()

	var sealer remote.Sealer
	if encSvc != nil {
		sealer = encSvc
	}
	tables := remote.NewTables(dbConn, sealer)
	store := syncstore.New(tables, device, logger.Named("syncstore"))
	svc := journal.NewService(store, analyzer.New(lex), provider, logger.Named("journal"))

	go syncstore.NewWorker(store, cfg.SyncInterval, logger.Named("sync")).Run(ctx)

	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))
	authHandler := handlers.NewAuthHandler(dbConn, encSvc, authMW, logger)
	userHandler := handlers.NewUserHandler(dbConn, encSvc, logger)
	analyzerHandler := handlers.NewAnalyzerHandler(svc)
	journalHandler := handlers.NewJournalHandler(svc, logger)
	cbtHandler := handlers.NewCBTHandler(svc, logger)
	conversationHandler := handlers.NewConversationHandler(svc, logger)
	insightsHandler := handlers.NewInsightsHandler(svc, tables, logger)
	migrateHandler := handlers.NewMigrateHandler(store, logger)
	adminHandler := handlers.NewAdminHandler(dbConn, tables, store, logger)
	syncHandler := handlers.NewSyncHandler(store, adminHandler.IsAdmin, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.ZapRequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/signup", authHandler.Signup)
		api.Post("/auth/login", authHandler.Login)
		api.Post("/auth/anonymous", authHandler.Anonymous)
		api.Group(func(pr chi.Router) {
			pr.Use(authMW.RequireAuth)
			pr.Get("/me", userHandler.GetMe)
			pr.Put("/me", userHandler.UpdateMe)
			pr.Post("/analyze", analyzerHandler.Analyze)
			pr.Post("/entries", journalHandler.Create)
			pr.Get("/entries", journalHandler.List)
			pr.Post("/cbt", cbtHandler.Start)
			pr.Get("/cbt", cbtHandler.List)
			pr.Post("/cbt/{id}/answer", cbtHandler.Answer)
			pr.Post("/conversation", conversationHandler.Send)
			pr.Get("/conversation", conversationHandler.List)
			pr.Get("/insights", insightsHandler.Get)
			pr.Post("/sync", syncHandler.Sync)
			pr.Get("/sync/status", syncHandler.Status)
			pr.Post("/migrate", migrateHandler.MigrateData)
			pr.Get("/admin/overview", adminHandler.Overview)
		})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	logger.Info("server stopped")
}
