package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intake-bot-backend/internal/config"
	"intake-bot-backend/internal/handlers"
	"intake-bot-backend/internal/i18n"
	"intake-bot-backend/internal/middleware"
	"intake-bot-backend/internal/repository"
	"intake-bot-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Execute runs the command line
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "intake-bot",
		Short: "Telegram onboarding bot backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Config file path")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), configPath)
		},
	})

	return cmd
}

func migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg.Log.Level)

	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return repository.Migrate(ctx, db)
}

func serve(ctx context.Context, configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize repositories
	store := services.NewPostgresStore(
		repository.NewUserRepository(db),
		repository.NewUserInfoRepository(db),
		repository.NewAnalysisRepository(db),
	)

	// Initialize external clients
	photoStorage, err := services.NewPhotoStorage(ctx, services.PhotoStorageConfig{
		Region:     cfg.AWS.Region,
		Bucket:     cfg.AWS.S3Bucket,
		AccessKey:  cfg.AWS.AccessKey,
		SecretKey:  cfg.AWS.SecretKey,
		Endpoint:   cfg.AWS.Endpoint,
		PresignTTL: cfg.AWS.PresignTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create photo storage: %w", err)
	}

	gemini, err := services.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, photoStorage)
	if err != nil {
		return err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("Telegram bot authorized")

	botUsername := cfg.Telegram.BotUsername
	if botUsername == "" {
		botUsername = bot.Self.UserName
	}

	// Initialize services
	messenger := services.NewTelegramMessenger(bot, cfg.Telegram.RatePerSecond)
	texts := i18n.NewLocalizer(cfg.Telegram.DefaultLanguage)
	locks := services.NewUserLocks()
	tokens := services.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)

	intake := services.NewPhotoIntake(gemini, messenger, texts, services.SystemScheduler, locks, cfg.Intake.MediaGroupWindow)
	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Workers:        cfg.Dispatcher.Workers,
		QueueSize:      cfg.Dispatcher.QueueSize,
		MaxAttempts:    cfg.Dispatcher.MaxAttempts,
		SupportContact: cfg.Telegram.SupportContact,
	}, store, gemini, messenger, texts)
	onboarding := services.NewOnboarding(services.OnboardingConfig{
		BotUsername: botUsername,
		MiniAppURL:  cfg.Telegram.MiniAppURL,
		PurchaseURL: cfg.Telegram.PurchaseURL,
	}, store, intake, messenger, texts, gemini, dispatcher, tokens, locks)
	hub := services.NewMiniAppHub()
	bridge := services.NewNotificationBridge(onboarding, hub, cfg.Notifications.DedupTTL)

	// Initialize handlers
	telegramHandler := handlers.NewTelegramHandler(bot, onboarding, photoStorage, messenger)
	notificationHandler := handlers.NewNotificationHandler(bridge)
	analysisHandler := handlers.NewAnalysisHandler(store, photoStorage)
	wsHandler := handlers.NewWebSocketHandler(hub, tokens, bridge)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", handlers.Health)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.ServiceKeyMiddleware(cfg.Notifications.ServiceKey))
			r.Post("/notifications", notificationHandler.PostNotification)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(tokens))
			r.Get("/analysis", analysisHandler.GetLatest)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		bridge.Consume(ctx, dispatcher.Outcomes())
		return nil
	})
	g.Go(func() error {
		return telegramHandler.Run(ctx)
	})
	g.Go(func() error {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Int("pending_media_groups", intake.PendingGroups()).Msg("Server exited")
	return err
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test database connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")
	return db, nil
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+middleware.ServiceKeyHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
