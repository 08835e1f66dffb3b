package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"student-registry/internal/cache"
	"student-registry/internal/config"
	"student-registry/internal/credential"
	"student-registry/internal/database"
	"student-registry/internal/handler"
	"student-registry/internal/mail"
	"student-registry/internal/middleware"
	"student-registry/internal/repository"
	"student-registry/internal/router"
	"student-registry/internal/service"
	"student-registry/internal/token"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

type studentStore interface {
	service.StudentStore
	Ping(ctx context.Context) error
}

func New(cfg *config.Config) (*App, error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	students, events, err := openStore(cfg, &cleanup)
	if err != nil {
		closeAll()
		return nil, err
	}

	codec, err := token.NewCodec(cfg.Signing())
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}
	hasher := credential.NewHasher(cfg.Argon2())

	auditService := service.NewAuditService(events)
	sessions := service.NewSessionManager(students, codec, hasher, auditService, service.SessionConfig{
		AccessTTL:        cfg.AccessTokenTTL,
		RefreshTTL:       cfg.RefreshTokenTTL,
		ResetPasswordTTL: cfg.ResetPasswordTokenTTL,
	})
	studentService := service.NewStudentService(
		students,
		sessions,
		codec,
		hasher,
		newMailer(cfg),
		mail.Composer{Sender: cfg.MailSender, PublicURL: cfg.PublicURL},
		auditService,
		service.StudentConfig{ActivateAccountTTL: cfg.ActivateAccountTokenTTL},
	)

	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	redisClient, err := cache.NewRedisClient(context.Background(), cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	switch {
	case err != nil:
		slog.Warn("redis unavailable, rate limits stay per process", "error", err)
	case redisClient != nil:
		rateLimit.WithSharedBucket(middleware.NewRedisBucket(redisClient, "ratelimit"))
		cleanup = append(cleanup, func() { _ = redisClient.Close() })
		slog.Info("rate limits shared through redis", "addr", cfg.RedisAddr)
	}

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(sessions), rateLimit, router.Handlers{
		Auth: handler.NewAuthHandler(sessions, studentService, handler.CookieConfig{
			Name:   cfg.RefreshCookieName,
			Path:   cfg.RefreshCookiePath,
			Secure: cfg.CookieSecure,
		}),
		Student: handler.NewStudentHandler(studentService, auditService),
		Health:  handler.NewHealthHandler(students),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{server: server, cleanupFuncs: cleanup}, nil
}

func openStore(cfg *config.Config, cleanup *[]func()) (studentStore, service.AuthEventStore, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory store, data is lost on restart")
		store := repository.NewMemoryStore()
		return store, store, nil
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, database.Options{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
		MigrationTimeout: cfg.DBMigrationTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	*cleanup = append(*cleanup, db.Close)

	if err := db.Migrate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("database ready")
	return repository.NewStudentRepository(db.Pool), repository.NewAuditRepository(db.Pool), nil
}

func newMailer(cfg *config.Config) mail.Mailer {
	if cfg.MailTransport == config.MailTransportAMQP {
		slog.Info("mail goes through the broker", "queue", cfg.MailQueue)
		return mail.NewAMQPMailer(cfg.AMQPURL, cfg.MailQueue)
	}
	return mail.NewLogMailer(slog.Default())
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.close()
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.close()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) close() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
}
