package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"apk-portal/internal/apk"
	"apk-portal/internal/audit"
	"apk-portal/internal/auth"
	"apk-portal/internal/config"
	"apk-portal/internal/database"
	"apk-portal/internal/feed"
	"apk-portal/internal/handlers"
	"apk-portal/internal/ledger"
	"apk-portal/internal/notices"
	"apk-portal/internal/redis"
	"apk-portal/internal/registry"
	"apk-portal/internal/storage"
	"apk-portal/internal/upload"
)

var (
	serveProfiling     bool
	serveSecureCookies bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the gRPC release feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		return serve(cfg, newLogger(cfg.Log))
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveProfiling, "pprof", false, "mount /admin/debug/pprof for signed-in admins")
	serveCmd.Flags().BoolVar(&serveSecureCookies, "secure-cookies", false, "mark the session cookie as HTTPS only")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config, log *slog.Logger) error {
	db, err := database.Open(cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	fileStorage, err := storage.NewLocalStorage(cfg.Storage.FilesRoot, cfg.Storage.TmpRoot)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Admin.AutoBootstrap {
		created, err := auth.BootstrapAdmin(context.Background(), db, cfg.Admin.Username, cfg.Admin.Password)
		if err != nil {
			return err
		}
		if created {
			log.Warn("bootstrap admin created; change its password", "username", cfg.Admin.Username)
		}
	}

	if cfg.UsesDefaultSecret() {
		log.Warn("APP_SECRET_KEY is not set; session tokens are signed with the default key")
	}

	sessions := redis.NewSessionStore(redisClient, cfg.Session.MaxAge)
	authService := auth.NewService(db, sessions, cfg.SecretKey, cfg.Session.MaxAge, log)
	reg := registry.New(db)
	l := ledger.New(db, fileStorage, log)
	recorder := audit.NewRecorder(db, log)
	feedServer := feed.NewServer(cfg.GRPC.Port, log)

	arbitrator := upload.NewArbitrator(upload.Deps{
		Applications: reg,
		Ledger:       l,
		Store:        fileStorage,
		Staged:       sessions,
		Locker:       redis.NewLocker(redisClient, cfg.Lock.TTL, cfg.Lock.Wait, log),
		Auditor:      recorder,
		Notifier:     feedServer,
		Inspector:    apk.NewInspector(),
		Log:          log,
	}, cfg.Storage.MaxUploadBytes)

	router := handlers.NewRouter(handlers.RouterConfig{
		Consumer:  handlers.NewConsumerHandler(reg, l, fileStorage, recorder, log),
		Admin:     handlers.NewAdminHandler(authService, reg, l, recorder, serveSecureCookies, log),
		Upload:    handlers.NewUploadHandler(arbitrator, cfg.Storage.MaxUploadBytes, log),
		Notices:   handlers.NewNoticeHandler(notices.New(db), recorder, log),
		Auth:      authService,
		Log:       log,
		Profiling: serveProfiling,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info("HTTP server starting", "app", cfg.AppName, "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	go func() {
		if err := feedServer.Start(); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var runErr error
wait:
	for {
		select {
		case sig := <-quit:
			if sig == syscall.SIGQUIT {
				dumpGoroutines("portal", log)
				continue
			}
			break wait
		case runErr = <-errCh:
			break wait
		}
	}

	log.Info("shutting down servers")
	feedServer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	log.Info("servers exited")
	return runErr
}

// dumpGoroutines writes a goroutine dump to a file in the working
// directory, or to stderr when the file cannot be created.
func dumpGoroutines(serverName string, log *slog.Logger) {
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("goroutine-dump-%s-%s.txt", serverName, timestamp)

	file, err := os.Create(filename)
	if err != nil {
		log.Error("failed to create goroutine dump file", "error", err)
		fmt.Fprintf(os.Stderr, "\n=== Goroutine Dump for %s at %s ===\n", serverName, time.Now().Format(time.RFC3339))
		pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		return
	}
	defer file.Close()

	fmt.Fprintf(file, "=== Goroutine Dump for %s at %s ===\n", serverName, time.Now().Format(time.RFC3339))
	fmt.Fprintf(file, "Total goroutines: %d\n\n", runtime.NumGoroutine())
	pprof.Lookup("goroutine").WriteTo(file, 2)

	log.Info("goroutine dump written", "file", filename)
}
