package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type Board struct {
	posts         *postStore
	sessions      SessionStore
	limiter       *loginLimiter
	admin         AdminConfig
	hasher        passwordHasher
	sessionTTL    time.Duration
	secureCookies bool
	staticDir     string
	log           *zap.Logger
	now           func() time.Time
}

// NewBoard wires the handlers to their stores. cfg.Admin.PasswordHash must
// already be resolved.
func NewBoard(cfg Config, posts *postStore, sessions SessionStore, log *zap.Logger) *Board {
	return &Board{
		posts:         posts,
		sessions:      sessions,
		limiter:       newLoginLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow),
		admin:         cfg.Admin,
		hasher:        defaultHasher,
		sessionTTL:    cfg.SessionTTL,
		secureCookies: cfg.SecureCookies,
		staticDir:     cfg.StaticDir,
		log:           log,
		now:           time.Now,
	}
}

func main() {
	godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := runHashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "hash-password: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	logger.Info("configuration loaded", zap.Stringer("config", cfg))

	if err := resolveAdminHash(&cfg.Admin, logger); err != nil {
		return err
	}

	db, d, err := openDB(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := initDB(ctx, db, d); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	logger.Info("database ready", zap.String("driver", d.name))

	var sessions SessionStore
	switch cfg.SessionBackend {
	case "redis":
		client, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		sessions = newRedisSessionStore(client, cfg.SessionTTL)
	default:
		sessions = newMemorySessionStore(cfg.SessionTTL)
	}

	board := NewBoard(cfg, newPostStore(db, d), sessions, logger)

	jan := newJanitor(logger, sessions, board.limiter)
	if err := jan.Start(cfg.SessionSweepInterval); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           board.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	jan.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// resolveAdminHash fills PasswordHash from the plaintext fallback when no
// hash is configured.
func resolveAdminHash(admin *AdminConfig, logger *zap.Logger) error {
	if admin.PasswordHash != "" {
		return nil
	}

	pass := admin.Password
	if pass == "" {
		logger.Warn("ADMIN_PASSWORD_HASH and ADMIN_PASSWORD not set, using default password")
		pass = "password"
	} else {
		logger.Warn("ADMIN_PASSWORD_HASH not set, hashing ADMIN_PASSWORD at startup")
	}

	hash, err := hashPassword(pass)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	admin.PasswordHash = hash
	admin.Password = ""
	return nil
}

// runHashPassword prints an ADMIN_PASSWORD_HASH value for the password given
// as an argument, typed at a terminal prompt, or read as one line of stdin.
func runHashPassword(args []string, stdin *os.File, stdout io.Writer) error {
	var password string
	switch {
	case len(args) > 0:
		password = args[0]
	case term.IsTerminal(int(stdin.Fd())):
		fmt.Fprint(stdout, "Password: ")
		b, err := term.ReadPassword(int(stdin.Fd()))
		fmt.Fprintln(stdout)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(b)
	default:
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		return errors.New("password is required")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}
