package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/siteform/fieldsync/internal/api"
	"github.com/siteform/fieldsync/internal/config"
	"github.com/siteform/fieldsync/internal/domain/auth"
	"github.com/siteform/fieldsync/internal/domain/queue"
	"github.com/siteform/fieldsync/internal/domain/sync"
	"github.com/siteform/fieldsync/internal/sqlite"
)

const usage = `fieldsync - offline-first field data client

Usage:
  fieldsync login  -email <email> -password <password>
  fieldsync logout
  fieldsync log    -project <id> [-kind <kind>] -payload <json>
  fieldsync sync
  fieldsync status
  fieldsync run

Environment:
  FIELDSYNC_CONFIG_PATH   optional YAML config file
  FIELDSYNC_API_BASE_URL  server base URL
  FIELDSYNC_DB_PATH       local database path
  FIELDSYNC_LOG_LEVEL     debug|info|warn|error
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	app := buildApp(cfg, db, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired services shared by every subcommand.
type app struct {
	auth        *auth.Manager
	queue       *queue.Service
	gateway     *api.Gateway
	coordinator *sync.Coordinator
	logger      *slog.Logger
}

func buildApp(cfg config.Config, db *sqlite.DB, logger *slog.Logger) *app {
	credRepo := sqlite.NewCredentialRepository(db)
	queueRepo := sqlite.NewQueueRepository(db)

	client := api.NewClient(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout.Std()}, logger)

	manager := auth.NewManager(credRepo, client, auth.Config{
		RefreshTimeout: cfg.Auth.RefreshTimeout.Std(),
		ExpiryLeeway:   cfg.Auth.ExpiryLeeway.Std(),
	}, logger)
	manager.OnSessionEnded(func() {
		logger.Warn("session ended, log in again to resume syncing")
	})

	gateway := api.NewGateway(client, manager, logger)
	queueSvc := queue.NewService(queueRepo, queue.DefaultKinds(), logger)

	coordinator := sync.NewCoordinator(queueSvc, gateway, sync.Config{
		Interval:    cfg.Sync.Interval.Std(),
		CallTimeout: cfg.Sync.CallTimeout.Std(),
		BackoffBase: cfg.Sync.BackoffBase.Std(),
		BackoffMax:  cfg.Sync.BackoffMax.Std(),
	}, logger)

	// New captures nudge the background loop without waiting for the timer.
	queueSvc.OnPendingCount(func(n int) {
		if n > 0 {
			coordinator.Notify()
		}
	})

	return &app{
		auth:        manager,
		queue:       queueSvc,
		gateway:     gateway,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.cmdLogin(ctx, args)
	case "logout":
		return a.cmdLogout(ctx)
	case "log":
		return a.cmdLog(ctx, args)
	case "sync":
		return a.cmdSync(ctx)
	case "status":
		return a.cmdStatus(ctx)
	case "run":
		return a.cmdRun(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("login requires -email and -password")
	}

	sess, err := a.auth.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", sess.User.DisplayName, sess.User.Email)
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	if err := a.auth.Restore(ctx); err != nil {
		return err
	}
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func (a *app) cmdLog(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	project := fs.String("project", "", "project the record belongs to")
	kind := fs.String("kind", "site-log", "record kind")
	payload := fs.String("payload", "", "record payload as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" || *payload == "" {
		return fmt.Errorf("log requires -project and -payload")
	}

	if err := a.auth.Restore(ctx); err != nil {
		return err
	}
	user, ok := a.auth.CurrentUser()
	if !ok {
		return auth.ErrNoSession
	}

	rec, err := a.queue.Enqueue(ctx, *project, *kind, json.RawMessage(*payload), user.ID)
	if err != nil {
		return err
	}
	fmt.Printf("captured %s record %s (queue position %d)\n", rec.Kind, rec.RecordID, rec.Seq)
	return nil
}

func (a *app) cmdSync(ctx context.Context) error {
	if err := a.auth.Restore(ctx); err != nil {
		return err
	}
	if _, ok := a.auth.Token(); !ok {
		return auth.ErrNoSession
	}

	res := a.coordinator.RunPass(ctx)
	fmt.Printf("sync %s: delivered %d, flagged %d, remaining %d\n",
		res.Outcome, res.Delivered, res.Flagged, res.Remaining)
	if res.Err != nil {
		return res.Err
	}
	return nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	if err := a.auth.Restore(ctx); err != nil {
		return err
	}

	if user, ok := a.auth.CurrentUser(); ok {
		// Best effort: refresh the cached profile when the server is reachable.
		if fresh, err := a.gateway.Profile(ctx); err == nil {
			if err := a.auth.UpdateUser(ctx, fresh); err == nil {
				user = fresh
			}
		}
		fmt.Printf("session: %s (%s)\n", user.DisplayName, user.Email)
	} else {
		fmt.Println("session: none")
	}

	counts, err := a.queue.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("queue: %d pending, %d synced, %d failed\n",
		counts.Pending, counts.Synced, counts.Failed)
	return nil
}

func (a *app) cmdRun(ctx context.Context) error {
	if err := a.auth.Restore(ctx); err != nil {
		return err
	}
	if _, ok := a.auth.Token(); !ok {
		return auth.ErrNoSession
	}

	a.logger.Info("sync loop started")
	a.coordinator.Notify()
	a.coordinator.Run(ctx)
	a.logger.Info("sync loop stopped")
	return nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
