package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/hackgrid/internal/api"
	"github.com/udisondev/hackgrid/internal/bus"
	"github.com/udisondev/hackgrid/internal/clock"
	"github.com/udisondev/hackgrid/internal/config"
	"github.com/udisondev/hackgrid/internal/db"
	"github.com/udisondev/hackgrid/internal/effect"
	"github.com/udisondev/hackgrid/internal/engine"
	"github.com/udisondev/hackgrid/internal/resource"
	"github.com/udisondev/hackgrid/internal/session"
	"github.com/udisondev/hackgrid/internal/world"
)

const DefaultConfigPath = "config/gameserver.yaml"

const sessionSweepInterval = time.Hour

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := DefaultConfigPath
	if p := os.Getenv("HACKGRID_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("hackgrid server starting", "log_level", cfg.LogLevel)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	clk := clock.System()
	wc := world.NewCache()
	acct := resource.New()
	now := clk.Now()

	if err := db.LoadWorld(ctx, database.Pool(), wc, acct, now); err != nil {
		return fmt.Errorf("loading world: %w", err)
	}

	procRepo := db.NewProcessRepository(database.Pool())

	applier := effect.New(effect.Config{
		CredentialTTL:      cfg.CredentialTTL,
		TransferFeePercent: cfg.TransferFeePercent,
		FeeAccountID:       cfg.FeeAccountID,
		MaxRetries:         cfg.EffectMaxRetries,
		RetryInterval:      cfg.EffectRetryInterval,
		AttemptTimeout:     cfg.EffectTimeout,
	}, db.NewEffectStore(database.Pool()), wc, clk)

	sessions := session.NewManager(clk, cfg.SessionTTL)

	hub := bus.NewHub(bus.HubConfig{
		QueueSize:  cfg.QueueSize,
		AuthWindow: cfg.AuthWindow,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
	}, func(token string) (bus.Session, bool) {
		info := sessions.Validate(token)
		if info == nil {
			return bus.Session{}, false
		}
		return bus.Session{PlayerID: info.PlayerID, Login: info.Login}, true
	}, wc)

	eng := engine.New(engine.Config{
		SnapshotInterval: cfg.SnapshotInterval,
		EffectTimeout:    cfg.EffectTimeout,
	}, clk, acct, engine.NewStore(procRepo), wc, applier, hub)

	// Recovery: re-attach every non-terminal row before accepting work.
	procs, err := procRepo.LoadNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("loading non-terminal processes: %w", err)
	}
	if err := eng.Recover(procs); err != nil {
		return fmt.Errorf("recovering processes: %w", err)
	}
	maxPID, err := procRepo.MaxPID(ctx)
	if err != nil {
		return fmt.Errorf("reading max pid: %w", err)
	}
	eng.SetNextPID(maxPID)
	slog.Info("recovery complete", "recovered", len(procs), "max_pid", maxPID)

	app := api.New(eng, wc, acct, sessions,
		db.NewPlayerRepository(database.Pool()),
		db.NewServerRepository(database.Pool()),
		db.NewLogRepository(database.Pool()),
		hub, clk)

	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting process engine")
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("process engine: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting http server", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sessions.CleanExpired()
			}
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
