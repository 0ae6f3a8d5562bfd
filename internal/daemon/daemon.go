package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ascend-academy/ascend/internal/api"
	"github.com/ascend-academy/ascend/internal/app/commission"
	"github.com/ascend-academy/ascend/internal/app/credit"
	"github.com/ascend-academy/ascend/internal/app/engagement"
	"github.com/ascend-academy/ascend/internal/app/rewards"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/health"
	"github.com/ascend-academy/ascend/internal/infra/events"
	"github.com/ascend-academy/ascend/internal/infra/logger"
	"github.com/ascend-academy/ascend/internal/infra/store"
)

// Daemon is the Ascend runtime. It wires together all services.
type Daemon struct {
	Config Config
	Log    *logger.Logger
	DB     *store.DB
	Bus    domain.Publisher
	Engine *rewards.Engine
	Server *api.Server
	Health *health.Checker
}

// New creates and initializes a Daemon from $ASCEND_HOME/config.toml.
func New(ctx context.Context) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(ctx context.Context, cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, &domain.ConfigError{Field: "logging", Reason: err.Error()}
	}

	db, err := store.Open(ctx, store.Options{
		Driver:       cfg.Store.Driver,
		Dir:          cfg.Store.Dir,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &Daemon{Config: cfg, Log: log, DB: db}
	if err := d.wire(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire(ctx context.Context) error {
	cfg := d.Config

	levels, err := cfg.LevelTable()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	norm, err := cfg.Normalizer()
	if err != nil {
		return err
	}
	streakCfg, err := cfg.StreakSettings()
	if err != nil {
		return err
	}
	calc, err := cfg.Calculator()
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	credits := credit.NewService(d.DB, levels, loc, d.Log)
	streaks, err := engagement.NewStreakService(d.DB, credits, streakCfg, d.Log)
	if err != nil {
		return err
	}
	achievements, err := engagement.NewAchievementService(d.DB, credits, catalog, d.Log)
	if err != nil {
		return err
	}
	commissions := commission.NewService(d.DB, calc, d.Log)
	if err := commissions.SeedRules(ctx); err != nil {
		return fmt.Errorf("seed commission rules: %w", err)
	}

	d.Bus, err = events.New(ctx, events.Options{
		Driver:   cfg.Events.Driver,
		Addr:     cfg.Events.Addr,
		Password: cfg.Events.Password,
		DB:       cfg.Events.DB,
		Channel:  cfg.Events.Channel,
	}, d.Log)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}

	d.Engine = &rewards.Engine{
		Normalizer:   norm,
		Levels:       levels,
		Credits:      credits,
		Streaks:      streaks,
		Achievements: achievements,
		Commissions:  commissions,
		Publisher:    d.Bus,
		Log:          d.Log.With("service", "engine"),
	}

	dataDir := ""
	if d.DB.Driver() == store.DriverSQLite {
		dataDir = cfg.Store.Dir
	}
	d.Health = health.NewChecker(d.DB, dataDir, d.Log)
	if cfg.Telemetry.HealthIntervalSeconds > 0 {
		d.Health.SetInterval(time.Duration(cfg.Telemetry.HealthIntervalSeconds) * time.Second)
	}

	d.Server = api.NewServer(d.Engine, d.Log)
	d.Server.SetHealth(d.Health)
	d.Server.SetCORSOrigins(cfg.API.CORSOrigins)
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}
	return nil
}

// Addr is the HTTP listen address.
func (d *Daemon) Addr() string {
	return fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
}

// Serve runs the HTTP server and health loop until ctx ends or a
// SIGINT/SIGTERM arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:         d.Addr(),
		Handler:      d.Server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})

	g.Go(func() error {
		d.Log.Info("ascend serving", "addr", d.Addr(), "store", d.DB.Driver(), "events", d.Config.Events.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		d.Log.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.Bus != nil {
		if err := d.Bus.Close(); err != nil {
			d.Log.Warn("close event bus", "error", err)
		}
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Log != nil {
		d.Log.Sync()
	}
}
