package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/api/ws"
	"github.com/gosuda/appexplorer/internal/auth"
	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/config"
	"github.com/gosuda/appexplorer/internal/editor"
	"github.com/gosuda/appexplorer/internal/events"
	"github.com/gosuda/appexplorer/internal/metrics"
	"github.com/gosuda/appexplorer/internal/reconcile"
	"github.com/gosuda/appexplorer/internal/rpc"
	"github.com/gosuda/appexplorer/internal/server"
	"github.com/gosuda/appexplorer/internal/status"
	"github.com/gosuda/appexplorer/internal/store/memory"
	"github.com/gosuda/appexplorer/internal/store/postgres"
	redisstore "github.com/gosuda/appexplorer/internal/store/redis"
	"github.com/gosuda/appexplorer/internal/store/sqlite"
	"github.com/gosuda/appexplorer/internal/symbols"
	"github.com/gosuda/appexplorer/web"
)

const version = "0.1.0"

const usage = `AppExplorer links source code to Miro board cards.

Configuration is read from APPEXPLORER_* environment variables and the
optional YAML file named by APPEXPLORER_CONFIG.

Usage:
    appexplorer [serve]
    appexplorer token --subject=<subject> [--ttl=<ttl>] [--any-workspace]
    appexplorer events
    appexplorer -h | --help
    appexplorer --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --subject=<subject>  Token subject, e.g. miro-plugin.
    --ttl=<ttl>          Token lifetime [default: 720h].
    --any-workspace      Issue a token accepted by every workspace.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}

	tok, _ := opts.Bool("token")
	follow, _ := opts.Bool("events")
	switch {
	case tok:
		err = issueToken(opts)
	case follow:
		err = followEvents()
	default:
		err = run()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("appexplorer failed")
	}
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func issueToken(opts docopt.Opts) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return errors.New("token: APPEXPLORER_AUTH_SECRET is not set")
	}

	subject, _ := opts.String("--subject")
	rawTTL, _ := opts.String("--ttl")
	ttl, err := time.ParseDuration(rawTTL)
	if err != nil {
		return fmt.Errorf("token: --ttl: %w", err)
	}

	workspace := cfg.Workspace.Name
	if unscoped, _ := opts.Bool("--any-workspace"); unscoped {
		workspace = ""
	}

	signed, err := auth.IssueToken(cfg.Auth.Secret, subject, workspace, ttl)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

// followEvents prints board lifecycle events mirrored to redis by a
// running server, one JSON envelope per line.
func followEvents() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Workspace.Name)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	msgs, unsubscribe, err := client.Subscribe(ctx, redisstore.EventsChannel(client.Workspace()))
	if err != nil {
		return err
	}
	defer unsubscribe()

	log.Info().Str("workspace", client.Workspace()).Msg("following board events")
	for msg := range msgs {
		fmt.Println(string(msg))
	}
	return nil
}

// openKV opens the configured durable backend. The returned closers run in
// reverse order on shutdown.
func openKV(ctx context.Context, cfg *config.Config) (cardstore.KV, *redisstore.Client, []io.Closer, error) {
	workspace := cfg.Workspace.Name

	switch cfg.Store.Driver {
	case config.DriverMemory:
		kv := memory.New()
		return kv, nil, []io.Closer{kv}, nil

	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("sqlite dir: %w", err)
		}
		kv, err := sqlite.New(ctx, cfg.Store.SQLitePath, workspace)
		if err != nil {
			return nil, nil, nil, err
		}
		return kv, nil, []io.Closer{kv}, nil

	case config.DriverPostgres:
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			return nil, nil, nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		kv, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), workspace) //nolint:gosec // bounds checked above
		if err != nil {
			return nil, nil, nil, err
		}
		return kv, nil, []io.Closer{kv}, nil

	case config.DriverRedis:
		client, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, workspace)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, client, []io.Closer{client}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// originHosts turns CORS origins into websocket origin patterns, which
// match hosts rather than URLs.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.Log)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kv, redisClient, closers, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i].Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("close backend")
			}
		}
	}()

	var store *cardstore.Store
	collector := metrics.New(func() int { return store.TotalCards() })

	store, err = cardstore.Open(ctx, kv,
		cardstore.WithQueueSize(cfg.Store.QueueSize),
		cardstore.WithWriteTimeout(cfg.Store.WriteTimeout),
		cardstore.WithWriteErrorHook(collector.ObserveWriteError),
	)
	if err != nil {
		return err
	}
	log.Info().
		Str("driver", cfg.Store.Driver).
		Str("workspace", cfg.Workspace.Name).
		Int("boards", len(store.BoardIDs())).
		Int("cards", store.TotalCards()).
		Msg("card store loaded")

	registry := rpc.NewRegistry()
	engine := rpc.NewEngine(registry)
	bus := events.NewBus()

	if cfg.Redis.Mirror && redisClient == nil {
		redisClient, err = redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Workspace.Name)
		if err != nil {
			return err
		}
		closers = append(closers, redisClient)
	}
	if redisClient != nil {
		stopMirror := events.Mirror(bus, redisClient, redisstore.EventsChannel(cfg.Workspace.Name))
		defer stopMirror()
	}

	resolver, err := symbols.NewFileResolver(cfg.Workspace.Root)
	if err != nil {
		return err
	}
	rec := reconcile.New(store, engine, resolver,
		reconcile.WithCodeLink(resolver.CodeLink),
		reconcile.WithChangeHook(collector.ObserveTransition),
	)
	detach := rec.Attach(ctx, bus)
	defer detach()

	tracker := status.NewTracker(store, registry)
	defer store.Subscribe(tracker.Refresh)()
	defer bus.Subscribe(func(events.Event) { tracker.Refresh() })()

	arena := editor.NewArena(store)
	defer arena.Stop()

	hub := ws.NewHub(store, registry, bus,
		ws.WithQueryTimeout(cfg.RPC.QueryTimeout),
		ws.WithOriginPatterns(originHosts(cfg.Server.CORSOrigins)...),
		ws.WithMetrics(collector),
	)

	if cfg.Workspace.Watch {
		watcher, werr := reconcile.NewWatcher(rec, cfg.Workspace.Root, cfg.Reconcile.Debounce)
		if werr != nil {
			log.Warn().Err(werr).Str("root", cfg.Workspace.Root).Msg("file watcher disabled")
		} else {
			go func() {
				if rerr := watcher.Run(ctx); rerr != nil {
					log.Error().Err(rerr).Msg("file watcher stopped")
				}
			}()
		}
	}

	sched, err := reconcile.NewScheduler(ctx, rec, cfg.Reconcile.Schedule)
	if err != nil {
		return err
	}
	sched.Start()

	// Reconcile stored cards once the first board is reachable.
	go func() {
		if werr := reconcile.WaitForConnection(ctx, registry, cfg.RPC.PollInterval); werr != nil {
			return
		}
		n, rerr := rec.ReconcileAll(ctx)
		if rerr != nil {
			log.Warn().Err(rerr).Int("changed", n).Msg("initial reconciliation")
			return
		}
		log.Info().Int("changed", n).Msg("initial reconciliation")
	}()

	var assets fs.FS = web.Assets()
	if cfg.Server.StaticDir != "" {
		assets = os.DirFS(cfg.Server.StaticDir)
	}

	srv := server.New(ctx, cfg, server.Deps{
		Store:      store,
		Engine:     engine,
		Hub:        hub,
		Reconciler: rec,
		Editors:    arena,
		Metrics:    collector,
	}, assets)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case startErr := <-errCh:
		if startErr != nil {
			log.Fatal().Err(startErr).Msg("listen failed")
		}
	}
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("http shutdown")
	}
	sched.Stop(shutdownCtx)
	registry.Each(func(_ string, ch *rpc.Channel) { ch.Close() })

	if closeErr := store.Close(shutdownCtx); closeErr != nil {
		return closeErr
	}

	log.Info().Msg("stopped")
	return nil
}
