// Command soloplaned runs the soloplane component daemon: it hosts the
// singleton components declared in the manifest, drives them through the
// two-phase startup barrier and serves the introspection, admin and
// telemetry APIs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/soloplane/soloplane/engine"
	"github.com/soloplane/soloplane/internal/admin"
	"github.com/soloplane/soloplane/internal/api"
	"github.com/soloplane/soloplane/internal/config"
	"github.com/soloplane/soloplane/internal/journal"
	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/internal/telemetry"
	"github.com/soloplane/soloplane/lifecycle"
	"github.com/soloplane/soloplane/services/cache"
	"github.com/soloplane/soloplane/services/scheduler"
	"github.com/soloplane/soloplane/services/scripts"
	"github.com/soloplane/soloplane/services/store"
	"github.com/soloplane/soloplane/services/sysmon"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the daemon configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "soloplaned: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging)
	metrics := telemetry.New()

	jnl, err := journal.New(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer jnl.Close()

	hub := api.NewHub(log)
	defer hub.Close()

	coord := lifecycle.NewCoordinator(
		lifecycle.WithLogger(log),
		lifecycle.WithObserver(metrics.Observe),
		lifecycle.WithObserver(jnl.Observe),
		lifecycle.WithObserver(hub.Observe),
	)
	eng := engine.New(coord, log)

	manifest, err := engine.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}
	if err := registerComponents(eng, manifest, coord, metrics, log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, cfg.Engine.StartupTimeout)
	err = eng.Start(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	accessLog := zerolog.New(os.Stderr).With().Timestamp().Str("surface", "api").Logger()
	apiSrv := &http.Server{
		Addr: addr(cfg.Server.Host, cfg.Server.Port),
		Handler: api.New(api.Config{
			RateLimit: cfg.Server.RateLimit,
			RateBurst: cfg.Server.RateBurst,
		}, eng, coord, hub, metrics, accessLog, log).Handler(),
	}

	adminSrv := &http.Server{
		Addr: addr(cfg.Admin.Host, cfg.Admin.Port),
		Handler: admin.New(admin.Config{
			JWTSecret: cfg.Admin.JWTSecret,
			TokenHash: cfg.Admin.TokenHash,
		}, eng, stop, log).Router(),
	}

	telemetrySrv := telemetry.NewListener(addr(cfg.Telemetry.Host, cfg.Telemetry.Port), metrics, func() error {
		if !eng.Ready() {
			return fmt.Errorf("engine not ready: %s", eng.State())
		}
		return nil
	})

	errCh := make(chan error, 3)
	for name, srv := range map[string]*http.Server{
		"api":       apiSrv,
		"admin":     adminSrv,
		"telemetry": telemetrySrv,
	} {
		name, srv := name, srv
		go func() {
			log.Info("listener up", "surface", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s listener: %w", name, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("listener failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{apiSrv, adminSrv, telemetrySrv} {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func addr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

// registerComponents maps manifest entries onto the builtin component
// factories.
func registerComponents(eng *engine.Engine, m *engine.Manifest, coord *lifecycle.Coordinator, metrics *telemetry.Metrics, log *logging.Logger) error {
	for _, spec := range m.Enabled() {
		spec := spec
		var factory engine.Factory

		switch spec.Kind {
		case cache.Kind:
			factory = func(settings engine.Settings) (lifecycle.Singleton, error) {
				cfg := cache.DefaultConfig()
				if v, ok := settings["addr"]; ok {
					cfg.Addr = v
				}
				if v, ok := settings["password"]; ok {
					cfg.Password = v
				}
				if v, ok := settings["db"]; ok {
					db, err := strconv.Atoi(v)
					if err != nil {
						return nil, fmt.Errorf("cache: invalid db %q: %w", v, err)
					}
					cfg.DB = db
				}
				return cache.New(cfg, log), nil
			}

		case store.Kind:
			factory = func(settings engine.Settings) (lifecycle.Singleton, error) {
				dsn, ok := settings["dsn"]
				if !ok {
					dsn = os.Getenv("SOLOPLANE_STORE_DSN")
				}
				if dsn == "" {
					return nil, fmt.Errorf("store: dsn setting or SOLOPLANE_STORE_DSN is required")
				}
				return store.New(store.Config{DSN: dsn}, log), nil
			}

		case scheduler.Kind:
			factory = func(settings engine.Settings) (lifecycle.Singleton, error) {
				svc := scheduler.New(log)
				if cronSpec, ok := settings["heartbeat"]; ok {
					err := svc.AddJob(scheduler.Job{
						Name: "heartbeat",
						Spec: cronSpec,
						Run: func(context.Context) {
							log.Info("heartbeat", "lifecycle", coord.Snapshot(), "state", string(eng.State()))
						},
					})
					if err != nil {
						return nil, err
					}
				}
				return svc, nil
			}

		case sysmon.Kind:
			factory = func(settings engine.Settings) (lifecycle.Singleton, error) {
				cfg := sysmon.DefaultConfig()
				if v, ok := settings["interval"]; ok {
					interval, err := time.ParseDuration(v)
					if err != nil {
						return nil, fmt.Errorf("sysmon: invalid interval %q: %w", v, err)
					}
					cfg.Interval = interval
				}
				return sysmon.New(cfg, metrics.Registry(), log), nil
			}

		case scripts.Kind:
			factory = func(settings engine.Settings) (lifecycle.Singleton, error) {
				var startup []string
				if src, ok := settings["startup"]; ok {
					startup = append(startup, src)
				}
				return scripts.New(startup, log), nil
			}

		default:
			return fmt.Errorf("manifest declares unknown component kind %q", spec.Kind)
		}

		if err := eng.Register(engine.Definition{Kind: spec.Kind, Factory: factory, Settings: spec.Settings}); err != nil {
			return err
		}
	}
	return nil
}
