package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/medvoz/interp/pkg/interp/config"
	"github.com/medvoz/interp/pkg/interp/metrics"
	"github.com/medvoz/interp/pkg/interp/session"
	"github.com/medvoz/interp/pkg/interp/store"
	"github.com/medvoz/interp/pkg/interp/transport"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	newStore     func(ctx context.Context, databaseURL string, logger *slog.Logger) (*store.Postgres, error)
	dial         func(ctx context.Context, url string, logger *slog.Logger, cfg transport.Config) (*transport.Client, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		newStore:   store.New,
		dial:       transport.Dial,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// defaultActionHandlers is the integration point for downstream medical
// systems. The default handlers acknowledge by logging; deployments replace
// them with real EHR calls.
func defaultActionHandlers(logger *slog.Logger) map[session.ActionType]session.ActionHandler {
	handle := func(_ context.Context, action session.ActionType, argumentsJSON string) error {
		logger.Info("action executed", "action", string(action), "arguments", argumentsJSON)
		return nil
	}
	return map[session.ActionType]session.ActionHandler{
		session.ActionSendLabOrder:     handle,
		session.ActionScheduleFollowup: handle,
		session.ActionPagePhysician:    handle,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HandshakeTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func buildMux(m *metrics.Metrics, manager *session.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"state":      string(manager.State()),
			"session_id": manager.SessionID(),
		})
	})
	return mux
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil || deps.dial == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m := metrics.New("interp")

	var sessionStore session.Store
	if cfg.DatabaseURL != "" {
		if deps.newStore == nil {
			return errors.New("missing store dependency")
		}
		pg, err := deps.newStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer pg.Close()
		sessionStore = pg
	} else {
		logger.Warn("INTERP_DATABASE_URL not set, transcripts will not be persisted")
	}

	manager, err := session.NewManager(session.ManagerDependencies{
		Dial: func(dialCtx context.Context) (session.Transport, error) {
			return deps.dial(dialCtx, cfg.UpstreamURL, logger, transport.Config{
				HandshakeTimeout: cfg.HandshakeTimeout,
				WriteTimeout:     cfg.WriteTimeout,
				PingInterval:     cfg.PingInterval,
			})
		},
		Store:    sessionStore,
		Handlers: defaultActionHandlers(logger),
		Logger:   logger,
		Metrics:  m,
		Config: session.Config{
			ResponseGrace:   cfg.ResponseGrace,
			ResponseCeiling: cfg.ResponseCeiling,
			PersistTimeout:  cfg.PersistTimeout,
		},
	})
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}
	manager.Subscribe(func(n session.Notification) {
		switch note := n.(type) {
		case session.UnitFinalized:
			logger.Info("unit finalized",
				"unit_id", note.Unit.ID,
				"kind", string(note.Unit.Kind),
				"recovered", note.Recovered)
		case session.StatusChanged:
			if note.Err != nil {
				logger.Warn("session status", "state", string(note.State), "err", note.Err)
			}
		}
	})

	httpSrv := buildHTTPServer(cfg, buildMux(m, manager))

	logger.Info("starting interpretation server", "addr", cfg.Addr, "upstream", cfg.UpstreamURL)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	if err := manager.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return fmt.Errorf("start session: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer stopCancel()
	if err := manager.Stop(stopCtx); err != nil {
		logger.Warn("session stop", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("interpretation server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "interp-server: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "interp-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
