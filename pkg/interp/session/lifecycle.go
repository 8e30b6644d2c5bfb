package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medvoz/interp/pkg/interp/metrics"
)

// LifecycleState is the session's high-level state.
type LifecycleState string

const (
	StateIdle       LifecycleState = "idle"
	StateConnecting LifecycleState = "connecting"
	StateActive     LifecycleState = "active"
	StateEnding     LifecycleState = "ending"
)

// TransportDialer acquires the live transport channel. The dialer owns the
// handshake timeout.
type TransportDialer func(ctx context.Context) (Transport, error)

// ManagerDependencies wires a Manager.
type ManagerDependencies struct {
	Dial     TransportDialer
	Store    Store
	Handlers map[ActionType]ActionHandler
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Config   Config
	Now      func() time.Time
}

// Manager owns session identity and high-level state:
// Idle -> Connecting -> Active -> Ending -> Idle. It is the single owner of
// the current session handle; the coordinator and stores never duplicate it.
type Manager struct {
	dial     TransportDialer
	store    Store
	handlers map[ActionType]ActionHandler
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
	notifier *Notifier

	mu        sync.Mutex
	state     LifecycleState
	attempt   uint64
	sessionID string
	startedAt time.Time
	endedAt   time.Time

	transport Transport
	coord     *Coordinator
	runCancel context.CancelFunc
	runDone   chan struct{}
}

func NewManager(deps ManagerDependencies) (*Manager, error) {
	if deps.Dial == nil {
		return nil, fmt.Errorf("transport dialer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 10 * time.Second
	}
	return &Manager{
		dial:     deps.Dial,
		store:    deps.Store,
		handlers: deps.Handlers,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		cfg:      deps.Config,
		now:      deps.Now,
		notifier: &Notifier{},
		state:    StateIdle,
	}, nil
}

// Subscribe installs the presentation listener. Last subscriber wins.
func (m *Manager) Subscribe(fn func(Notification)) {
	m.notifier.Subscribe(fn)
}

// State returns the current lifecycle state.
func (m *Manager) State() LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the current session identity, or empty when Idle.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Start acquires the transport and begins coordinating. Valid only from Idle.
// The session becomes Active once the upstream confirms the channel.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("start is only valid from idle, session is %s", state)
	}
	m.state = StateConnecting
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()
	m.notifier.publish(StatusChanged{State: StateConnecting})

	transport, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		if m.attempt == attempt && m.state == StateConnecting {
			m.state = StateIdle
		}
		m.mu.Unlock()
		m.notifier.publish(StatusChanged{State: StateIdle, Err: newTransportError("dial upstream", err)})
		return newTransportError("dial upstream", err)
	}

	coord, err := New(Dependencies{
		Transport: transport,
		Store:     m.store,
		Handlers:  m.handlers,
		Logger:    m.logger,
		Metrics:   m.metrics,
		Notifier:  m.notifier,
		Config:    m.cfg,
		Now:       m.now,
		OnReady:   m.issueSession,
	})
	if err != nil {
		_ = transport.Close()
		m.mu.Lock()
		if m.attempt == attempt && m.state == StateConnecting {
			m.state = StateIdle
		}
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	if m.attempt != attempt || m.state != StateConnecting {
		// Stop won the race while the dial was in flight; the session is
		// already torn down and this transport must not outlive it.
		state := m.state
		m.mu.Unlock()
		cancel()
		_ = transport.Close()
		return fmt.Errorf("session stopped during connect, now %s", state)
	}
	m.transport = transport
	m.coord = coord
	m.runCancel = cancel
	m.runDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		err := coord.Run(runCtx)
		if err == nil || errors.Is(err, context.Canceled) {
			// Clean shutdown; Stop owns the teardown.
			return
		}
		m.logger.Error("session ended by transport failure", "err", err)
		m.teardown(err)
	}()

	return nil
}

// Stop ends the session. Valid from Active or Connecting. Any open unit is
// force-finalized before teardown; persistence is attempted but its failure
// never prevents the return to Idle.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive && m.state != StateConnecting {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("stop is only valid from active or connecting, session is %s", state)
	}
	m.state = StateEnding
	coord := m.coord
	m.mu.Unlock()
	m.notifier.publish(StatusChanged{State: StateEnding})

	if coord != nil {
		if err := coord.Shutdown(ctx); err != nil {
			m.logger.Warn("coordinator shutdown", "err", err)
		}
	}
	m.teardown(nil)
	return nil
}

// issueSession runs on the coordinator loop when channel_ready arrives.
func (m *Manager) issueSession() string {
	m.mu.Lock()
	m.sessionID = uuid.NewString()
	m.startedAt = m.now()
	if m.state == StateConnecting {
		m.state = StateActive
	}
	id := m.sessionID
	m.mu.Unlock()

	m.metrics.RecordSessionStart()
	m.logger.Info("session active", "session_id", id)
	return id
}

// teardown persists end-of-session best-effort, releases the transport and
// returns to Idle. Idempotent: the second caller finds Idle and leaves.
func (m *Manager) teardown(cause error) {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	sessionID := m.sessionID
	startedAt := m.startedAt
	m.endedAt = m.now()
	endedAt := m.endedAt
	transport := m.transport
	cancel := m.runCancel
	m.transport = nil
	m.coord = nil
	m.runCancel = nil
	m.sessionID = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if m.store != nil && sessionID != "" {
		persistCtx, persistCancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
		if _, err := m.store.GenerateSummary(persistCtx, sessionID); err != nil {
			m.logger.Warn("end-of-session summary failed", "session_id", sessionID, "err", err)
			m.metrics.RecordPersistenceFailure()
		}
		if err := m.store.EndSession(persistCtx, sessionID); err != nil {
			m.logger.Warn("end session persistence failed", "session_id", sessionID, "err", err)
			m.metrics.RecordPersistenceFailure()
		}
		persistCancel()
	}

	if transport != nil {
		_ = transport.Close()
	}

	if sessionID != "" && !startedAt.IsZero() {
		m.metrics.RecordSessionEnd(endedAt.Sub(startedAt))
	}

	status := StatusChanged{State: StateIdle}
	if cause != nil {
		if typed, ok := cause.(*Error); ok {
			status.Err = typed
		} else {
			status.Err = newTransportError("session ended", cause)
		}
	}
	m.notifier.publish(status)
}
