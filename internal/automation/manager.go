package automation

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/devbridge/internal/protocol"
)

// State is the lifecycle state of the automation subprocess.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateUnavailable is reached when a start attempt failed even after
	// the install-and-retry step. A later Start may try again from here.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Config tunes the manager.
type Config struct {
	// StartupTimeout bounds the readiness handshake after a spawn.
	StartupTimeout time.Duration
	// RequestTimeout is the default per-request deadline on the
	// subprocess connection.
	RequestTimeout time.Duration
	// InstallTimeout bounds the one-time install step.
	InstallTimeout time.Duration
	// LockPath guards against two bridge processes each spawning a
	// backend. Empty uses a file under the system temp dir.
	LockPath string
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	StartupTimeout: 10 * time.Second,
	RequestTimeout: 30 * time.Second,
	InstallTimeout: 2 * time.Minute,
	LockPath:       filepath.Join(os.TempDir(), "devbridge-automation.lock"),
}

// Manager owns the automation subprocess lifecycle. All transitions are
// serialized: a Start arriving while another Start is in flight waits for
// that attempt's outcome instead of racing an independent spawn.
type Manager struct {
	cfg Config
	log *logrus.Entry

	mu         sync.Mutex
	state      State
	client     *protocol.Client
	proc       process
	opts       Options
	generation int

	starting bool
	startCh  chan struct{}
	startErr error

	fileLock *flock.Flock

	// Injection points for tests.
	spawn   func(ctx context.Context, backend Backend, headless bool) (process, error)
	install func(ctx context.Context, backend Backend) error
}

// NewManager creates a stopped manager.
func NewManager(cfg Config, log *logrus.Entry) *Manager {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultConfig.StartupTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig.RequestTimeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = DefaultConfig.InstallTimeout
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultConfig.LockPath
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:     cfg,
		log:     log.WithField("component", "automation"),
		spawn:   spawnBackend,
		install: installBackend,
	}
}

// Start brings the automation subprocess up and returns its connection
// client. Calling Start while already running returns the existing client
// unchanged; calling it while a start is in flight waits for that
// attempt's outcome.
func (m *Manager) Start(ctx context.Context, opts Options) (*protocol.Client, error) {
	for {
		m.mu.Lock()
		if m.state == StateRunning && m.client != nil {
			client := m.client
			m.mu.Unlock()
			return client, nil
		}
		if m.starting {
			ch := m.startCh
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, protocol.NewError(protocol.KindSpawnFailure, "start", ctx.Err())
			case <-ch:
			}
			m.mu.Lock()
			if m.state == StateRunning && m.client != nil {
				client := m.client
				m.mu.Unlock()
				return client, nil
			}
			err := m.startErr
			m.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}

		m.starting = true
		m.startCh = make(chan struct{})
		m.startErr = nil
		m.state = StateStarting
		m.mu.Unlock()
		break
	}

	client, failState, err := m.doStart(ctx, opts)

	m.mu.Lock()
	m.starting = false
	if err != nil {
		m.state = failState
		m.startErr = err
		m.client = nil
	} else {
		m.state = StateRunning
		m.client = client
		m.opts = opts
	}
	close(m.startCh)
	m.mu.Unlock()

	return client, err
}

// doStart performs one spawn attempt: lock, spawn (with the single
// install-and-retry step), readiness handshake. On failure it reports
// which state the manager should settle in.
func (m *Manager) doStart(ctx context.Context, opts Options) (*protocol.Client, State, error) {
	backend, err := LookupBackend(opts.Backend)
	if err != nil {
		return nil, StateStopped, protocol.NewError(protocol.KindSpawnFailure, "start", err)
	}
	name := opts.Backend
	if name == "" {
		name = DefaultBackend
	}

	lock := flock.New(m.cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		if err == nil {
			err = errors.New("another bridge process owns the automation backend")
		}
		return nil, StateStopped, &protocol.Error{
			Kind: protocol.KindSpawnFailure, Op: "start", Backend: name, Err: err,
		}
	}
	m.mu.Lock()
	m.fileLock = lock
	m.mu.Unlock()

	// The subprocess must outlive the Start call, so the spawn is not
	// tied to the caller's context.
	proc, err := m.spawn(context.Background(), backend, opts.Headless)
	if err != nil {
		if !isNotFound(err) {
			m.releaseLock()
			return nil, StateUnavailable, &protocol.Error{
				Kind: protocol.KindSpawnFailure, Op: "start", Backend: name, Err: err,
			}
		}

		m.log.WithField("package", backend.Package).Info("backend not found, installing")
		installCtx, cancel := context.WithTimeout(ctx, m.cfg.InstallTimeout)
		err = m.install(installCtx, backend)
		cancel()
		if err != nil {
			m.releaseLock()
			return nil, StateUnavailable, &protocol.Error{
				Kind: protocol.KindInstallFailure, Op: "start", Backend: name, Err: err,
			}
		}

		// Retry the spawn exactly once; a second failure is terminal
		// for this attempt.
		proc, err = m.spawn(context.Background(), backend, opts.Headless)
		if err != nil {
			m.releaseLock()
			return nil, StateUnavailable, &protocol.Error{
				Kind: protocol.KindSpawnFailure, Op: "start", Backend: name, Err: err,
			}
		}
	}

	conn := protocol.NewStdioConn(proc.Stdout(), proc.Stdin(), proc.Stdin(), name, m.log.Logger.WithField("backend", name))
	client := protocol.NewClient(conn, m.cfg.RequestTimeout)

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.proc = proc
	m.mu.Unlock()

	go m.watchExit(gen, proc, conn)

	// Readiness handshake: the subprocess is not Running until the
	// protocol answers. A hung backend is killed, not waited on.
	handshakeCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StartupTimeout)
	err = client.Initialize(handshakeCtx)
	cancel()
	if err != nil {
		conn.Close()
		proc.Terminate()
		m.releaseLock()
		return nil, StateStopped, &protocol.Error{
			Kind: protocol.KindSpawnFailure, Op: "start", Backend: name,
			Message: "readiness handshake failed", Err: err,
		}
	}

	m.log.WithFields(logrus.Fields{"backend": name, "pid": proc.PID()}).Info("automation backend running")
	return client, StateStopped, nil
}

// watchExit waits for the subprocess to die. A deliberate stop bumps the
// generation first, so this only handles unexpected exits: outstanding
// requests are failed, state resets to Stopped, and a later Start can
// recover cleanly.
func (m *Manager) watchExit(gen int, proc process, conn *protocol.StdioConn) {
	err := proc.Wait()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.state = StateStopped
	m.client = nil
	m.proc = nil
	m.mu.Unlock()

	conn.Close()
	m.releaseLock()
	m.log.WithError(err).Warn("automation backend exited unexpectedly")
}

// Stop tears the subprocess down. Stopping an already-stopped manager is a
// no-op; the state always lands on Stopped.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	for m.starting {
		ch := m.startCh
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		m.mu.Lock()
	}

	if m.state != StateRunning || m.client == nil {
		m.state = StateStopped
		m.mu.Unlock()
		m.releaseLock()
		return nil
	}

	m.state = StateStopping
	client := m.client
	proc := m.proc
	m.client = nil
	m.proc = nil
	m.generation++
	m.mu.Unlock()

	// Closing stdin is the protocol's graceful shutdown; Terminate
	// escalates if the process lingers.
	client.Close()
	if proc != nil {
		proc.Terminate()
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.releaseLock()

	m.log.Info("automation backend stopped")
	return nil
}

// Current returns the active connection client, or nil when not Running.
func (m *Manager) Current() *protocol.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return nil
	}
	return m.client
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Options returns the options of the running backend.
func (m *Manager) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Ping checks the running subprocess connection.
func (m *Manager) Ping(ctx context.Context) error {
	client := m.Current()
	if client == nil {
		return protocol.Errorf(protocol.KindConnectionNotStarted, "ping", "automation backend not running")
	}
	return client.Ping(ctx)
}

func (m *Manager) releaseLock() {
	m.mu.Lock()
	lock := m.fileLock
	m.fileLock = nil
	m.mu.Unlock()
	if lock != nil {
		lock.Unlock()
	}
}

// isNotFound recognizes the spawn failures the install step can fix.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "no such file or directory") ||
		strings.Contains(msg, "not found")
}
