package process

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/infrastructure/logging"
	"github.com/previewd/previewd/internal/infrastructure/monitoring"
	"github.com/previewd/previewd/internal/netutil"
)

// ErrNoCommand is returned when EnsureRunning is called for an app that
// has no launch command.
var ErrNoCommand = fmt.Errorf("app has no launch command")

// Config holds supervisor tunables.
type Config struct {
	ReadyInterval time.Duration
	ReadyTimeout  time.Duration
	StopGrace     time.Duration

	// GatewayHost/GatewayPort are exported into every spawned process's
	// environment so its bundled protocol client can reach the gateway.
	GatewayHost string
	GatewayPort int
}

// Process is one running app server.
type Process struct {
	App  string
	Port int

	cmd  *exec.Cmd
	done chan struct{} // closed when the process exits

	mu      sync.Mutex
	ready   bool
	probing bool
	waiters []chan error
}

// Ready reports whether the process has passed its readiness probe.
func (p *Process) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// PID returns the OS process id, or 0 if unknown.
func (p *Process) PID() int {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Supervisor spawns app server processes, probes their readiness, and
// tears them down with a graceful-then-forced policy. At most one
// process exists per app name.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*Process

	cfg      Config
	log      *logging.Logger
	metrics  *monitoring.Metrics
	allocate func() (int, error)

	// onExit observers are notified after bookkeeping for an exited
	// process has been removed.
	onExit []func(app string)
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg Config, log *logging.Logger) *Supervisor {
	return &Supervisor{
		procs:    make(map[string]*Process),
		cfg:      cfg,
		log:      log,
		allocate: netutil.AllocatePort,
	}
}

// WithMetrics adds metrics tracking to the supervisor.
func (s *Supervisor) WithMetrics(m *monitoring.Metrics) *Supervisor {
	s.metrics = m
	return s
}

// OnExit registers an observer called when a tracked process exits.
func (s *Supervisor) OnExit(fn func(app string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = append(s.onExit, fn)
}

// EnsureRunning returns the running process for the app, spawning it on
// first use. Idempotent: concurrent calls before readiness share one
// spawn and one probe. A readiness timeout aborts the call but leaves
// the process running; a later call probes again.
func (s *Supervisor) EnsureRunning(app *catalog.Descriptor) (*Process, error) {
	if app.Command == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoCommand, app.Name)
	}

	s.mu.Lock()
	proc, exists := s.procs[app.Name]
	if !exists {
		var err error
		proc, err = s.spawnLocked(app)
		if err != nil {
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.SpawnFailures.Inc()
			}
			return nil, err
		}
		s.procs[app.Name] = proc
		if s.metrics != nil {
			s.metrics.SpawnsTotal.Inc()
			s.metrics.ProcessesRunning.Set(float64(len(s.procs)))
		}
	}
	s.mu.Unlock()

	if err := s.awaitReady(proc); err != nil {
		if s.metrics != nil {
			s.metrics.SpawnFailures.Inc()
		}
		return nil, err
	}
	return proc, nil
}

// Get returns the tracked process for an app, if any.
func (s *Supervisor) Get(app string) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[app]
	return p, ok
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	procs := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	return procs
}

// Stop terminates the app's process: SIGTERM immediately, SIGKILL after
// the grace period if it has not exited. Bookkeeping is removed right
// away so a fresh EnsureRunning does not have to wait for the old
// process to die.
func (s *Supervisor) Stop(app string) error {
	s.mu.Lock()
	proc, ok := s.procs[app]
	if ok {
		delete(s.procs, app)
		if s.metrics != nil {
			s.metrics.ProcessesRunning.Set(float64(len(s.procs)))
		}
	}
	s.mu.Unlock()

	if !ok || proc.cmd.Process == nil {
		return nil
	}

	s.log.Info("Stopping app process",
		zap.String("app", app),
		zap.Int("pid", proc.PID()),
	)

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; the exit watcher cleans up.
		return nil
	}

	go func() {
		select {
		case <-proc.done:
		case <-time.After(s.cfg.StopGrace):
			s.log.Warn("Process ignored SIGTERM, killing",
				zap.String("app", app),
				zap.Int("pid", proc.PID()),
			)
			proc.cmd.Process.Kill()
		}
	}()

	return nil
}

// StopAll terminates every tracked process and waits for them to exit,
// up to the grace period plus a small slack.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	dones := make([]<-chan struct{}, 0, len(s.procs))
	for name, p := range s.procs {
		names = append(names, name)
		dones = append(dones, p.done)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.Stop(name)
	}

	deadline := time.After(s.cfg.StopGrace + time.Second)
	for _, done := range dones {
		select {
		case <-done:
		case <-deadline:
			return
		}
	}
}

// spawnLocked resolves a port, substitutes it into the launch command,
// and starts the process. Caller holds s.mu.
func (s *Supervisor) spawnLocked(app *catalog.Descriptor) (*Process, error) {
	port := app.Port
	if port == 0 {
		var err error
		port, err = s.allocate()
		if err != nil {
			return nil, err
		}
	}

	command := strings.ReplaceAll(app.Command, "{port}", strconv.Itoa(port))
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = app.Dir
	cmd.Env = append(os.Environ(), s.appEnv(app.Name, port)...)

	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn %q: %w", app.Name, err)
	}

	proc := &Process{
		App:  app.Name,
		Port: port,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	s.log.Info("Spawned app process",
		zap.String("app", app.Name),
		zap.Int("pid", proc.PID()),
		zap.Int("port", port),
		zap.String("command", command),
	)

	go s.pipeOutput(app.Name, "stdout", stdout)
	go s.pipeOutput(app.Name, "stderr", stderr)
	go s.watchExit(proc)

	return proc, nil
}

// awaitReady blocks until the process passes its readiness probe or the
// probe times out. Concurrent waiters share a single probe loop.
func (s *Supervisor) awaitReady(proc *Process) error {
	proc.mu.Lock()
	if proc.ready {
		proc.mu.Unlock()
		return nil
	}

	ch := make(chan error, 1)
	proc.waiters = append(proc.waiters, ch)

	if !proc.probing {
		proc.probing = true
		go s.probe(proc)
	}
	proc.mu.Unlock()

	return <-ch
}

func (s *Supervisor) probe(proc *Process) {
	err := netutil.WaitForPort(proc.Port, s.cfg.ReadyInterval, s.cfg.ReadyTimeout)

	proc.mu.Lock()
	proc.probing = false
	if err == nil {
		proc.ready = true
	}
	waiters := proc.waiters
	proc.waiters = nil
	proc.mu.Unlock()

	if err == nil {
		s.log.Info("App process ready",
			zap.String("app", proc.App),
			zap.Int("port", proc.Port),
		)
	} else {
		// The process is left running: it may still become ready, and a
		// later EnsureRunning will probe again.
		s.log.Warn("App process readiness timeout",
			zap.String("app", proc.App),
			zap.Int("port", proc.Port),
			zap.Error(err),
		)
	}

	for _, ch := range waiters {
		ch <- err
	}
}

// watchExit observes process exit, clears bookkeeping, and fails any
// readiness waiters so they do not sit out the full probe timeout.
func (s *Supervisor) watchExit(proc *Process) {
	err := proc.cmd.Wait()
	close(proc.done)

	s.mu.Lock()
	if tracked, ok := s.procs[proc.App]; ok && tracked == proc {
		delete(s.procs, proc.App)
		if s.metrics != nil {
			s.metrics.ProcessesRunning.Set(float64(len(s.procs)))
		}
	}
	observers := s.onExit
	s.mu.Unlock()

	proc.mu.Lock()
	proc.ready = false
	waiters := proc.waiters
	proc.waiters = nil
	proc.mu.Unlock()
	for _, ch := range waiters {
		ch <- fmt.Errorf("app %q exited before becoming ready", proc.App)
	}

	s.log.Info("App process exited",
		zap.String("app", proc.App),
		zap.Int("pid", proc.PID()),
		zap.Error(err),
	)

	for _, fn := range observers {
		fn(proc.App)
	}
}

func (s *Supervisor) appEnv(app string, port int) []string {
	gateway := fmt.Sprintf("%s:%d", s.cfg.GatewayHost, s.cfg.GatewayPort)
	return []string{
		fmt.Sprintf("PREVIEWD_APP_NAME=%s", app),
		fmt.Sprintf("PREVIEWD_APP_PORT=%d", port),
		fmt.Sprintf("PREVIEWD_PORT=%d", s.cfg.GatewayPort),
		fmt.Sprintf("PREVIEWD_API_URL=http://%s/__api", gateway),
		fmt.Sprintf("PREVIEWD_WS_URL=ws://%s/__ws", gateway),
	}
}

func (s *Supervisor) pipeOutput(app, stream string, r io.ReadCloser) {
	if r == nil {
		return
	}
	defer r.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.log.Debug("App output",
			zap.String("app", app),
			zap.String("stream", stream),
			zap.String("line", line),
		)
	}
}
