package invoker

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/dreamworksanimation/arras4-node/common/ids"
)

// GracePeriod is how long a soft Terminate waits for the process to exit
// before LocalSupervisor escalates to a hard Terminate. Grounded on the teacher LocalInvoker's Shutdown()/Close()
// split (SIGINT then SIGKILL).
const GracePeriod = 10 * time.Second

// LocalSupervisor runs a computation as a direct child process of the
// node agent. Grounded on the teacher's LocalInvoker
// (local_daemon/invoker/local.go in the original tree): exec.CommandContext
// starts the child, a background goroutine blocks on cmd.Wait() and
// closes a "closed" channel plus records the exit status, Shutdown()
// sends SIGINT, Close() sends SIGKILL. Generalized here from a single
// Jupyter-kernel launcher into a per-computation supervisor with an
// exit-classification contract (invoker.ExitReport) instead of the
// teacher's Jupyter-specific status enum.
type LocalSupervisor struct {
	mu    sync.Mutex
	state State

	cmd    *exec.Cmd
	cancel context.CancelFunc
	closed chan struct{}

	computationId ids.ComputationId
	sessionId     ids.SessionId
	expected      bool

	observer Observer
	counters Counters

	pool  *CgroupPool
	cores float64

	log logger.Logger
}

// NewLocalSupervisor constructs a supervisor that loans cores from pool
// (may be nil, in which case no pooled reservation is attempted).
func NewLocalSupervisor(pool *CgroupPool) *LocalSupervisor {
	s := &LocalSupervisor{
		state:  NotSpawned,
		closed: make(chan struct{}),
		pool:   pool,
	}
	config.InitLogger(&s.log, s)
	return s
}

func (s *LocalSupervisor) Spawn(ctx context.Context, spec LaunchSpec) error {
	s.mu.Lock()
	if s.state != NotSpawned {
		s.mu.Unlock()
		return errors.Errorf("supervisor already spawned for computation %s", spec.ComputationId)
	}
	s.computationId = spec.ComputationId
	s.sessionId = spec.SessionId
	s.mu.Unlock()

	if s.pool != nil && spec.Limits.Cores > 0 && !spec.Limits.Loan {
		if err := s.pool.Reserve(ctx, spec.Limits.Cores); err != nil {
			return errors.Wrap(err, "reserving cores from pool")
		}
		s.cores = spec.Limits.Cores
	}

	program, args := wrapSpec(spec)

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, program, args...)
	if spec.WorkingDirectory != "" {
		cmd.Dir = spec.WorkingDirectory
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	s.log.Debug("launching computation %s: %s", spec.ComputationId, program)

	if err := cmd.Start(); err != nil {
		cancel()
		if s.cores > 0 {
			s.pool.Release(s.cores)
		}
		s.mu.Lock()
		s.state = Exited
		s.mu.Unlock()
		return errors.Wrap(err, "starting computation process")
	}

	if err := applyLimits(cmd.Process.Pid, spec.Limits); err != nil {
		s.log.Warn("resource limits not applied for computation %s: %v", spec.ComputationId, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.cancel = cancel
	s.state = Spawned
	s.mu.Unlock()

	go s.waitForExit()

	return nil
}

func (s *LocalSupervisor) waitForExit() {
	err := s.cmd.Wait()

	if s.cores > 0 {
		s.pool.Release(s.cores)
	}

	report := ExitReport{
		ComputationId: s.computationId,
		SessionId:     s.sessionId,
	}

	s.mu.Lock()
	report.Expected = s.expected
	s.state = Exited
	s.mu.Unlock()

	switch e := err.(type) {
	case nil:
		report.Kind = ExitClean
	case *exec.ExitError:
		if status, ok := e.Sys().(syscall.WaitStatus); ok {
			switch {
			case status.Signaled():
				report.Kind = ExitSignal
				report.Signal = status.Signal().String()
			case status.ExitStatus() != 0:
				report.Kind = ExitNonZero
				report.Status = status.ExitStatus()
			default:
				report.Kind = ExitClean
			}
		} else {
			report.Kind = ExitNonZero
		}
	default:
		report.Kind = ExitInternal
	}

	s.log.Debug("computation %s exited: kind=%v status=%d signal=%s", s.computationId, report.Kind, report.Status, report.Signal)

	close(s.closed)

	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer.OnExit(report)
	}
}

func (s *LocalSupervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminate requests the process stop. A soft request sends SIGINT and
// escalates to a hard Terminate if the process is still running after
// GracePeriod; a hard request
// cancels the exec context and SIGKILLs the whole process group so
// stray grandchildren don't survive the computation.
func (s *LocalSupervisor) Terminate(soft bool, expected bool) {
	s.mu.Lock()
	s.expected = expected
	cmd := s.cmd
	state := s.state
	s.mu.Unlock()

	if cmd == nil || state == Exited || state == NotSpawned {
		return
	}

	s.mu.Lock()
	s.state = Terminating
	s.mu.Unlock()

	if soft {
		s.log.Debug("signaling computation %s (SIGINT)", s.computationId)
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGINT)
		}
		go func() {
			if !s.WaitUntilExit(GracePeriod) {
				s.Terminate(false, expected)
			}
		}()
		return
	}

	s.log.Debug("killing computation %s (SIGKILL)", s.computationId)
	s.cancel()
	if cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (s *LocalSupervisor) WaitUntilExit(deadline time.Duration) bool {
	select {
	case <-s.closed:
		return true
	case <-time.After(deadline):
		return false
	}
}

func (s *LocalSupervisor) OnExit(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

func (s *LocalSupervisor) PerformanceCounters() *Counters {
	return &s.counters
}
