package engine

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/AbhiTheModder/r2web/internal/errx"
)

// Mount maps a host directory into the guest filesystem.
type Mount struct {
	HostDir   string
	GuestPath string
}

// StartSpec configures one process instance.
type StartSpec struct {
	// Args is the full argv, including the program name.
	Args []string
	// Mounts are applied in order.
	Mounts []Mount
}

// Process is one running instance of a compiled module. Stdin accepts
// keystrokes, stdout and stderr deliver the guest's output until the
// instance exits or is closed.
type Process struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	stderr *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	runErr error
	exit   uint32
}

// Start instantiates the module and begins running its entry point in
// the background. Cancelling ctx tears the instance down.
func (m *Module) Start(ctx context.Context, spec StartSpec) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, errx.With(ErrStartProcess, ": empty argv")
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	runCtx, cancel := context.WithCancel(ctx)
	p := &Process{
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	fsCfg := wazero.NewFSConfig()
	for _, mnt := range spec.Mounts {
		fsCfg = fsCfg.WithDirMount(mnt.HostDir, mnt.GuestPath)
	}

	// An empty name keeps instances anonymous so several can run from
	// the same compiled module at once.
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdin(stdinR).
		WithStdout(stdoutW).
		WithStderr(stderrW).
		WithFSConfig(fsCfg).
		WithArgs(spec.Args...)

	go func() {
		defer close(p.done)
		defer stdoutW.Close()
		defer stderrW.Close()

		mod, err := m.rt.InstantiateModule(runCtx, m.compiled, cfg)
		if mod != nil {
			mod.Close(context.Background())
		}
		p.recordExit(err)
	}()

	return p, nil
}

func (p *Process) recordExit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var exitErr *sys.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		p.exit = exitErr.ExitCode()
		if p.exit == sys.ExitCodeContextCanceled || p.exit == sys.ExitCodeDeadlineExceeded {
			// Torn down by Close, not a guest failure.
			p.exit = 0
		} else if p.exit != 0 {
			p.runErr = err
		}
	case errors.Is(err, context.Canceled):
	default:
		p.runErr = err
	}
}

// Stdin is the guest's standard input. Closing it signals EOF to the
// guest.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout streams the guest's standard output until exit.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr streams the guest's standard error until exit.
func (p *Process) Stderr() io.Reader { return p.stderr }

// Done is closed once the instance has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err reports the terminal error after Done is closed. A clean exit,
// exit code zero, and teardown via Close all report nil.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

// ExitCode is valid after Done is closed.
func (p *Process) ExitCode() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Close tears the instance down and waits for it to exit or for ctx to
// expire. It is idempotent and always best effort.
func (p *Process) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stdin.Close()
	p.cancel()

	select {
	case <-p.done:
	case <-ctx.Done():
	}
	return nil
}
