// Package session binds one running engine process to one tab, one
// input file, and one fresh output directory. Starting a session
// always supersedes the previous process for the same tab; teardown of
// the old process is best effort because the runtime tolerates
// redundant releases.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AbhiTheModder/r2web/internal/errx"
	"github.com/AbhiTheModder/r2web/pkg/engine"
	"github.com/AbhiTheModder/r2web/pkg/logging"
)

// InputFile is one user-supplied file: a name and its full content.
type InputFile struct {
	Name    string
	Content []byte
}

// Proc is the process surface a session drives.
type Proc interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Close(ctx context.Context) error
}

// StartFunc launches one process instance.
type StartFunc func(ctx context.Context, spec engine.StartSpec) (Proc, error)

// ModuleStarter adapts a compiled module to a StartFunc.
func ModuleStarter(m *engine.Module) StartFunc {
	return func(ctx context.Context, spec engine.StartSpec) (Proc, error) {
		return m.Start(ctx, spec)
	}
}

// Session is one tab's process slot. At most one process is current at
// any instant.
type Session struct {
	tabID   int
	file    InputFile
	start   StartFunc
	emitter *logging.Emitter

	mu      sync.Mutex
	proc    Proc
	workDir string
	outDir  string
}

type Option func(*Session)

func WithEmitter(emitter *logging.Emitter) Option {
	return func(s *Session) { s.emitter = emitter }
}

// New creates a session bound to tabID and file. No process runs until
// Start is called.
func New(tabID int, file InputFile, start StartFunc, opts ...Option) *Session {
	s := &Session{tabID: tabID, file: file, start: start}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TabID returns the owning tab's identifier.
func (s *Session) TabID() int { return s.tabID }

// File returns the bound input file's name.
func (s *Session) File() string { return s.file.Name }

// Start launches a fresh process for the bound file, superseding any
// prior process. The input file is written into a new working
// directory mounted at the guest root, with an empty output directory
// mounted alongside it.
func (s *Session) Start(ctx context.Context) (Proc, error) {
	if s.file.Name == "" {
		return nil, ErrNoInputFile
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.stopLocked(ctx)
	s.removeDirsLocked()

	workDir, err := os.MkdirTemp("", "r2web-work-")
	if err != nil {
		return nil, errx.Wrap(ErrCreateWorkDir, err)
	}
	outDir, err := os.MkdirTemp("", "r2web-out-")
	if err != nil {
		os.RemoveAll(workDir)
		return nil, errx.Wrap(ErrCreateWorkDir, err)
	}

	name := filepath.Base(s.file.Name)
	if err := os.WriteFile(filepath.Join(workDir, name), s.file.Content, 0644); err != nil {
		os.RemoveAll(workDir)
		os.RemoveAll(outDir)
		return nil, errx.Wrap(ErrWriteInput, err)
	}

	proc, err := s.start(ctx, engine.StartSpec{
		Args: []string{"radare2", name},
		Mounts: []engine.Mount{
			{HostDir: workDir, GuestPath: "/"},
			{HostDir: outDir, GuestPath: OutMount},
		},
	})
	if err != nil {
		os.RemoveAll(workDir)
		os.RemoveAll(outDir)
		return nil, err
	}

	s.proc = proc
	s.workDir = workDir
	s.outDir = outDir

	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventSessionStart,
			fmt.Sprintf("session started for %s", name), nil,
			&logging.SessionData{TabID: s.tabID, File: name})
	}
	return proc, nil
}

// Stop closes the current process's stdin and releases its handle.
// Both are best effort; a session with no process is a no-op.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.stopLocked(ctx)
}

func (s *Session) stopLocked(ctx context.Context) error {
	if s.proc == nil {
		return nil
	}
	stdinErr := s.proc.Stdin().Close()
	closeErr := s.proc.Close(ctx)
	s.proc = nil
	return errors.Join(stdinErr, closeErr)
}

func (s *Session) removeDirsLocked() {
	if s.workDir != "" {
		os.RemoveAll(s.workDir)
		s.workDir = ""
	}
	if s.outDir != "" {
		os.RemoveAll(s.outDir)
		s.outDir = ""
	}
}

// Close stops the process and removes the session's directories. The
// returned error combines the process release failures; directory
// removal stays best effort.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	err := s.stopLocked(ctx)
	s.removeDirsLocked()
	s.mu.Unlock()

	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventSessionClose,
			fmt.Sprintf("session closed for tab %d", s.tabID), nil,
			&logging.SessionData{TabID: s.tabID, File: s.file.Name})
	}
	return err
}

// Write forwards bytes to the current process's stdin. It satisfies
// io.Writer so stream wiring can treat the session as a byte sink.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return 0, ErrNoSession
	}
	n, err := proc.Stdin().Write(p)
	if err != nil {
		return n, errx.Wrap(ErrWriteStdin, err)
	}
	return n, nil
}

// Upload writes files into the session's working directory. Each file
// is independent; one failure does not stop the rest. The combined
// error lists every file that failed.
func (s *Session) Upload(files []InputFile) error {
	s.mu.Lock()
	workDir := s.workDir
	s.mu.Unlock()

	if workDir == "" {
		return ErrNoSessionDir
	}

	var errs []error
	var names, failed []string
	for _, f := range files {
		name := filepath.Base(f.Name)
		names = append(names, name)
		if name == "." || name == string(filepath.Separator) {
			errs = append(errs, errx.With(ErrUploadFile, " %q: invalid name", f.Name))
			failed = append(failed, f.Name)
			continue
		}
		if err := os.WriteFile(filepath.Join(workDir, name), f.Content, 0644); err != nil {
			errs = append(errs, errx.With(ErrUploadFile, " %q: %w", name, err))
			failed = append(failed, name)
		}
	}

	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventFileUpload,
			fmt.Sprintf("uploaded %d of %d files", len(names)-len(failed), len(names)), nil,
			&logging.UploadData{TabID: s.tabID, Files: names, Failed: failed})
	}
	return errors.Join(errs...)
}

// Export asks the running engine to write a modified copy of the input
// file into the output mount, then reads it back once its size has
// stabilized. The caller bounds the wait through ctx.
func (s *Session) Export(ctx context.Context) (string, []byte, error) {
	s.mu.Lock()
	proc := s.proc
	outDir := s.outDir
	s.mu.Unlock()

	if proc == nil || outDir == "" {
		return "", nil, ErrNoSession
	}

	exportName := ExportFileName(s.file.Name)
	if _, err := s.Write([]byte(exportCommand(exportName) + "\r")); err != nil {
		return "", nil, errx.Wrap(ErrExport, err)
	}

	hostPath := filepath.Join(outDir, exportName)
	data, err := waitForStableFile(ctx, hostPath)
	if err != nil {
		return "", nil, err
	}

	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventFileExport,
			fmt.Sprintf("exported %s", exportName), nil,
			&logging.ExportData{TabID: s.tabID, File: exportName, Bytes: int64(len(data))})
	}
	return exportName, data, nil
}

// waitForStableFile polls until the file exists with a non-zero size
// that holds steady across two consecutive polls. The guest gives no
// write-completion signal, so size stabilization stands in for one.
func waitForStableFile(ctx context.Context, path string) ([]byte, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var lastSize int64 = -1
	for {
		select {
		case <-ctx.Done():
			return nil, errx.With(ErrExportTimeout, ": %s", filepath.Base(path))
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				lastSize = -1
				continue
			}
			size := info.Size()
			if size > 0 && size == lastSize {
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, errx.Wrap(ErrExport, err)
				}
				return data, nil
			}
			lastSize = size
		}
	}
}

// Describe returns a short user-facing label for the session.
func (s *Session) Describe() string {
	if s.file.Name == "" {
		return "(no file)"
	}
	return strings.TrimSpace(filepath.Base(s.file.Name))
}
