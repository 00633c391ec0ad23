package wasmbin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AbhiTheModder/r2web/internal/errx"
	"github.com/AbhiTheModder/r2web/pkg/logging"
)

const (
	// Version is the analysis engine build served by default.
	Version = "6.0.3"

	DefaultBaseURL  = "https://abhithemodder.github.io/r2web/modules"
	DefaultRegistry = "ghcr.io/abhithemodder/r2web"

	moduleFilename = "radare2.wasm"
)

// Instantiate turns fully assembled module bytes into a runnable
// compiled module. It runs between download and persistence so a
// buffer that fails to compile is never written to the cache.
type Instantiate func(ctx context.Context, wasm []byte) error

// Manager resolves a version string to module bytes, from the local
// cache when possible and from the remote source otherwise.
type Manager struct {
	store    *Store
	tracker  *Tracker
	baseURL  string
	registry string
	client   *http.Client
	emitter  *logging.Emitter
}

type Option func(*Manager)

func WithBaseURL(url string) Option {
	return func(m *Manager) { m.baseURL = url }
}

func WithRegistry(registry string) Option {
	return func(m *Manager) { m.registry = registry }
}

func WithClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

func WithEmitter(emitter *logging.Emitter) Option {
	return func(m *Manager) { m.emitter = emitter }
}

func NewManager(store *Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		tracker:  NewTracker(),
		baseURL:  DefaultBaseURL,
		registry: DefaultRegistry,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tracker exposes the progress tracker for polling by the UI.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// Store exposes the backing cache store.
func (m *Manager) Store() *Store {
	return m.store
}

// DefaultCacheDir returns the per-user cache root.
func DefaultCacheDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "r2web")
}

func (m *Manager) moduleURL(version string) string {
	return fmt.Sprintf("%s/%s/%s", m.baseURL, version, moduleFilename)
}

// Ensure returns the module bytes for version, instantiated via the
// supplied hook. A cache hit reads and instantiates with no network
// traffic and no progress updates. On a miss the body is streamed with
// progress reporting, instantiated, and only then written to the cache
// when persist is set. A failed persist does not fail the load.
func (m *Manager) Ensure(ctx context.Context, version string, persist bool, instantiate Instantiate) ([]byte, error) {
	if version == "" {
		version = Version
	}

	start := time.Now()
	if data, err := m.store.Get(version); err == nil {
		if instantiate != nil {
			if err := instantiate(ctx, data); err != nil {
				return nil, errx.Wrap(ErrInstantiate, err)
			}
		}
		m.emitDownload(version, true, int64(len(data)), false, start)
		return data, nil
	}

	m.tracker.Begin()
	data, err := m.fetch(ctx, version)
	if err != nil {
		m.tracker.Fail(err)
		return nil, err
	}
	return m.finish(ctx, version, data, m.moduleURL(version), persist, instantiate, start)
}

// finish runs the post-download steps shared by the HTTP and OCI
// paths: instantiate, optionally persist, mark complete.
func (m *Manager) finish(ctx context.Context, version string, data []byte, source string, persist bool, instantiate Instantiate, start time.Time) ([]byte, error) {
	m.tracker.Processing(85)
	if instantiate != nil {
		if err := instantiate(ctx, data); err != nil {
			err = errx.Wrap(ErrInstantiate, err)
			m.tracker.Fail(err)
			return nil, err
		}
	}
	m.tracker.Processing(90)

	persisted := false
	if persist {
		// Best effort. The module is already usable in memory.
		if err := m.store.Put(version, data, source); err == nil {
			persisted = true
		}
	}
	m.tracker.Processing(95)
	m.tracker.Complete()

	m.emitDownload(version, false, int64(len(data)), persisted, start)
	return data, nil
}

func (m *Manager) fetch(ctx context.Context, version string) ([]byte, error) {
	url := m.moduleURL(version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errx.Wrap(ErrFetchModule, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errx.Wrap(ErrFetchModule, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errx.With(ErrFetchModule, ": %s returned %s", url, resp.Status)
	}

	total := resp.ContentLength
	m.tracker.Downloading(0, total)

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	var received int64
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			m.tracker.Downloading(received, total)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errx.Wrap(ErrFetchModule, err)
		}
	}
	return buf.Bytes(), nil
}

func (m *Manager) emitDownload(version string, cached bool, size int64, persisted bool, start time.Time) {
	if m.emitter == nil {
		return
	}
	summary := fmt.Sprintf("module %s loaded from network", version)
	if cached {
		summary = fmt.Sprintf("module %s loaded from cache", version)
	}
	_ = m.emitter.Emit(logging.EventModuleDownload, summary, nil, &logging.ModuleDownloadData{
		Version:    version,
		Cached:     cached,
		Bytes:      size,
		Persisted:  persisted,
		DurationMS: time.Since(start).Milliseconds(),
	})
}
