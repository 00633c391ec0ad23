package wasmbin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDownloadsInstantiatesAndPersists(t *testing.T) {
	module := []byte("\x00asm\x01\x00\x00\x00payload")
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/6.0.3/radare2.wasm", r.URL.Path)
		w.Write(module)
	}))
	defer srv.Close()

	store := openTestStore(t)
	mgr := NewManager(store, WithBaseURL(srv.URL))

	var instantiated []byte
	data, err := mgr.Ensure(context.Background(), "6.0.3", true, func(ctx context.Context, wasm []byte) error {
		instantiated = wasm
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, module, data)
	assert.Equal(t, module, instantiated)
	assert.Equal(t, Progress{Phase: PhaseComplete, Percent: 100}, mgr.Tracker().Snapshot())

	cached, err := store.Get("6.0.3")
	require.NoError(t, err)
	assert.Equal(t, module, cached)
	assert.Equal(t, int64(1), requests.Load())
}

func TestEnsureCacheHitMakesNoRequest(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("module"))
	}))
	defer srv.Close()

	store := openTestStore(t)
	require.NoError(t, store.Put("6.0.3", []byte("module"), "test"))

	mgr := NewManager(store, WithBaseURL(srv.URL))
	data, err := mgr.Ensure(context.Background(), "6.0.3", true, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("module"), data)
	assert.Equal(t, int64(0), requests.Load())
	assert.Equal(t, PhaseIdle, mgr.Tracker().Snapshot().Phase, "cache hits report no progress")
}

func TestEnsureWithoutPersistLeavesCacheEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("module"))
	}))
	defer srv.Close()

	store := openTestStore(t)
	mgr := NewManager(store, WithBaseURL(srv.URL))

	_, err := mgr.Ensure(context.Background(), "6.0.3", false, nil)
	require.NoError(t, err)

	_, err = store.Get("6.0.3")
	assert.ErrorIs(t, err, ErrModuleNotCached)
}

func TestEnsureAbortedFetchLeavesNoEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare more than is sent, then cut the connection.
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("half the bod"))
	}))
	defer srv.Close()

	store := openTestStore(t)
	mgr := NewManager(store, WithBaseURL(srv.URL))

	_, err := mgr.Ensure(context.Background(), "6.0.3", true, nil)
	require.ErrorIs(t, err, ErrFetchModule)

	_, err = store.Get("6.0.3")
	assert.ErrorIs(t, err, ErrModuleNotCached)
	assert.NotEmpty(t, mgr.Tracker().Snapshot().Error)
}

func TestEnsureMissingRemoteAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	mgr := NewManager(openTestStore(t), WithBaseURL(srv.URL))
	_, err := mgr.Ensure(context.Background(), "0.0.0", true, nil)
	assert.ErrorIs(t, err, ErrFetchModule)
}

func TestEnsureInstantiateFailureNotPersisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a wasm module"))
	}))
	defer srv.Close()

	store := openTestStore(t)
	mgr := NewManager(store, WithBaseURL(srv.URL))

	_, err := mgr.Ensure(context.Background(), "6.0.3", true, func(ctx context.Context, wasm []byte) error {
		return errors.New("invalid magic number")
	})
	require.ErrorIs(t, err, ErrInstantiate)

	_, err = store.Get("6.0.3")
	assert.ErrorIs(t, err, ErrModuleNotCached)
}

func TestEnsureDefaultsVersion(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte("module"))
	}))
	defer srv.Close()

	mgr := NewManager(openTestStore(t), WithBaseURL(srv.URL))
	_, err := mgr.Ensure(context.Background(), "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "/"+Version+"/radare2.wasm", path)
}

func TestImageReference(t *testing.T) {
	assert.Equal(t, DefaultRegistry+"/radare2:6.0.3", ImageReference(DefaultRegistry, "6.0.3"))
	assert.Equal(t, DefaultRegistry+"/radare2:"+Version, ImageReference(DefaultRegistry, ""))
}
