package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/AbhiTheModder/r2web/internal/errx"
	"github.com/AbhiTheModder/r2web/pkg/engine"
	"github.com/AbhiTheModder/r2web/pkg/logging"
	"github.com/AbhiTheModder/r2web/pkg/session"
	"github.com/AbhiTheModder/r2web/pkg/tabs"
	"github.com/AbhiTheModder/r2web/pkg/terminal"
	"github.com/AbhiTheModder/r2web/pkg/wasmbin"
)

const (
	maxUIRequestBodySize = 256 << 20 // uploaded binaries ride in request bodies

	wsFrameTypeInput     byte = 0
	wsFrameTypeResize    byte = 1
	wsFrameTypeInterrupt byte = 2
	wsFrameTypeSeek      byte = 3
)

type uiServerConfig struct {
	cacheDir        string
	baseURL         string
	registry        string
	source          string // "http" or "oci"
	defaultVersion  string
	persist         bool
	shutdownTimeout time.Duration
	exportTimeout   time.Duration
	emitter         *logging.Emitter
}

type uiServer struct {
	assets  fs.FS
	store   *wasmbin.Store
	mgr     *wasmbin.Manager
	runtime *engine.Runtime
	tabs    *tabs.Manager
	cfg     uiServerConfig

	loading sync.Mutex // serializes module loads

	mu            sync.RWMutex
	module        *engine.Module
	moduleVersion string
	// retired holds superseded compiled modules until shutdown;
	// sessions started from them may still be running.
	retired []*engine.Module

	tapsMu sync.Mutex
	taps   map[int]*tapWriter
}

type uiOpenTabRequest struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

type uiLoadModuleRequest struct {
	Version string `json:"version,omitempty"`
	Persist *bool  `json:"persist,omitempty"`
}

type uiSelectTabRequest struct {
	ID        *int   `json:"id,omitempty"`
	Ordinal   *int   `json:"ordinal,omitempty"`
	Direction string `json:"direction,omitempty"` // "next" or "prev"
}

type uiUploadRequest struct {
	Files []uiOpenTabRequest `json:"files"`
}

type uiSearchRequest struct {
	Term          string `json:"term"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	Regex         bool   `json:"regex,omitempty"`
	Backward      bool   `json:"backward,omitempty"`
}

type uiDeleteCacheRequest struct {
	Version string `json:"version"`
}

func newUIServer(ctx context.Context, cfg uiServerConfig) (*uiServer, error) {
	assets, err := uiAssetsFS()
	if err != nil {
		return nil, errx.Wrap(ErrUIServeAssets, err)
	}

	store, err := wasmbin.OpenStore(cfg.cacheDir)
	if err != nil {
		return nil, err
	}

	runtime, err := engine.NewRuntime(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &uiServer{
		assets:  assets,
		store:   store,
		runtime: runtime,
		cfg:     cfg,
		taps:    make(map[int]*tapWriter),
	}
	s.mgr = wasmbin.NewManager(store,
		wasmbin.WithBaseURL(cfg.baseURL),
		wasmbin.WithRegistry(cfg.registry),
		wasmbin.WithEmitter(cfg.emitter),
	)
	s.tabs = tabs.NewManager(s.startProcess,
		tabs.WithEmitter(cfg.emitter),
		tabs.WithOutputWrapper(s.wrapOutput),
	)
	return s, nil
}

// startProcess launches a process from whichever module is currently
// loaded. Tabs opened before a load report the condition inline.
func (s *uiServer) startProcess(ctx context.Context, spec engine.StartSpec) (session.Proc, error) {
	s.mu.RLock()
	mod := s.module
	s.mu.RUnlock()
	if mod == nil {
		return nil, ErrUIModuleNotReady
	}
	// Session processes outlive the request that created them.
	return mod.Start(context.WithoutCancel(ctx), spec)
}

func (s *uiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/module", s.handleModule)
	mux.HandleFunc("/api/module/load", s.handleLoadModule)
	mux.HandleFunc("/api/module/progress", s.handleModuleProgress)
	mux.HandleFunc("/api/cache", s.handleCache)
	mux.HandleFunc("/api/tabs", s.handleTabs)
	mux.HandleFunc("/api/tabs/", s.handleTabActions)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/", s.handleUI)
	return mux
}

func (s *uiServer) Close(ctx context.Context) error {
	s.tabs.Shutdown(ctx)

	s.tapsMu.Lock()
	for _, tap := range s.taps {
		tap.closeConns()
	}
	clear(s.taps)
	s.tapsMu.Unlock()

	s.mu.Lock()
	var errs []error
	for _, mod := range s.retired {
		if err := mod.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.retired = nil
	if s.module != nil {
		if err := s.module.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		s.module = nil
	}
	s.mu.Unlock()

	if err := s.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *uiServer) handleModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	s.mu.RLock()
	loaded := s.module != nil
	version := s.moduleVersion
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":   loaded,
		"version":  version,
		"progress": s.mgr.Tracker().Snapshot(),
	})
}

func (s *uiServer) handleModuleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Tracker().Snapshot())
}

func (s *uiServer) handleLoadModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req uiLoadModuleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	version := strings.TrimSpace(req.Version)
	if version == "" {
		version = s.cfg.defaultVersion
	}
	persist := s.cfg.persist
	if req.Persist != nil {
		persist = *req.Persist
	}

	if !s.loading.TryLock() {
		writeAPIError(w, http.StatusConflict, "a module load is already in progress")
		return
	}
	defer s.loading.Unlock()

	instantiate := func(ctx context.Context, wasm []byte) error {
		mod, err := s.runtime.Load(ctx, wasm)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.module != nil {
			s.retired = append(s.retired, s.module)
		}
		s.module = mod
		s.moduleVersion = version
		s.mu.Unlock()
		return nil
	}

	var err error
	if s.cfg.source == "oci" {
		_, err = s.mgr.Pull(r.Context(), version, persist, instantiate)
	} else {
		_, err = s.mgr.Ensure(r.Context(), version, persist, instantiate)
	}
	if err != nil {
		writeAPIError(w, http.StatusBadGateway, errx.Wrap(ErrUILoadModule, err).Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":  true,
		"version": version,
	})
}

func (s *uiServer) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.store.List()
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, errx.Wrap(ErrUIListCache, err).Error())
			return
		}
		if entries == nil {
			entries = []wasmbin.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	case http.MethodDelete:
		var req uiDeleteCacheRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Version = strings.TrimSpace(req.Version)
		if req.Version == "" {
			writeAPIError(w, http.StatusBadRequest, "version is required")
			return
		}
		if err := s.store.Delete(req.Version); err != nil {
			writeAPIError(w, http.StatusInternalServerError, errx.Wrap(ErrUIDeleteCache, err).Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"version": req.Version, "removed": true})
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *uiServer) handleTabs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"tabs": s.tabs.List()})
	case http.MethodPost:
		var req uiOpenTabRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeAPIError(w, http.StatusBadRequest, "name is required")
			return
		}
		tab := s.tabs.Open(r.Context(), session.InputFile{Name: req.Name, Content: req.Content})
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": tab.ID, "file": tab.File})
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *uiServer) handleTabActions(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tabs/"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	if parts[0] == "select" && len(parts) == 1 {
		s.handleSelectTab(w, r)
		return
	}

	tabID, err := strconv.Atoi(parts[0])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		s.handleCloseTab(w, r, tabID)
	case len(parts) == 2 && parts[1] == "restart":
		s.handleRestartTab(w, r, tabID)
	case len(parts) == 2 && parts[1] == "files":
		s.handleUploadFiles(w, r, tabID)
	case len(parts) == 2 && parts[1] == "export":
		s.handleExport(w, r, tabID)
	case len(parts) == 2 && parts[1] == "search":
		s.handleSearch(w, r, tabID)
	case len(parts) == 3 && parts[1] == "terminal" && parts[2] == "ws":
		s.handleTerminalWebsocket(w, r, tabID)
	default:
		http.NotFound(w, r)
	}
}

func (s *uiServer) handleSelectTab(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req uiSelectTabRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	var id int
	var err error
	switch {
	case req.ID != nil:
		id = *req.ID
		err = s.tabs.Select(id)
	case req.Ordinal != nil:
		id, err = s.tabs.SelectOrdinal(*req.Ordinal)
	case req.Direction == "next":
		id, err = s.tabs.Next()
	case req.Direction == "prev":
		id, err = s.tabs.Prev()
	default:
		writeAPIError(w, http.StatusBadRequest, "id, ordinal, or direction is required")
		return
	}
	if err != nil {
		writeAPIError(w, tabErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": id})
}

func (s *uiServer) handleCloseTab(w http.ResponseWriter, r *http.Request, tabID int) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w, http.MethodDelete)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.shutdownTimeout)
	defer cancel()

	if err := s.tabs.Close(ctx, tabID); err != nil {
		writeAPIError(w, tabErrorStatus(err), err.Error())
		return
	}
	s.dropTap(tabID)

	resp := map[string]interface{}{"id": tabID, "closed": true}
	if active, ok := s.tabs.Active(); ok {
		resp["active"] = active.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *uiServer) handleRestartTab(w http.ResponseWriter, r *http.Request, tabID int) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.tabs.Restart(r.Context(), tabID); err != nil {
		writeAPIError(w, tabErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": tabID, "restarted": true})
}

func (s *uiServer) handleUploadFiles(w http.ResponseWriter, r *http.Request, tabID int) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req uiUploadRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Files) == 0 {
		writeAPIError(w, http.StatusBadRequest, "files are required")
		return
	}

	tab, err := s.tabs.Get(tabID)
	if err != nil {
		writeAPIError(w, tabErrorStatus(err), err.Error())
		return
	}

	files := make([]session.InputFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, session.InputFile{Name: f.Name, Content: f.Content})
	}

	// Per-file failures are independent; report what failed but keep
	// the successes.
	uploadErr := tab.Session.Upload(files)
	if errors.Is(uploadErr, session.ErrNoSessionDir) {
		writeAPIError(w, http.StatusConflict, uploadErr.Error())
		return
	}
	resp := map[string]interface{}{"id": tabID, "uploaded": len(files)}
	if uploadErr != nil {
		resp["error"] = uploadErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *uiServer) handleExport(w http.ResponseWriter, r *http.Request, tabID int) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	tab, err := s.tabs.Get(tabID)
	if err != nil {
		writeAPIError(w, tabErrorStatus(err), err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.exportTimeout)
	defer cancel()

	name, data, err := tab.Session.Export(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoSession) {
			status = http.StatusConflict
		} else if errors.Is(err, session.ErrExportTimeout) {
			status = http.StatusGatewayTimeout
		}
		writeAPIError(w, status, errx.Wrap(ErrUIExport, err).Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *uiServer) handleSearch(w http.ResponseWriter, r *http.Request, tabID int) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req uiSearchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	tab, err := s.tabs.Get(tabID)
	if err != nil {
		writeAPIError(w, tabErrorStatus(err), err.Error())
		return
	}

	opts := terminal.SearchOptions{CaseSensitive: req.CaseSensitive, Regex: req.Regex}
	var match terminal.Match
	var found bool
	if req.Backward {
		match, found, err = tab.View.FindPrevious(req.Term, opts)
	} else {
		match, found, err = tab.View.FindNext(req.Term, opts)
	}
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, errx.Wrap(ErrUISearch, err).Error())
		return
	}

	resp := map[string]interface{}{"found": found}
	if found {
		resp["line"] = match.Line
		resp["start"] = match.Start
		resp["end"] = match.End
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *uiServer) handleTerminalWebsocket(w http.ResponseWriter, r *http.Request, tabID int) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		s.serveTerminalConn(conn, tabID)
	}).ServeHTTP(w, r)
}

func (s *uiServer) serveTerminalConn(conn *websocket.Conn, tabID int) {
	defer conn.Close()

	tab, err := s.tabs.Get(tabID)
	if err != nil {
		_ = websocket.Message.Send(conn, []byte(fmt.Sprintf("\r\n[tab %d not found]\r\n", tabID)))
		return
	}

	tap := s.tap(tabID)

	// Replay scrollback so a reconnecting client sees prior output,
	// then attach for live bytes. The terminal widget needs CRLF to
	// reset the column on each line.
	if lines := tab.View.Lines(); len(lines) > 0 {
		if err := websocket.Message.Send(conn, []byte(strings.Join(lines, "\r\n"))); err != nil {
			return
		}
	}
	if tap != nil {
		tap.attach(conn)
		defer tap.detach(conn)
	}

	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return
		}
		if len(msg) == 0 {
			continue
		}

		frameType := msg[0]
		payload := msg[1:]
		switch frameType {
		case wsFrameTypeInput:
			if len(payload) > 0 {
				tab.Wiring.HandleKey(payload)
			}
		case wsFrameTypeResize:
			if len(payload) >= 4 {
				rows := binary.BigEndian.Uint16(payload[0:2])
				cols := binary.BigEndian.Uint16(payload[2:4])
				if rows > 0 && cols > 0 {
					tab.View.Resize(int(rows), int(cols))
				}
			}
		case wsFrameTypeInterrupt:
			tab.Wiring.HandleKey([]byte{0x03})
		case wsFrameTypeSeek:
			tab.Wiring.Seek(string(payload))
		}
	}
}

func (s *uiServer) wrapOutput(tabID int, view *terminal.View) io.Writer {
	tap := &tapWriter{view: view, conns: make(map[*websocket.Conn]bool)}
	s.tapsMu.Lock()
	s.taps[tabID] = tap
	s.tapsMu.Unlock()
	return tap
}

func (s *uiServer) tap(tabID int) *tapWriter {
	s.tapsMu.Lock()
	defer s.tapsMu.Unlock()
	return s.taps[tabID]
}

func (s *uiServer) dropTap(tabID int) {
	s.tapsMu.Lock()
	tap := s.taps[tabID]
	delete(s.taps, tabID)
	s.tapsMu.Unlock()
	if tap != nil {
		tap.closeConns()
	}
}

func (s *uiServer) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeMethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}

	assetPath := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
	assetPath = strings.TrimPrefix(assetPath, "/")
	if assetPath == "" || assetPath == "." {
		assetPath = "index.html"
	}
	if strings.HasPrefix(assetPath, "api/") {
		http.NotFound(w, r)
		return
	}

	data, err := fs.ReadFile(s.assets, assetPath)
	if err != nil {
		assetPath = "index.html"
		data, err = fs.ReadFile(s.assets, assetPath)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, errx.Wrap(ErrUIServeAssets, err).Error())
			return
		}
	}

	if contentType := mime.TypeByExtension(path.Ext(assetPath)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

func tabErrorStatus(err error) int {
	switch {
	case errors.Is(err, terminal.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrNoTabs):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSONBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxUIRequestBodySize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errx.Wrap(ErrUIInvalidRequest, fmt.Errorf("request body is required"))
		}
		return errx.Wrap(ErrUIInvalidRequest, err)
	}

	var extra struct{}
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		return errx.Wrap(ErrUIInvalidRequest, fmt.Errorf("request body must contain a single JSON object"))
	}

	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeAPIError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// tapWriter feeds the scrollback view first, then mirrors the same
// bytes to every attached websocket. A send failure drops that
// connection without disturbing the others.
type tapWriter struct {
	view io.Writer

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func (t *tapWriter) Write(p []byte) (int, error) {
	n, err := t.view.Write(p)

	payload := make([]byte, len(p))
	copy(payload, p)

	t.mu.Lock()
	for conn := range t.conns {
		if sendErr := websocket.Message.Send(conn, payload); sendErr != nil {
			delete(t.conns, conn)
			conn.Close()
		}
	}
	t.mu.Unlock()
	return n, err
}

func (t *tapWriter) attach(conn *websocket.Conn) {
	t.mu.Lock()
	t.conns[conn] = true
	t.mu.Unlock()
}

func (t *tapWriter) detach(conn *websocket.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

func (t *tapWriter) closeConns() {
	t.mu.Lock()
	for conn := range t.conns {
		conn.Close()
	}
	clear(t.conns)
	t.mu.Unlock()
}
