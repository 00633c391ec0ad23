package logging

import (
	"encoding/json"
	"time"
)

// Event is the structured record written for every notable action the
// server or a session takes. Required fields: Timestamp, RunID, Origin,
// EventType, Summary. Optional fields use omitempty tags.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Origin    string          `json:"origin"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventModuleDownload = "module_download"
	EventSessionStart   = "session_start"
	EventSessionRestart = "session_restart"
	EventSessionClose   = "session_close"
	EventFileUpload     = "file_upload"
	EventFileExport     = "file_export"
	EventStreamError    = "stream_error"
)

// ModuleDownloadData is the data payload for module_download events.
type ModuleDownloadData struct {
	Version    string `json:"version"`
	Cached     bool   `json:"cached"`
	Bytes      int64  `json:"bytes,omitempty"`
	Persisted  bool   `json:"persisted,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// SessionData is the data payload for session lifecycle events.
type SessionData struct {
	TabID int    `json:"tab_id"`
	File  string `json:"file,omitempty"`
}

// UploadData is the data payload for file_upload events.
type UploadData struct {
	TabID  int      `json:"tab_id"`
	Files  []string `json:"files"`
	Failed []string `json:"failed,omitempty"`
}

// ExportData is the data payload for file_export events.
type ExportData struct {
	TabID int    `json:"tab_id"`
	File  string `json:"file"`
	Bytes int64  `json:"bytes"`
}

// StreamErrorData is the data payload for stream_error events.
type StreamErrorData struct {
	TabID  int    `json:"tab_id"`
	Stream string `json:"stream"` // "stdin", "stdout", or "stderr"
	Error  string `json:"error"`
}
