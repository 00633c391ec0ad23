package wasmbin

import "sync"

// Phase is one stage of a module load. Phases only move forward within
// a single load.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseDownloading  Phase = "downloading"
	PhaseProcessing   Phase = "processing"
	PhaseComplete     Phase = "complete"
)

// Download percent runs 30..80; the remaining 20 points cover the
// processing steps after the body is fully received.
const (
	percentDownloadBase = 30
	percentDownloadSpan = 50
)

// Progress is a point-in-time snapshot of a load.
type Progress struct {
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	Error   string `json:"error,omitempty"`
}

// Tracker records load progress for polling by the UI. Percent is
// monotonically non-decreasing until Begin resets it for a new load.
// Fail freezes the tracker at its current percent.
type Tracker struct {
	mu      sync.Mutex
	phase   Phase
	percent int
	errMsg  string
}

func NewTracker() *Tracker {
	return &Tracker{phase: PhaseIdle}
}

// Begin starts a fresh load, resetting percent to zero.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = PhaseInitializing
	t.percent = 0
	t.errMsg = ""
}

// Downloading reports received bytes against the declared total. When
// the server declared no total, percent holds at the base step until
// processing begins.
func (t *Tracker) Downloading(received, total int64) {
	pct := percentDownloadBase
	if total > 0 {
		pct = percentDownloadBase + int(received*percentDownloadSpan/total)
		if pct > percentDownloadBase+percentDownloadSpan {
			pct = percentDownloadBase + percentDownloadSpan
		}
	}
	t.advance(PhaseDownloading, pct)
}

// Processing marks the start of post-download work.
func (t *Tracker) Processing(percent int) {
	t.advance(PhaseProcessing, percent)
}

// Complete marks the load finished.
func (t *Tracker) Complete() {
	t.advance(PhaseComplete, 100)
}

// Fail records the error and freezes the tracker where it stands.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.errMsg = err.Error()
	}
}

func (t *Tracker) advance(phase Phase, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.errMsg != "" {
		return
	}
	t.phase = phase
	if percent > t.percent {
		t.percent = percent
	}
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Progress{Phase: t.phase, Percent: t.percent, Error: t.errMsg}
}
