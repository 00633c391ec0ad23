package session

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/AbhiTheModder/r2web/pkg/logging"
)

const keyInterrupt = 0x03

// Wiring bridges one session's byte I/O to one terminal. Keystrokes
// flow to stdin in the order handled; stdout and stderr are pumped
// independently, each preserving its own arrival order.
type Wiring struct {
	tabID   int
	out     io.Writer // terminal
	in      io.Writer // process stdin
	emitter *logging.Emitter

	// inFlight approximates "an operation is currently executing" at
	// byte-forwarding granularity. Every forwarded keystroke sets it;
	// only the interrupt key clears it.
	inFlight atomic.Bool
}

type WiringOption func(*Wiring)

func WiringEmitter(emitter *logging.Emitter) WiringOption {
	return func(w *Wiring) { w.emitter = emitter }
}

// NewWiring bridges keystrokes into in and process output into out.
func NewWiring(tabID int, out, in io.Writer, opts ...WiringOption) *Wiring {
	w := &Wiring{tabID: tabID, out: out, in: in}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleKey processes one terminal input event. Regular keystrokes are
// forwarded verbatim and mark an operation in flight. The interrupt
// key is never forwarded raw: while an operation is in flight it
// clears the marker, echoes a visible indicator, and sends a lone
// carriage return; otherwise it is a no-op.
func (w *Wiring) HandleKey(data []byte) {
	if len(data) == 1 && data[0] == keyInterrupt {
		if w.inFlight.CompareAndSwap(true, false) {
			w.echo("^C")
			w.writeStdin([]byte("\r"))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	w.inFlight.Store(true)
	w.writeStdin(data)
}

// Seek jumps the engine to addr. An empty or whitespace-only address
// is a no-op.
func (w *Wiring) Seek(addr string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	w.writeStdin([]byte(seekCommand(addr) + "\r"))
}

// InFlight reports whether the interrupt key would currently act.
func (w *Wiring) InFlight() bool {
	return w.inFlight.Load()
}

func (w *Wiring) writeStdin(data []byte) {
	if _, err := w.in.Write(data); err != nil {
		w.reportStreamError("stdin", err)
	}
}

func (w *Wiring) echo(s string) {
	w.out.Write([]byte(s))
}

// Attach starts background pumps for the process's output streams.
// Pumps end when their stream does; a superseded process's pumps drain
// naturally at EOF.
func (w *Wiring) Attach(proc Proc) {
	go w.Pump("stdout", proc.Stdout())
	go w.Pump("stderr", proc.Stderr())
}

// Pump copies r to the terminal chunk by chunk. A failure writing one
// chunk is reported inline and does not stop the stream.
func (w *Wiring) Pump(name string, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.out.Write(buf[:n]); werr != nil {
				w.reportStreamError(name, werr)
			}
		}
		if err != nil {
			if err != io.EOF {
				w.reportStreamError(name, err)
			}
			return
		}
	}
}

func (w *Wiring) reportStreamError(stream string, err error) {
	// The inline message itself is best effort.
	fmt.Fprintf(w.out, "\r\n[%s error: %v]\r\n", stream, err)
	if w.emitter != nil {
		_ = w.emitter.Emit(logging.EventStreamError,
			fmt.Sprintf("%s stream error on tab %d", stream, w.tabID),
			nil,
			&logging.StreamErrorData{TabID: w.tabID, Stream: stream, Error: err.Error()})
	}
}
