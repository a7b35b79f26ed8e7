package trace

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// batchSize is N in spec 4.3: "flushes the batch into the shared
// mapping every N records (N~=100)".
const batchSize = 100

// Writer is the target-process half of the transport. A production
// target gets this behavior from the compiled-in runtime ABI (spec
// section 6); this Go implementation exists so the scoreboard/transport
// pipeline is exercisable end-to-end against a Go-instrumented test
// target, per SPEC_FULL's note on internal/trace.
type Writer struct {
	region *Region
	tcID   uint64

	mu    sync.Mutex
	batch []Record
}

// NewWriter installs exit handlers for normal exit, a fatal signal, and
// the controlled-timeout signal (spec 4.3's "exit handlers for normal
// exit, fatal signal, and user-defined timeout signal"), then returns a
// Writer appending under testcase id tcID.
func NewWriter(region *Region, tcID uint64) *Writer {
	w := &Writer{region: region, tcID: tcID}

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGABRT, syscall.SIGUSR1)
	go func() {
		sig := <-sigs
		if sig == syscall.SIGUSR1 {
			w.Append(Record{Kind: KindTimedOut})
		} else {
			w.Append(Record{Kind: KindCrashed})
		}
		w.Flush()
		os.Exit(1)
	}()

	return w
}

// Append adds r to the in-process batch, flushing every batchSize
// records to keep mutex traffic O(1) per 100 records.
func (w *Writer) Append(r Record) {
	w.mu.Lock()
	w.batch = append(w.batch, r)
	full := len(w.batch) >= batchSize
	w.mu.Unlock()
	if full {
		w.Flush()
	}
}

// Flush pushes any buffered records into the shared region.
func (w *Writer) Flush() error {
	w.mu.Lock()
	batch := w.batch
	w.batch = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return w.region.Append(w.tcID, batch)
}

// Recover, deferred by the instrumented target's entrypoint, appends a
// crashed record and flushes before the panic continues unwinding --
// the Go-level analog of the runtime ABI's process-wide crash handler
// (spec 4.3: "Crash-safety").
func (w *Writer) Recover() {
	if r := recover(); r != nil {
		w.Append(Record{Kind: KindCrashed})
		w.Flush()
		panic(r)
	}
}

// Terminated flushes a terminated record for clean exit.
func (w *Writer) Terminated() {
	w.Append(Record{Kind: KindTerminated})
	w.Flush()
}
