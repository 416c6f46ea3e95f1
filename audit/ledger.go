package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/logging"
)

// Sink receives enriched events in write order. Implementations must not
// reorder or drop events; a Sink that cannot keep up should apply backpressure
// in Write rather than silently lose data.
type Sink interface {
	Write(Event) error
	Close() error
}

// chainRule lists the event types legally following a given event type for a
// single intent_id. An empty slice means terminal: no further events are
// expected for that intent_id.
var chainRule = map[EventType][]EventType{
	IntentCreated:    {PlanCreated, IntentRejected},
	IntentRejected:   {},
	PlanCreated:      {SliceScheduled, SliceSent, IntentCompleted, IntentFailed, PlanCancelled},
	SliceScheduled:   {SliceScheduled, SliceSent, IntentCompleted, IntentFailed, PlanCancelled, PlanPaused},
	SliceSent:        {SliceAck, SliceRejected},
	SliceAck:         {SlicePartialFill, SliceFilled, SliceCancelled},
	SlicePartialFill: {SlicePartialFill, SliceFilled, SliceCancelled},
	SliceFilled:      {SliceScheduled, SliceSent, IntentCompleted, IntentFailed, PlanCancelled, PlanPaused},
	SliceRejected:    {SliceScheduled, SliceSent, IntentCompleted, IntentFailed, PlanCancelled, PlanPaused},
	SliceCancelled:   {SliceScheduled, SliceSent, IntentCompleted, IntentFailed, PlanCancelled, PlanPaused},
	PlanPaused:       {PlanResumed, PlanCancelled},
	PlanResumed:      {SliceScheduled, SliceSent, IntentCompleted, IntentFailed, PlanCancelled},
	PlanCancelled:    {},
	IntentCompleted:  {},
	IntentFailed:     {},
}

// ChainViolation is returned by Ledger.Record when an event type cannot
// legally follow the last event recorded for the same intent_id.
type ChainViolation struct {
	IntentID string
	From     EventType
	To       EventType
}

func (e *ChainViolation) Error() string {
	return fmt.Sprintf("audit: illegal transition for intent %s: %s -> %s", e.IntentID, e.From, e.To)
}

// Ledger is the totally-ordered, append-only event log. Every Record call is
// assigned a monotonically increasing sequence number and enriched with
// run_id/exec_id before being fanned out to its sinks. Record reports events
// that violate the per-intent_id event chain with a *ChainViolation rather
// than silently admitting corrupt history; the event itself is still written.
type Ledger struct {
	clock  clock.Clock
	runID  string
	execID string
	seq    int64

	mu    sync.Mutex
	sinks []Sink
	last  map[string]EventType
}

// NewLedger creates a Ledger tagging every event with runID (the identifier
// of this engine process invocation) and execID (the identifier of the
// specific backtest/live run, for replay comparison). A zero-value runID or
// execID is replaced with a freshly generated one.
func NewLedger(c clock.Clock, runID, execID string, sinks ...Sink) *Ledger {
	if runID == "" {
		runID = uuid.NewString()
	}
	if execID == "" {
		execID = uuid.NewString()
	}
	return &Ledger{
		clock:  c,
		runID:  runID,
		execID: execID,
		sinks:  sinks,
		last:   make(map[string]EventType),
	}
}

// Record enriches ev and writes it to every sink in order. It returns a
// *ChainViolation (unwrapped; errors.As also finds it) if ev.EventType cannot
// legally follow the last event recorded for ev.IntentID; the event is still
// enriched and assigned a sequence number but is NOT skipped, since dropping
// audit history on a logic bug would defeat the ledger's purpose. Callers
// that want strict enforcement should treat a non-nil error as fatal for the
// owning plan.
func (l *Ledger) Record(ev Event) error {
	l.mu.Lock()
	ev.Seq = atomic.AddInt64(&l.seq, 1)
	ev.TS = l.clock.Now().UnixMilli()
	ev.RunID = l.runID
	ev.ExecID = l.execID

	var chainErr error
	if prev, ok := l.last[ev.IntentID]; ok {
		if !legalTransition(prev, ev.EventType) {
			chainErr = &ChainViolation{IntentID: ev.IntentID, From: prev, To: ev.EventType}
		}
	}
	l.last[ev.IntentID] = ev.EventType
	sinks := l.sinks
	l.mu.Unlock()

	var writeErr error
	for _, s := range sinks {
		if err := s.Write(ev); err != nil && writeErr == nil {
			writeErr = err
		}
	}
	if chainErr != nil {
		return chainErr
	}
	return writeErr
}

func legalTransition(from, to EventType) bool {
	allowed, ok := chainRule[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// Close closes every sink, returning the first error encountered.
func (l *Ledger) Close() error {
	l.mu.Lock()
	sinks := l.sinks
	l.mu.Unlock()

	var first error
	for _, s := range sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FileSink is an append-only, JSON-lines, buffered Sink. It flushes when the
// buffer fills or on its internal ticker, whichever comes first, so a crash
// loses at most one flush interval of events. Rotation is delegated to
// logging.RotatingFileWriter, so the ledger's on-disk form rotates and
// compresses the same way the rest of the engine's file-backed logs do.
type FileSink struct {
	mu          sync.Mutex
	writer      *logging.RotatingFileWriter
	encoder     *json.Encoder
	buffer      []Event
	bufferSize  int
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewFileSink opens (creating if needed) dir/audit.log for append and starts
// its background flush loop. rotateThresholdBytes and flushInterval come from
// config.AuditConfig; a zero flushInterval falls back to 5s.
func NewFileSink(dir string, rotateThresholdBytes int64, flushInterval time.Duration) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	writer, err := logging.NewRotatingFileWriter(logging.RotationConfig{
		Filename:           filepath.Join(dir, "audit.log"),
		MaxSizeMB:          int(rotateThresholdBytes / (1024 * 1024)),
		MaxAge:             30 * 24 * time.Hour,
		MaxBackups:         50,
		CompressionEnabled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: opening rotating file sink: %w", err)
	}

	fs := &FileSink{
		writer:      writer,
		encoder:     json.NewEncoder(writer),
		buffer:      make([]Event, 0, 100),
		bufferSize:  100,
		flushTicker: time.NewTicker(flushInterval),
		stopCh:      make(chan struct{}),
	}
	go fs.autoFlush()
	return fs, nil
}

// Write buffers ev, flushing synchronously once the buffer fills.
func (fs *FileSink) Write(ev Event) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.buffer = append(fs.buffer, ev)
	if len(fs.buffer) >= fs.bufferSize {
		return fs.flushLocked()
	}
	return nil
}

func (fs *FileSink) flushLocked() error {
	if len(fs.buffer) == 0 {
		return nil
	}
	for _, ev := range fs.buffer {
		if err := fs.encoder.Encode(ev); err != nil {
			return err
		}
	}
	fs.buffer = fs.buffer[:0]
	return nil
}

func (fs *FileSink) autoFlush() {
	for {
		select {
		case <-fs.flushTicker.C:
			fs.mu.Lock()
			fs.flushLocked()
			fs.mu.Unlock()
		case <-fs.stopCh:
			return
		}
	}
}

// Close stops the flush loop, flushes remaining events and closes the file.
func (fs *FileSink) Close() error {
	close(fs.stopCh)
	fs.flushTicker.Stop()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.flushLocked(); err != nil {
		return err
	}
	return fs.writer.Close()
}

// MemorySink retains every event in order, for tests and replay comparison.
type MemorySink struct {
	mu     sync.Mutex
	Events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends ev.
func (m *MemorySink) Write(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

// Close is a no-op; MemorySink owns no external resource.
func (m *MemorySink) Close() error { return nil }

// Snapshot returns a copy of the events recorded so far.
func (m *MemorySink) Snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.Events))
	copy(out, m.Events)
	return out
}
