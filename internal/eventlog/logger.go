package eventlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/queue"
)

// FullLogName is the file name of the complete event log inside a log
// directory.
const FullLogName = "events.tsv"

// Replay markers carried in the "action" argument of REPLAY events.
const (
	ActionRecordStart = "record_start"
	ActionRecordEnd   = "record_end"
)

// SubLogPath returns the path of the recording sub-log for session.
func SubLogPath(dir, session string) string {
	return filepath.Join(dir, "replay-"+session+".tsv")
}

// Logger writes bus events to the full log and the recording sub-log.
//
// Thread-safety: HandleEvent may be called from any goroutine; Run must
// be called from exactly one.
type Logger struct {
	dir     string
	full    *bufio.Writer
	closer  io.Closer
	pending *queue.Priority[event.Queued]

	// outstanding counts events accepted but not yet written.
	outstanding atomic.Int64
	running     atomic.Bool
	done        chan struct{}

	mu      sync.Mutex // guards the writers below
	sub     *bufio.Writer
	subFile *os.File
	session string
	lines   uint64
}

// Open creates dir if needed and appends to its full log.
func Open(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FullLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	l := New(f, dir)
	l.closer = f
	return l, nil
}

// New creates a logger writing the full log to w and sub-logs into dir.
func New(w io.Writer, dir string) *Logger {
	return &Logger{
		dir:     dir,
		full:    bufio.NewWriter(w),
		pending: queue.NewPriority[event.Queued](event.QueuedBefore),
		done:    make(chan struct{}),
	}
}

// Dir returns the directory sub-logs are written to.
func (l *Logger) Dir() string { return l.dir }

// Attach registers the logger on bus for every event type.
func (l *Logger) Attach(bus *event.Bus) (event.Handle, error) {
	return bus.Register(event.Wildcard, l, false)
}

// HandleEvent queues ev for the worker.
func (l *Logger) HandleEvent(ev *event.Event) error {
	l.outstanding.Add(1)
	if !l.pending.Push(event.Enqueue(ev)) {
		l.outstanding.Add(-1)
		slog.Debug("log closed, dropping event", "type", ev.Type())
	}
	return nil
}

// Run writes queued events until ctx is done or Close is called, then
// flushes what it wrote.
func (l *Logger) Run(ctx context.Context) error {
	if l.running.Swap(true) {
		return errors.New("log worker already running")
	}
	defer close(l.done)
	defer l.flush()
	for {
		q, ok := l.pending.Pop(ctx)
		if !ok {
			return nil
		}
		ev := q.Event
		if err := l.write(ev); err != nil {
			slog.Error("write log line", "type", ev.Type(), "error", err)
		}
		if l.outstanding.Add(-1) == 0 {
			l.flush()
		}
	}
}

func (l *Logger) write(ev *event.Event) error {
	line := Format(ev) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.full.WriteString(line); err != nil {
		return err
	}
	l.lines++

	switch ev.Type() {
	case event.Replay:
		switch ev.StringArg("action") {
		case ActionRecordStart:
			return l.openSubLocked(ev.StringArg("session"))
		case ActionRecordEnd:
			return l.closeSubLocked()
		}
	case event.GameObjectChange:
		if l.sub != nil {
			_, err := l.sub.WriteString(line)
			return err
		}
	}
	return nil
}

func (l *Logger) openSubLocked(session string) error {
	if session == "" {
		return errors.New("record_start without session")
	}
	if err := l.closeSubLocked(); err != nil {
		return err
	}
	f, err := os.Create(SubLogPath(l.dir, session))
	if err != nil {
		return fmt.Errorf("open sub-log: %w", err)
	}
	l.subFile = f
	l.sub = bufio.NewWriter(f)
	l.session = session
	slog.Info("recording to sub-log", "path", f.Name())
	return nil
}

func (l *Logger) closeSubLocked() error {
	if l.sub == nil {
		return nil
	}
	err := errors.Join(l.sub.Flush(), l.subFile.Close())
	l.sub, l.subFile, l.session = nil, nil, ""
	return err
}

func (l *Logger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.full.Flush(); err != nil {
		slog.Error("flush log", "error", err)
	}
	if l.sub != nil {
		if err := l.sub.Flush(); err != nil {
			slog.Error("flush sub-log", "error", err)
		}
	}
}

// Flush waits until every accepted event has been written and flushed.
func (l *Logger) Flush(ctx context.Context) error {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for l.outstanding.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	l.flush()
	return nil
}

// Lines returns how many lines the full log received.
func (l *Logger) Lines() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// Recording returns the session of the open sub-log, or "".
func (l *Logger) Recording() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Close stops accepting events, waits for Run to drain what is queued and
// closes the files.
func (l *Logger) Close() error {
	l.pending.Close()
	if l.running.Load() {
		<-l.done
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.closeSubLocked()
	if ferr := l.full.Flush(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if l.closer != nil {
		err = errors.Join(err, l.closer.Close())
		l.closer = nil
	}
	return err
}
