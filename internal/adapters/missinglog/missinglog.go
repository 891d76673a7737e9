// Package missinglog appends the paths of trials that could not be read.
//
// One goroutine owns the file. Each completed unit submits its paths as one
// record, written as one line per path followed by a blank line, so records
// of concurrent units never interleave.
package missinglog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("missing-files log closed")

const defaultBuffer = 64

type record struct {
	paths []string
}

// Log is the serialized appender.
type Log struct {
	records chan record
	done    chan struct{}
	closer  io.Closer
	w       *bufio.Writer

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	err       error
}

// Open appends to the log at path, creating it and its directory.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open missing-files log: %w", err)
	}
	return newLog(f, f), nil
}

// New appends to w. Close does not close w.
func New(w io.Writer) *Log {
	return newLog(w, nil)
}

func newLog(w io.Writer, closer io.Closer) *Log {
	l := &Log{
		records: make(chan record, defaultBuffer),
		done:    make(chan struct{}),
		closer:  closer,
		w:       bufio.NewWriter(w),
	}
	go l.run()
	return l
}

func (l *Log) run() {
	defer close(l.done)
	for rec := range l.records {
		if l.err != nil {
			continue
		}
		for _, p := range rec.paths {
			if _, err := l.w.WriteString(p + "\n"); err != nil {
				l.err = err
				break
			}
		}
		if l.err == nil {
			_, l.err = l.w.WriteString("\n")
		}
		if l.err == nil {
			l.err = l.w.Flush()
		}
	}
}

// Record appends the substituted paths of one completed unit and its blank
// marker line.
func (l *Log) Record(ctx context.Context, paths []string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.records <- record{paths: append([]string(nil), paths...)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending records and returns the first write error.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.records)
		l.mu.Unlock()

		<-l.done
		if l.closer != nil {
			if err := l.closer.Close(); err != nil && l.err == nil {
				l.err = err
			}
		}
	})
	return l.err
}
