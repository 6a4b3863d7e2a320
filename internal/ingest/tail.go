package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is how often a followed file is checked when fsnotify
// delivers no events, for example on network filesystems.
const DefaultPollInterval = 250 * time.Millisecond

// tailer follows one JSON-lines file. It watches the file's directory so a
// rotated file is picked up when it is recreated, and polls the file size to
// catch truncation and missed writes.
type tailer struct {
	path       string
	startAtEnd bool
	poll       time.Duration
	logger     *slog.Logger

	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial []byte
	lineNo  int
}

func newTailer(path string, startAtEnd bool, poll time.Duration, logger *slog.Logger) (*tailer, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &tailer{path: abs, startAtEnd: startAtEnd, poll: poll, logger: logger}, nil
}

// run emits complete lines until ctx is done or emit returns false. A file
// that does not exist yet is waited for.
func (t *tailer) run(ctx context.Context, emit func(lineNo int, line []byte) bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	defer t.close()

	if err := t.open(t.startAtEnd); err != nil {
		t.logger.Warn("tail open failed, waiting for file", "path", t.path, "err", err)
	}
	if !t.drain(emit) {
		return nil
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != t.path {
				continue
			}
			if event.Has(fsnotify.Create) && t.replaced() {
				// Rotation: finish the old file before switching.
				if !t.drain(emit) {
					return nil
				}
				t.reopen()
			}
			// Remove and Rename leave the open handle readable; the
			// replacement arrives as Create.
			if !t.drain(emit) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("tail watcher error", "path", t.path, "err", err)
		case <-ticker.C:
			if !t.drain(emit) {
				return nil
			}
			t.check()
			if !t.drain(emit) {
				return nil
			}
		}
	}
}

func (t *tailer) open(atEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	t.file, t.offset, t.partial = f, 0, nil
	if atEnd {
		pos, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			t.file = nil
			return fmt.Errorf("seek to end: %w", err)
		}
		t.offset = pos
	}
	t.reader = bufio.NewReader(f)
	return nil
}

func (t *tailer) reopen() {
	t.close()
	if err := t.open(false); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("tail reopen failed", "path", t.path, "err", err)
	}
}

func (t *tailer) close() {
	if t.file != nil {
		t.file.Close()
		t.file, t.reader = nil, nil
	}
}

// replaced reports whether the path no longer names the open file.
func (t *tailer) replaced() bool {
	if t.file == nil {
		return true
	}
	info, err := os.Stat(t.path)
	if err != nil {
		return false
	}
	cur, err := t.file.Stat()
	return err == nil && !os.SameFile(cur, info)
}

// check is the polling fallback. It opens a file that has appeared, follows
// a replacement the watcher missed and rewinds after truncation.
func (t *tailer) check() {
	info, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if t.file == nil {
		if err := t.open(false); err != nil {
			t.logger.Warn("tail open failed", "path", t.path, "err", err)
		}
		return
	}
	if t.replaced() {
		t.reopen()
		return
	}
	if info.Size() < t.offset {
		t.logger.Info("followed file truncated, reading from start", "path", t.path)
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			t.reopen()
			return
		}
		t.reader.Reset(t.file)
		t.offset, t.partial = 0, nil
	}
}

// drain emits every complete line available. A trailing partial line is
// kept until its newline arrives.
func (t *tailer) drain(emit func(lineNo int, line []byte) bool) bool {
	if t.reader == nil {
		return true
	}
	for {
		chunk, err := t.reader.ReadBytes('\n')
		t.offset += int64(len(chunk))
		if err == nil {
			t.lineNo++
			line := append(t.partial, chunk...)
			t.partial = nil
			if !emit(t.lineNo, line) {
				return false
			}
			continue
		}
		t.partial = append(t.partial, chunk...)
		if !errors.Is(err, io.EOF) {
			t.logger.Warn("tail read error", "path", t.path, "err", err)
		}
		return true
	}
}
