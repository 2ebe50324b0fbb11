package loghub

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	batchFlushBytes = 8 * 1024
	batchFlushDelay = 50 * time.Millisecond
)

// fileWriter batches formatted lines into ~8 KiB chunks or a 50 ms
// quiescence window, whichever comes first (spec §4.2). It survives
// individual-line encoding errors by substituting a replacement marker.
type fileWriter struct {
	mu      sync.Mutex
	out     io.WriteCloser
	buf     bytes.Buffer
	timer   *time.Timer
	lines   chan []byte
	done    chan struct{}
	closeWG sync.WaitGroup
}

// newFileWriter opens path for append via a lumberjack.Logger so the file is
// rotated once it exceeds maxSizeMB (retention's size-based trigger).
func newFileWriter(path string, maxSizeMB int) *fileWriter {
	out := &lj.Logger{Filename: path, MaxSize: maxSizeMB}
	w := &fileWriter{
		out:   out,
		lines: make(chan []byte, 256),
		done:  make(chan struct{}),
	}
	w.closeWG.Add(1)
	go w.run()
	return w
}

// write enqueues a fully-formatted line (including trailing newline).
func (w *fileWriter) write(line []byte) {
	select {
	case w.lines <- line:
	case <-w.done:
	}
}

func (w *fileWriter) run() {
	defer w.closeWG.Done()
	timer := time.NewTimer(batchFlushDelay)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.flush()
				return
			}
			w.mu.Lock()
			if _, err := w.buf.Write(line); err != nil {
				w.buf.WriteString(fmt.Sprintf("<<replacement: encoding error: %v>>\n", err))
			}
			size := w.buf.Len()
			w.mu.Unlock()
			if size >= batchFlushBytes {
				w.flush()
				if armed && !timer.Stop() {
					<-timer.C
				}
				armed = false
				continue
			}
			if !armed {
				timer.Reset(batchFlushDelay)
				armed = true
			}
		case <-timer.C:
			armed = false
			w.flush()
		case <-w.done:
			// Keep lines that were queued before close.
			for {
				select {
				case line := <-w.lines:
					w.mu.Lock()
					w.buf.Write(line)
					w.mu.Unlock()
					continue
				default:
				}
				break
			}
			w.flush()
			return
		}
	}
}

func (w *fileWriter) flush() {
	w.mu.Lock()
	if w.buf.Len() == 0 {
		w.mu.Unlock()
		return
	}
	b := w.buf.Bytes()
	cp := make([]byte, len(b))
	copy(cp, b)
	w.buf.Reset()
	w.mu.Unlock()
	_, _ = w.out.Write(cp)
}

func (w *fileWriter) close() error {
	close(w.done)
	w.closeWG.Wait()
	return w.out.Close()
}
