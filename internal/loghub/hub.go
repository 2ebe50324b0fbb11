package loghub

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mcprocd/mcprocd/internal/metrics"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Hub owns the per-process capture state: ring buffer, append-only file, and
// live subscribers. The Supervisor owns the ProcessRecord; the Hub is handed
// an opaque key and piped streams, per spec §9's no-back-references model.
type Hub struct {
	mu          sync.RWMutex
	procs       map[procKey]*procState
	ringSize    int
	queueSize   int
	maxLogSizeMB int
}

type procKey struct {
	project string
	name    string
}

type procState struct {
	mu         sync.Mutex
	ring       *ringBuffer
	writer     *fileWriter
	subs       map[Subscription]struct{}
	lineNumber int
	generation int
	path       string
}

// New constructs a Hub. ringSize and queueSize default to spec values when <= 0.
func New(ringSize, queueSize, maxLogSizeMB int) *Hub {
	return &Hub{
		procs:        make(map[procKey]*procState),
		ringSize:     ringSize,
		queueSize:    queueSize,
		maxLogSizeMB: maxLogSizeMB,
	}
}

// Open begins (or resumes, incrementing the generation) capture state for
// (project, name) backed by the file at path. It writes a SYSTEM header line
// recording the command, cwd, and start time (spec §4.1 step 3).
func (h *Hub) Open(project, name, path, header string) {
	k := procKey{project: project, name: name}

	h.mu.Lock()
	ps, exists := h.procs[k]
	if !exists {
		ps = &procState{
			ring: newRingBuffer(h.ringSize),
			subs: make(map[Subscription]struct{}),
			path: path,
		}
		h.procs[k] = ps
	}
	h.mu.Unlock()

	ps.mu.Lock()
	if ps.writer != nil {
		_ = ps.writer.close()
	}
	ps.writer = newFileWriter(path, h.maxLogSizeMB)
	ps.ring.reset()
	ps.lineNumber = 0
	ps.generation++
	ps.mu.Unlock()

	h.appendSystemLine(project, name, header)
}

// CaptureStream reads r line by line (splitting on LF) and appends each line
// to the ring buffer, file, and subscribers until r is exhausted (spec §4.2).
// It must be run in its own goroutine per stream (stdout/stderr) per process.
func (h *Hub) CaptureStream(project, name string, level Level, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.appendLine(project, name, level, scanner.Text())
	}
}

// appendSystemLine writes a synthetic SYSTEM line (header/footer), counted
// in the same line-number sequence as captured output.
func (h *Hub) appendSystemLine(project, name, content string) {
	h.appendLine(project, name, LevelSystem, content)
}

func (h *Hub) appendLine(project, name string, level Level, content string) {
	h.mu.RLock()
	ps := h.procs[procKey{project: project, name: name}]
	h.mu.RUnlock()
	if ps == nil {
		return
	}

	ps.mu.Lock()
	ps.lineNumber++
	entry := Entry{LineNumber: ps.lineNumber, Timestamp: time.Now().UTC(), Level: level, Content: content}
	writer := ps.writer
	ps.mu.Unlock()

	ps.ring.push(entry)
	if writer != nil {
		writer.write(formatLine(entry))
	}

	ps.mu.Lock()
	subs := make([]Subscription, 0, len(ps.subs))
	for s := range ps.subs {
		subs = append(subs, s)
	}
	ps.mu.Unlock()
	for _, s := range subs {
		offer(s, entry)
	}

	metrics.IncLogLines(project, name, string(level), 1)
}

func formatLine(e Entry) []byte {
	return []byte(fmt.Sprintf("%s %s %s\n", e.Timestamp.Format(timestampLayout), e.Level, e.Content))
}

// Tail returns the last n entries from the ring buffer, oldest first.
func (h *Hub) Tail(project, name string, n int) []Entry {
	h.mu.RLock()
	ps := h.procs[procKey{project: project, name: name}]
	h.mu.RUnlock()
	if ps == nil {
		return nil
	}
	return ps.ring.last(n)
}

// Subscribe registers a live subscription for (project, name).
func (h *Hub) Subscribe(project, name string) Subscription {
	k := procKey{project: project, name: name}
	h.mu.Lock()
	ps, exists := h.procs[k]
	if !exists {
		ps = &procState{ring: newRingBuffer(h.ringSize), subs: make(map[Subscription]struct{})}
		h.procs[k] = ps
	}
	h.mu.Unlock()

	sub := newSubscription(h.queueSize)
	ps.mu.Lock()
	ps.subs[sub] = struct{}{}
	ps.mu.Unlock()
	return sub
}

// Unsubscribe releases sub, which must have come from Subscribe for the same key.
func (h *Hub) Unsubscribe(project, name string, sub Subscription) {
	h.mu.RLock()
	ps := h.procs[procKey{project: project, name: name}]
	h.mu.RUnlock()
	if ps == nil {
		return
	}
	ps.mu.Lock()
	delete(ps.subs, sub)
	ps.mu.Unlock()
}

// SubscriberCount reports how many live subscriptions are open for
// (project, name). Used to verify that a disconnected streaming client's
// subscriber slot is actually released (spec §6: "must release the
// corresponding subscriber slot within bounded time").
func (h *Hub) SubscriberCount(project, name string) int {
	h.mu.RLock()
	ps := h.procs[procKey{project: project, name: name}]
	h.mu.RUnlock()
	if ps == nil {
		return 0
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.subs)
}

// LogFilePath returns the on-disk path for (project, name), if known.
func (h *Hub) LogFilePath(project, name string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ps, ok := h.procs[procKey{project: project, name: name}]
	if !ok {
		return "", false
	}
	return ps.path, true
}

// Close flushes and closes the file handle for (project, name) without
// forgetting its ring buffer (used on Stop; state stays queryable until Clean).
func (h *Hub) Close(project, name string) error {
	h.mu.RLock()
	ps := h.procs[procKey{project: project, name: name}]
	h.mu.RUnlock()
	if ps == nil {
		return nil
	}
	ps.mu.Lock()
	w := ps.writer
	ps.writer = nil
	ps.mu.Unlock()
	if w != nil {
		return w.close()
	}
	return nil
}

// Remove evicts all in-memory state for (project, name), used by Clean. The
// on-disk file is a separate concern (deleted by the Supervisor after this call).
func (h *Hub) Remove(project, name string) {
	k := procKey{project: project, name: name}
	h.mu.Lock()
	ps := h.procs[k]
	delete(h.procs, k)
	h.mu.Unlock()
	if ps == nil {
		return
	}
	ps.mu.Lock()
	w := ps.writer
	for s := range ps.subs {
		close(s)
	}
	ps.subs = nil
	ps.mu.Unlock()
	if w != nil {
		_ = w.close()
	}
}
