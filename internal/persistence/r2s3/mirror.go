package r2s3

import (
	"context"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trainyard.dev/internal/persistence/snapshot"
)

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

type opKind int

const (
	opPut opKind = iota
	opDelete
)

type job struct {
	op    opKind
	key   string
	local string
}

// Objects is the subset of Client the mirror needs.
type Objects interface {
	PutFile(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
}

// Mirror copies snapshot documents from a snapshot directory to a bucket in
// the background. It implements snapshot.Catalog so a Store can drive it.
// Jobs run in order per worker; with one worker the bucket index is never
// newer than the documents it lists.
type Mirror struct {
	objects Objects
	dir     string
	prefix  string
	logger  *log.Logger

	jobs        chan job
	enqueueWait time.Duration
	backoff     time.Duration
	wg          sync.WaitGroup
	closed      atomic.Bool

	enqueuedTotal      atomic.Uint64
	droppedTotal       atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	lastSuccessUnix    atomic.Int64
	lastErrorUnix      atomic.Int64
}

func NewMirror(objects Objects, dir, prefix string, workers, queueCapacity int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	m := &Mirror{
		objects:     objects,
		dir:         dir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		jobs:        make(chan job, queueCapacity),
		enqueueWait: 25 * time.Millisecond,
		backoff:     200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for j := range m.jobs {
				m.run(j)
			}
		}()
	}
	return m
}

// RecordSnapshot uploads both documents of m.ID, then the index.
func (m *Mirror) RecordSnapshot(meta snapshot.Meta) error {
	m.put(snapshot.TracksFile(meta.ID))
	m.put(snapshot.NodesFile(meta.ID))
	m.put(snapshot.IndexFile)
	return nil
}

// DeleteSnapshot uploads the shrunk index, then deletes the documents.
func (m *Mirror) DeleteSnapshot(id string) error {
	m.put(snapshot.IndexFile)
	m.enqueue(job{op: opDelete, key: m.key(snapshot.NodesFile(id))})
	m.enqueue(job{op: opDelete, key: m.key(snapshot.TracksFile(id))})
	return nil
}

func (m *Mirror) put(name string) {
	m.enqueue(job{op: opPut, key: m.key(name), local: filepath.Join(m.dir, name)})
}

func (m *Mirror) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// enqueue never blocks the snapshot writer for longer than enqueueWait.
func (m *Mirror) enqueue(j job) {
	if m == nil || m.objects == nil || m.closed.Load() {
		return
	}
	m.enqueuedTotal.Add(1)
	select {
	case m.jobs <- j:
		return
	default:
	}
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- j:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("r2 mirror drop key=%s reason=queue_saturated dropped_total=%d", j.key, dropped)
	}
}

// Close waits for queued jobs to finish.
func (m *Mirror) Close() {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		QueueCapacity:      cap(m.jobs),
		EnqueuedTotal:      m.enqueuedTotal.Load(),
		DroppedTotal:       m.droppedTotal.Load(),
		UploadSuccessTotal: m.uploadSuccessTotal.Load(),
		UploadFailTotal:    m.uploadFailTotal.Load(),
		LastSuccessUnix:    m.lastSuccessUnix.Load(),
		LastErrorUnix:      m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) run(j job) {
	if j.op == opPut {
		if _, err := os.Stat(j.local); err != nil {
			// Removed before its upload ran.
			m.printf("r2 mirror skip key=%s err=%v", j.key, err)
			return
		}
	}
	if err := m.withRetry(j); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("r2 mirror failed op=%s key=%s err=%v", j.op, j.key, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
}

func (m *Mirror) withRetry(j job) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		var err error
		if j.op == opPut {
			err = m.objects.PutFile(ctx, j.key, j.local)
		} else {
			err = m.objects.Delete(ctx, j.key)
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

func (o opKind) String() string {
	if o == opDelete {
		return "delete"
	}
	return "put"
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
