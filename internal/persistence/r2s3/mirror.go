package r2s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Uploader is satisfied by *Client.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

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

type MirrorOptions struct {
	// Prefix is prepended to every object key.
	Prefix      string
	Workers     int
	QueueSize   int
	EnqueueWait time.Duration
	MaxAttempts int
	// Backoff is multiplied by attempt² between retries.
	Backoff time.Duration
	Logger  *zap.Logger
}

// Mirror uploads files under dataDir in the background, keyed by their
// path relative to dataDir. Enqueue never blocks longer than EnqueueWait.
type Mirror struct {
	up      Uploader
	dataDir string
	opts    MirrorOptions
	log     *zap.Logger

	jobs chan string
	wg   sync.WaitGroup

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	ok          atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

func NewMirror(up Uploader, dataDir string, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")

	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		opts:    opts,
		log:     opts.Logger,
		jobs:    make(chan string, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.uploadOne(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload and reports whether it was
// accepted. A nil Mirror accepts nothing.
func (m *Mirror) Enqueue(localPath string) bool {
	if m == nil {
		return false
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return true
	default:
	}

	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
		return true
	case <-timer.C:
		m.dropped.Add(1)
		m.log.Warn("mirror queue full, dropping", zap.String("path", localPath))
		return false
	}
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
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
		EnqueuedTotal:      m.enqueued.Load(),
		DroppedTotal:       m.dropped.Load(),
		UploadSuccessTotal: m.ok.Load(),
		UploadFailTotal:    m.failed.Load(),
		LastSuccessUnix:    m.lastSuccess.Load(),
		LastErrorUnix:      m.lastError.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.log.Warn("mirror skip", zap.String("path", localPath), zap.Error(err))
		return
	}
	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.failed.Add(1)
		m.lastError.Store(time.Now().Unix())
		m.log.Warn("mirror upload failed", zap.String("key", key), zap.Error(err))
		return
	}
	m.ok.Add(1)
	m.lastSuccess.Store(time.Now().Unix())
	m.log.Debug("mirror uploaded", zap.String("key", key))
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < m.opts.MaxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	return lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if m.opts.Prefix != "" {
		return path.Join(m.opts.Prefix, rel), nil
	}
	return rel, nil
}
