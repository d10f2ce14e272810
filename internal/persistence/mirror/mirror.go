package mirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
)

// Config is read from the environment. Mirroring is off unless the
// endpoint and bucket are both set.
type Config struct {
	Endpoint  string `env:"VOIDSTORAGE_MIRROR_ENDPOINT"`
	Bucket    string `env:"VOIDSTORAGE_MIRROR_BUCKET"`
	AccessKey string `env:"VOIDSTORAGE_MIRROR_ACCESS_KEY_ID"`
	SecretKey string `env:"VOIDSTORAGE_MIRROR_SECRET_ACCESS_KEY"`
	Prefix    string `env:"VOIDSTORAGE_MIRROR_PREFIX" envDefault:"voidstorage"`
	Queue     int    `env:"VOIDSTORAGE_MIRROR_QUEUE" envDefault:"16"`
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("mirror env: %w", err)
	}
	return cfg, nil
}

func (c Config) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	UploadedTotal uint64
	FailedTotal   uint64
	DroppedTotal  uint64
	LastSuccess   int64 // unix seconds
}

// Mirror uploads each saved snapshot under a timestamped key. Snapshots are
// first copied to a staging file, so a later save renaming over the live
// file cannot race the upload.
type Mirror struct {
	client  *Client
	prefix  string
	staging string
	logger  *log.Logger

	jobs chan job
	wg   sync.WaitGroup
	once sync.Once

	uploaded    atomic.Uint64
	failed      atomic.Uint64
	dropped     atomic.Uint64
	lastSuccess atomic.Int64

	retryBase time.Duration
}

type job struct {
	staged string
	key    string
	size   int64
}

// New returns nil when cfg is not enabled; a nil Mirror ignores every call.
func New(cfg Config, stagingDir string, logger *log.Logger) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client, err := NewClient(cfg.Endpoint, cfg.Bucket, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	return newMirror(client, cfg.Prefix, cfg.Queue, stagingDir, logger)
}

func newMirror(client *Client, prefix string, queue int, stagingDir string, logger *log.Logger) (*Mirror, error) {
	if queue <= 0 {
		queue = 16
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, err
	}
	m := &Mirror{
		client:    client,
		prefix:    strings.Trim(prefix, "/"),
		staging:   stagingDir,
		logger:    logger,
		jobs:      make(chan job, queue),
		retryBase: 200 * time.Millisecond,
	}
	m.wg.Add(1)
	go m.loop()
	return m, nil
}

// Snapshot stages a copy of the snapshot at localPath and queues it. A full
// queue drops the copy: the next autosave supersedes it anyway.
func (m *Mirror) Snapshot(localPath, world string, savedAt time.Time) {
	if m == nil {
		return
	}
	name := fmt.Sprintf("%s-%s", savedAt.UTC().Format("20060102T150405.000Z"), filepath.Base(localPath))
	staged := filepath.Join(m.staging, name)
	size, err := copyFile(localPath, staged)
	if err != nil {
		m.failed.Add(1)
		m.logger.Printf("WARN mirror stage %s: %v", localPath, err)
		return
	}
	j := job{staged: staged, key: path.Join(m.prefix, world, name), size: size}
	select {
	case m.jobs <- j:
	default:
		_ = os.Remove(staged)
		n := m.dropped.Add(1)
		m.logger.Printf("WARN mirror drop %s reason=queue_full dropped_total=%d", j.key, n)
	}
}

// Close uploads what is queued and stops the worker.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		UploadedTotal: m.uploaded.Load(),
		FailedTotal:   m.failed.Load(),
		DroppedTotal:  m.dropped.Load(),
		LastSuccess:   m.lastSuccess.Load(),
	}
}

func (m *Mirror) loop() {
	defer m.wg.Done()
	for j := range m.jobs {
		m.upload(j)
	}
}

func (m *Mirror) upload(j job) {
	defer os.Remove(j.staged)
	const attempts = 4
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.client.Put(ctx, j.key, j.staged)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().Unix())
			m.logger.Printf("mirror uploaded %s (%s)", j.key, humanize.Bytes(uint64(j.size)))
			return
		}
		if i < attempts {
			time.Sleep(time.Duration(i*i) * m.retryBase)
		}
	}
	m.failed.Add(1)
	m.logger.Printf("ERROR mirror upload %s: %v", j.key, err)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
	}
	return n, err
}
