// Package snapshot persists registry collections in one zstd-compressed
// JSON document, written atomically and backed up on every save.
package snapshot

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"voidstorage.ai/internal/persistence/codec"
)

const Version = 1

//go:embed schema/snapshot.schema.json
var schemaJSON []byte

const schemaURL = "snapshot.schema.json"

type Document struct {
	Version     int                          `json:"version"`
	SavedAt     int64                        `json:"saved_at"`
	Collections map[string][]json.RawMessage `json:"collections"`
}

// Header summarizes a saved or loaded document.
type Header struct {
	Version int            `json:"version"`
	SavedAt int64          `json:"saved_at"`
	Counts  map[string]int `json:"counts"`
	// Skipped counts elements that failed to encode or decode.
	Skipped int   `json:"skipped,omitempty"`
	Bytes   int64 `json:"bytes,omitempty"`
}

type binding interface {
	name() string
	encode(logger *log.Logger) ([]json.RawMessage, int)
	decode(items []json.RawMessage, logger *log.Logger) (loaded, skipped int)
}

type Store struct {
	path   string
	backup string
	logger *log.Logger
	schema *jsonschema.Schema
	now    func() time.Time

	mu       sync.Mutex
	bindings []binding
}

func NewStore(dir, filename string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add snapshot schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	path := filepath.Join(dir, filename)
	return &Store{path: path, backup: path + ".backup", logger: logger, schema: sch, now: time.Now}, nil
}

func (s *Store) Path() string       { return s.path }
func (s *Store) BackupPath() string { return s.backup }

// Bind registers a collection under key. Collections load in bind order.
func Bind[T, D any](s *Store, key string, c codec.Codec[T, D], all func() []T, load func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, &collection[T, D]{key: key, codec: c, all: all, load: load})
}

// Save writes every bound collection to a temp file and renames it over the
// snapshot, keeping the previous snapshot as the backup.
func (s *Store) Save() (Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{Version: Version, SavedAt: s.now().UnixMilli(), Collections: map[string][]json.RawMessage{}}
	h := Header{Version: Version, SavedAt: doc.SavedAt, Counts: map[string]int{}}
	for _, b := range s.bindings {
		items, skipped := b.encode(s.logger)
		doc.Collections[b.name()] = items
		h.Counts[b.name()] = len(items)
		h.Skipped += skipped
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return h, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return h, err
	}
	defer os.Remove(tmp.Name())

	n, err := writeDocument(tmp, doc)
	if err != nil {
		_ = tmp.Close()
		return h, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return h, err
	}
	if err := tmp.Close(); err != nil {
		return h, err
	}
	if err := copyFile(s.path, s.backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return h, fmt.Errorf("backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return h, err
	}
	h.Bytes = n
	return h, nil
}

// Load restores every bound collection. A missing snapshot is not an error.
// A corrupt or invalid one is replaced by the backup when there is one.
func (s *Store) Load() (Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Printf("no snapshot at %s, starting fresh", s.path)
		return Header{Counts: map[string]int{}}, nil
	}
	if err != nil {
		s.logger.Printf("ERROR snapshot %s unreadable (%v), trying backup", s.path, err)
		doc, err = s.read(s.backup)
		if err != nil {
			return Header{}, fmt.Errorf("load snapshot: no usable backup: %w", err)
		}
		if err := copyFile(s.backup, s.path); err != nil {
			s.logger.Printf("WARN restore backup over %s: %v", s.path, err)
		}
		s.logger.Printf("restored snapshot from backup %s", s.backup)
	}

	h := Header{Version: doc.Version, SavedAt: doc.SavedAt, Counts: map[string]int{}}
	for _, b := range s.bindings {
		loaded, skipped := b.decode(doc.Collections[b.name()], s.logger)
		h.Counts[b.name()] = loaded
		h.Skipped += skipped
	}
	return h, nil
}

func (s *Store) read(path string) (Document, error) {
	var doc Document
	f, err := os.Open(path)
	if err != nil {
		return doc, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return doc, err
	}
	defer dec.Close()

	raw, err := io.ReadAll(bufio.NewReaderSize(dec, 256*1024))
	if err != nil {
		return doc, fmt.Errorf("zstd decode: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return doc, fmt.Errorf("json decode: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return doc, fmt.Errorf("schema: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("json decode: %w", err)
	}
	return doc, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeDocument(w io.Writer, doc Document) (int64, error) {
	cw := &countingWriter{w: w}
	enc, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := json.NewEncoder(bw).Encode(doc); err != nil {
		_ = enc.Close()
		return 0, fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

type collection[T, D any] struct {
	key   string
	codec codec.Codec[T, D]
	all   func() []T
	load  func(T)
}

func (c *collection[T, D]) name() string { return c.key }

func (c *collection[T, D]) encode(logger *log.Logger) ([]json.RawMessage, int) {
	out := []json.RawMessage{}
	skipped := 0
	for _, v := range c.all() {
		d, err := c.codec.Encode(v)
		if err == nil {
			var b []byte
			if b, err = json.Marshal(d); err == nil {
				out = append(out, b)
				continue
			}
		}
		skipped++
		logger.Printf("WARN snapshot %s: skip element: %v", c.key, err)
	}
	return out, skipped
}

func (c *collection[T, D]) decode(items []json.RawMessage, logger *log.Logger) (loaded, skipped int) {
	for _, raw := range items {
		var d D
		if err := json.Unmarshal(raw, &d); err != nil {
			skipped++
			logger.Printf("WARN snapshot %s: skip element: %v", c.key, err)
			continue
		}
		v, err := c.codec.Decode(d)
		if err != nil {
			skipped++
			logger.Printf("WARN snapshot %s: skip element: %v", c.key, err)
			continue
		}
		c.load(v)
		loaded++
	}
	return loaded, skipped
}
