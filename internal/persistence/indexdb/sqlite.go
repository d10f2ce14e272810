// Package indexdb keeps a queryable SQLite history of snapshots and
// dispatch metrics. The snapshot file stays the source of truth; rows are
// dropped rather than stalling callers when the writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voidstorage.ai/internal/persistence/snapshot"
	"voidstorage.ai/internal/sim/interceptor"
)

const defaultQueue = 4096

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSnapshot atomic.Uint64
	dropMetrics  atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqSnapshot reqKind = iota + 1
	reqMetrics
)

type req struct {
	kind     reqKind
	snapshot SnapshotRow
	metrics  []metricsRow
}

type SnapshotRow struct {
	SavedAt int64          `json:"saved_at"`
	Path    string         `json:"path"`
	Bytes   int64          `json:"bytes"`
	Skipped int            `json:"skipped"`
	Counts  map[string]int `json:"counts"`
}

type metricsRow struct {
	At        int64
	Operation string
	M         interceptor.OperationMetrics
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropMetricsTotal  uint64 `json:"drop_metrics_total"`
	WriteErrorTotal   uint64 `json:"write_error_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer plus one reader; WAL lets them run side by side.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, defaultQueue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			saved_at INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			counts_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS dispatch_metrics (
			at INTEGER NOT NULL,
			operation TEXT NOT NULL,
			count INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			min_latency_ns INTEGER NOT NULL,
			max_latency_ns INTEGER NOT NULL,
			total_latency_ns INTEGER NOT NULL,
			PRIMARY KEY (at, operation)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_metrics_op_at ON dispatch_metrics(operation, at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropMetricsTotal:  s.dropMetrics.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

// RecordSnapshot queues a row describing a saved snapshot.
func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	if s == nil || s.closed.Load() {
		return
	}
	r := SnapshotRow{SavedAt: h.SavedAt, Path: path, Bytes: h.Bytes, Skipped: h.Skipped, Counts: h.Counts}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// RecordMetrics queues one row per operation, all stamped with at.
func (s *SQLiteIndex) RecordMetrics(at time.Time, metrics map[string]interceptor.OperationMetrics) {
	if s == nil || s.closed.Load() || len(metrics) == 0 {
		return
	}
	ops := make([]string, 0, len(metrics))
	for op := range metrics {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	rows := make([]metricsRow, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, metricsRow{At: at.UnixMilli(), Operation: op, M: metrics[op]})
	}
	select {
	case s.ch <- req{kind: reqMetrics, metrics: rows}:
	default:
		s.dropMetrics.Add(1)
	}
}

// LatestSnapshot returns the most recent committed snapshot row.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	var (
		r      SnapshotRow
		counts string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT saved_at, path, bytes, skipped, counts_json FROM snapshots ORDER BY saved_at DESC LIMIT 1`,
	).Scan(&r.SavedAt, &r.Path, &r.Bytes, &r.Skipped, &counts)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, err
	}
	if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
		return SnapshotRow{}, false, fmt.Errorf("snapshot counts: %w", err)
	}
	return r, true, nil
}

// MetricsHistory lists recorded samples for one operation, oldest first.
func (s *SQLiteIndex) MetricsHistory(ctx context.Context, operation string, limit int) ([]interceptor.OperationMetrics, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT count, errors, min_latency_ns, max_latency_ns, total_latency_ns
		 FROM dispatch_metrics WHERE operation = ? ORDER BY at ASC LIMIT ?`, operation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []interceptor.OperationMetrics
	for rows.Next() {
		var m interceptor.OperationMetrics
		var minL, maxL, totL int64
		if err := rows.Scan(&m.Count, &m.Errors, &minL, &maxL, &totL); err != nil {
			return nil, err
		}
		m.MinLatency, m.MaxLatency, m.TotalLatency = time.Duration(minL), time.Duration(maxL), time.Duration(totL)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(saved_at,path,bytes,skipped,counts_json) VALUES(?,?,?,?,?)`)
	insertMetrics, _ := s.db.Prepare(`INSERT OR REPLACE INTO dispatch_metrics(at,operation,count,errors,min_latency_ns,max_latency_ns,total_latency_ns) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
		if insertMetrics != nil {
			_ = insertMetrics.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSnapshot:
			if insertSnapshot == nil {
				break
			}
			sn := r.snapshot
			counts, _ := json.Marshal(sn.Counts)
			if _, err := tx.Stmt(insertSnapshot).Exec(sn.SavedAt, sn.Path, sn.Bytes, sn.Skipped, string(counts)); err != nil {
				rollback()
				continue
			}
			opCount++
			// Snapshots are rare and readers want them promptly.
			commit()
			continue

		case reqMetrics:
			if insertMetrics == nil {
				break
			}
			for _, m := range r.metrics {
				if _, err := tx.Stmt(insertMetrics).Exec(
					m.At,
					m.Operation,
					m.M.Count,
					m.M.Errors,
					int64(m.M.MinLatency),
					int64(m.M.MaxLatency),
					int64(m.M.TotalLatency),
				); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
