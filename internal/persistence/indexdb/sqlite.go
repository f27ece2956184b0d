// Package indexdb keeps a queryable SQLite index of snapshots and journal
// entries. Writes go through a buffered channel drained by one goroutine;
// the on-disk JSON documents and journal files remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"trainyard.dev/internal/persistence/snapshot"
	"trainyard.dev/internal/sim/engine"
)

const defaultQueue = 65536

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropJournal  atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqJournal reqKind = iota + 1
	reqSnapshot
	reqDeleteSnapshot
)

type req struct {
	kind reqKind

	journal  engine.JournalEntry
	snapshot snapshot.Meta
	id       string
}

// Stats reports the writer queue. Drops happen when the writer falls behind.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropJournalTotal  uint64 `json:"drop_journal_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
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
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, defaultQueue),
	}
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
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			tracks INTEGER NOT NULL,
			configurable INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS journal (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			kind TEXT NOT NULL,
			command TEXT,
			target TEXT,
			detail TEXT,
			err TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_kind_time ON journal(kind, time);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_target_time ON journal(target, time);`,
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
		DropJournalTotal:  s.dropJournal.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// Write queues a journal entry. It never blocks the engine.
func (s *SQLiteIndex) Write(e engine.JournalEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqJournal, journal: e}, &s.dropJournal)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(m snapshot.Meta) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: m}, &s.dropSnapshot)
	return nil
}

func (s *SQLiteIndex) DeleteSnapshot(id string) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqDeleteSnapshot, id: id}, &s.dropSnapshot)
	return nil
}

// ListSnapshots returns the catalog, oldest first.
func (s *SQLiteIndex) ListSnapshots(ctx context.Context) ([]snapshot.Meta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, nodes, tracks, configurable FROM snapshots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []snapshot.Meta
	for rows.Next() {
		var m snapshot.Meta
		var created string
		if err := rows.Scan(&m.ID, &created, &m.Nodes, &m.Tracks, &m.Configurable); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// JournalQuery filters JournalEntries. Empty fields match everything.
type JournalQuery struct {
	Kind   string
	Target string
	Limit  int
}

// JournalEntries returns the newest matching entries, newest first.
func (s *SQLiteIndex) JournalEntries(ctx context.Context, q JournalQuery) ([]engine.JournalEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_json FROM journal
		 WHERE (? = '' OR kind = ?) AND (? = '' OR target = ?)
		 ORDER BY seq DESC LIMIT ?`,
		q.Kind, q.Kind, q.Target, q.Target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.JournalEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e engine.JournalEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertJournal, _ := s.db.Prepare(`INSERT INTO journal(time,kind,command,target,detail,err,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(id,created_at,nodes,tracks,configurable) VALUES(?,?,?,?,?)`)
	deleteSnapshot, _ := s.db.Prepare(`DELETE FROM snapshots WHERE id = ?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertJournal, insertSnapshot, deleteSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
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
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqJournal:
			e := r.journal
			raw, _ := json.Marshal(e)
			exec(insertJournal, e.Time.UTC().Format(time.RFC3339Nano), e.Kind, e.Command, e.Target, e.Detail, e.Err, string(raw))
		case reqSnapshot:
			m := r.snapshot
			exec(insertSnapshot, m.ID, m.CreatedAt.UTC().Format(time.RFC3339Nano), m.Nodes, m.Tracks, m.Configurable)
		case reqDeleteSnapshot:
			exec(deleteSnapshot, r.id)
		}
		// Idle queue: commit now so readers see the rows.
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
