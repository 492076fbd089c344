// Package indexdb keeps a queryable SQLite ledger of build progress,
// station lifecycle and block audits. It is secondary to snapshots: writes
// are queued and dropped when the writer falls behind, except that the
// latest cursor per builder is always kept in memory.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"settlecraft.ai/internal/persistence/snapshot"
	"settlecraft.ai/internal/sim/geom"
)

type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	cursorMu sync.Mutex
	cursors  map[cursorKey]int

	dropProgress atomic.Uint64
	dropStation  atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErrors  atomic.Uint64
}

type cursorKey struct {
	agent   string
	station geom.Vec3i
}

type reqKind int

const (
	reqProgress reqKind = iota + 1
	reqStation
	reqAudit
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	progress progressRow
	station  stationRow
	audit    auditRow
	snapshot snapshotRow
	done     chan struct{}
}

type progressRow struct {
	AgentID string
	Station geom.Vec3i
	Cursor  int
	Total   int
	Tick    uint64
}

type stationRow struct {
	Dimension string
	Pos       geom.Vec3i
	AgentID   string
	Blueprint string
	Built     bool
	Tick      uint64
}

type auditRow struct {
	Tick   uint64
	Actor  string
	Pos    geom.Vec3i
	From   string
	To     string
	Reason string
}

type snapshotRow struct {
	Tick          uint64
	Path          string
	Dimension     string
	Stations      int
	Agents        int
	CatalogDigest string
}

// Stats reports queue pressure; drops mean the ledger is incomplete.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropProgressTotal uint64
	DropStationTotal  uint64
	DropAuditTotal    uint64
	DropSnapshotTotal uint64
	WriteErrorTotal   uint64
}

type Options struct {
	QueueSize     int
	CommitEvery   int
	CommitMaxWait time.Duration
	Logger        *zap.Logger
}

func OpenSQLite(path string, opts Options) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 65536
	}
	if opts.CommitEvery <= 0 {
		opts.CommitEvery = 2000
	}
	if opts.CommitMaxWait <= 0 {
		opts.CommitMaxWait = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
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
		db:      db,
		log:     opts.Logger,
		ch:      make(chan req, opts.QueueSize),
		cursors: map[cursorKey]int{},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(opts.CommitEvery, opts.CommitMaxWait)
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS progress (
			agent_id TEXT NOT NULL,
			sx INTEGER NOT NULL,
			sy INTEGER NOT NULL,
			sz INTEGER NOT NULL,
			cursor INTEGER NOT NULL,
			total INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			PRIMARY KEY (agent_id, sx, sy, sz)
		);`,
		`CREATE TABLE IF NOT EXISTS stations (
			dimension TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			blueprint TEXT NOT NULL,
			built INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			PRIMARY KEY (dimension, x, y, z)
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_block TEXT NOT NULL,
			to_block TEXT NOT NULL,
			reason TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos_tick ON audits(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			dimension TEXT NOT NULL,
			stations INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
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

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// RecordProgress implements executor.ProgressSink.
func (s *SQLiteIndex) RecordProgress(agentID string, station geom.Vec3i, cursor, total int, tick uint64) {
	if s == nil {
		return
	}
	s.cursorMu.Lock()
	s.cursors[cursorKey{agentID, station}] = cursor
	s.cursorMu.Unlock()
	s.enqueue(req{kind: reqProgress, progress: progressRow{agentID, station, cursor, total, tick}}, &s.dropProgress)
}

// RecordStation implements settlement.StationLedger.
func (s *SQLiteIndex) RecordStation(dim string, pos geom.Vec3i, agentID, blueprint string, built bool, tick uint64) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqStation, station: stationRow{dim, pos, agentID, blueprint, built, tick}}, &s.dropStation)
}

// AuditSetBlock implements executor.Auditor.
func (s *SQLiteIndex) AuditSetBlock(tick uint64, actor string, pos geom.Vec3i, from, to, reason string) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqAudit, audit: auditRow{tick, actor, pos, from, to, reason}}, &s.dropAudit)
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:          h.Tick,
		Path:          path,
		Dimension:     h.Dimension,
		Stations:      h.Stations,
		Agents:        h.Agents,
		CatalogDigest: h.CatalogDigest,
	}}, &s.dropSnapshot)
}

// Flush blocks until every request queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SavedCursor implements reconcile.CursorSource. Cursors recorded in this
// process win over the database, which may lag behind the queue.
func (s *SQLiteIndex) SavedCursor(agentID string, station geom.Vec3i) (int, bool) {
	if s == nil {
		return 0, false
	}
	s.cursorMu.Lock()
	c, ok := s.cursors[cursorKey{agentID, station}]
	s.cursorMu.Unlock()
	if ok {
		return c, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM progress WHERE agent_id=? AND sx=? AND sy=? AND sz=?`,
		agentID, station.X, station.Y, station.Z,
	).Scan(&c)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("saved cursor lookup", zap.String("agent", agentID), zap.Error(err))
		}
		return 0, false
	}
	return c, true
}

// UpsertCatalogs stores the digests of the loaded catalog files.
func (s *SQLiteIndex) UpsertCatalogs(digests map[string]string) error {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(digests))
	for n := range digests {
		names = append(names, n)
	}
	sort.Strings(names)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,updated_at) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, n := range names {
		if _, err := stmt.Exec(n, digests[n], now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropProgressTotal: s.dropProgress.Load(),
		DropStationTotal:  s.dropStation.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) loop(commitEvery int, commitMaxWait time.Duration) {
	ctx := context.Background()

	var (
		tx       *sql.Tx
		opCount  int
		lastTick uint64
		auditSeq int
	)
	begin := func() bool {
		if tx != nil {
			return true
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			s.log.Warn("index begin", zap.Error(err))
			return false
		}
		tx, opCount = txx, 0
		return true
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
			s.log.Warn("index commit", zap.Error(err))
		}
		tx, opCount = nil, 0
	}
	exec := func(query string, args ...any) {
		if _, err := tx.Exec(query, args...); err != nil {
			s.writeErrors.Add(1)
			s.log.Warn("index write", zap.Error(err))
			return
		}
		opCount++
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-ticker.C:
			commit()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		if !begin() {
			continue
		}
		switch r.kind {
		case reqProgress:
			p := r.progress
			exec(`INSERT OR REPLACE INTO progress(agent_id,sx,sy,sz,cursor,total,tick) VALUES(?,?,?,?,?,?,?)`,
				p.AgentID, p.Station.X, p.Station.Y, p.Station.Z, p.Cursor, p.Total, int64(p.Tick))
		case reqStation:
			st := r.station
			exec(`INSERT OR REPLACE INTO stations(dimension,x,y,z,agent_id,blueprint,built,tick) VALUES(?,?,?,?,?,?,?,?)`,
				st.Dimension, st.Pos.X, st.Pos.Y, st.Pos.Z, st.AgentID, st.Blueprint, st.Built, int64(st.Tick))
		case reqAudit:
			a := r.audit
			if a.Tick != lastTick {
				lastTick, auditSeq = a.Tick, 0
			}
			exec(`INSERT OR REPLACE INTO audits(tick,seq,actor,x,y,z,from_block,to_block,reason) VALUES(?,?,?,?,?,?,?,?,?)`,
				int64(a.Tick), auditSeq, a.Actor, a.Pos.X, a.Pos.Y, a.Pos.Z, a.From, a.To, a.Reason)
			auditSeq++
		case reqSnapshot:
			sn := r.snapshot
			exec(`INSERT OR REPLACE INTO snapshots(tick,path,dimension,stations,agents,catalog_digest) VALUES(?,?,?,?,?,?)`,
				int64(sn.Tick), sn.Path, sn.Dimension, sn.Stations, sn.Agents, sn.CatalogDigest)
		}
		if opCount >= commitEvery {
			commit()
		}
	}
}
