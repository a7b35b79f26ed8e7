package model

import (
	"container/list"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/denisenkom/go-mssqldb" // sqlserver driver
	_ "github.com/go-sql-driver/mysql"   // mysql driver
	_ "github.com/lib/pq"                // postgres driver
	_ "modernc.org/sqlite"               // pure-Go sqlite driver (default)

	"sentra-fuzz/internal/ferrors"
)

// lruCapacity bounds the (function_id, block_number) -> block element
// id cache, per spec section 4.2.
const lruCapacity = 15000

// Store is the model store of spec sections 3 and 4.2: append-only
// writes from the rewriter, append-only reads from the fuzzer, with a
// bounded LRU in front of the block-number lookup. Backed by
// database/sql the way internal/database/db_manager.go picks a driver
// from a DSN scheme.
type Store struct {
	db     *sql.DB
	nextID uint64 // atomic

	mu    sync.RWMutex
	paths map[string]ID // path -> source id, for add_source idempotence

	cacheMu sync.Mutex
	cache   map[cacheKey]*list.Element
	order   *list.List

	blind bool
}

type cacheKey struct {
	functionID   ID
	blockNumber  uint32
}

type cacheEntry struct {
	key cacheKey
	val ID
}

// Open connects to the model store named by dsn, which is either a
// bare sqlite file path or a "scheme://..." DSN selecting postgres,
// mysql, or sqlserver -- mirroring db_manager.go's Connect(id, dbType,
// dsn) driver-name mapping.
func Open(dsn string) (*Store, error) {
	driver, dataSource, err := resolveDriver(dsn)
	if err != nil {
		return nil, ferrors.New(ferrors.Init, "model", dsn, "resolve driver", err)
	}

	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, ferrors.New(ferrors.Init, "model", dsn, "open store", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ferrors.New(ferrors.Init, "model", dsn, "ping store", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &Store{
		db:    db,
		paths: make(map[string]ID),
		cache: make(map[cacheKey]*list.Element),
		order: list.New(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, ferrors.New(ferrors.Init, "model", dsn, "migrate schema", err)
	}
	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, ferrors.New(ferrors.Init, "model", dsn, "load source index", err)
	}
	return s, nil
}

// OpenBlind returns a Store with no backing database, for runs that
// exercise the evolutionary loop without a compiled, instrumented
// target and its static-analysis model -- mirroring
// ProgramKnowledge(const bool blind) from fuzzer/knowledge.h. Every
// read resolves to a synthesized id or a mocked goal weight instead of
// a real lookup; writes (AddFunction/AddBlock/AddSummary) are not
// meaningful against a blind store and are never called in this mode.
func OpenBlind() *Store {
	return &Store{blind: true}
}

// Blind reports whether s is a mocked, database-free store.
func (s *Store) Blind() bool {
	return s.blind
}

func resolveDriver(dsn string) (driver, dataSource string, err error) {
	if !strings.Contains(dsn, "://") {
		return "sqlite", dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "sqlite":
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case "postgres", "postgresql":
		return "postgres", dsn, nil
	case "mysql":
		return "mysql", strings.TrimPrefix(dsn, "mysql://"), nil
	case "sqlserver":
		return "sqlserver", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported model store scheme: %s", u.Scheme)
	}
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (id INTEGER PRIMARY KEY, path TEXT UNIQUE NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS functions (id INTEGER PRIMARY KEY, parent INTEGER NOT NULL, name TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS blocks (id INTEGER PRIMARY KEY, parent INTEGER NOT NULL, block_number INTEGER NOT NULL, predecessors TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS summaries (id INTEGER PRIMARY KEY, parent INTEGER NOT NULL, operator TEXT NOT NULL, type_kind TEXT NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_lookup ON blocks(parent, block_number)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadIndex() error {
	rows, err := s.db.Query(`SELECT id, path FROM sources`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var maxID uint64
	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var id uint64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return err
		}
		s.paths[path] = ID(id)
		if id > maxID {
			maxID = id
		}
	}
	atomic.StoreUint64(&s.nextID, maxID)
	return rows.Err()
}

// NextID yields a strictly monotonic identifier (spec section 4.2).
func (s *Store) NextID() ID {
	return ID(atomic.AddUint64(&s.nextID, 1))
}

// AddSource is idempotent in path: re-adding an already-registered
// path returns its existing id instead of creating a duplicate.
func (s *Store) AddSource(path string) (ID, error) {
	s.mu.Lock()
	if id, ok := s.paths[path]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	id := s.NextID()
	if _, err := s.db.Exec(`INSERT INTO sources (id, path) VALUES (?, ?)`, uint64(id), path); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.paths[path] = id
	s.mu.Unlock()
	return id, nil
}

// AddFunction inserts or replaces a function element. Replacement is
// logged by the caller, never rejected, per spec section 4.2.
func (s *Store) AddFunction(f Function) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO functions (id, parent, name) VALUES (?, ?, ?)`,
		uint64(f.ID), uint64(f.Parent), f.Name)
	return err
}

// AddBlock inserts or replaces a block element.
func (s *Store) AddBlock(b Block) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO blocks (id, parent, block_number, predecessors) VALUES (?, ?, ?, ?)`,
		uint64(b.ID), uint64(b.Parent), b.InternalBlockNumber, encodeIDs(b.PredecessorBlockElementIDs))
	if err != nil {
		return err
	}
	s.cachePut(cacheKey{b.Parent, b.InternalBlockNumber}, b.ID)
	return nil
}

// AddSummary inserts or replaces a goal summary.
func (s *Store) AddSummary(sm Summary) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO summaries (id, parent, operator, type_kind) VALUES (?, ?, ?, ?)`,
		uint64(sm.ID), uint64(sm.Parent), string(sm.OperatorKind), string(sm.TypeKind))
	return err
}

// GetBlockElement resolves (function_id, cfg_block_number) -> block
// element id, amortized O(log n) via the SQL index, O(1) on cache hit
// (spec section 4.2). In blind mode it synthesizes the id from
// (function_id, block_number) via Szudzik's pairing function instead
// of querying a store that doesn't exist -- matching
// knowledge.cpp's get_block_element blind branch, "don't cache
// anything" comment included (the mapping is already O(1) and
// stateless, so there is nothing an LRU would buy here).
func (s *Store) GetBlockElement(functionID ID, blockNumber uint32) (ID, error) {
	if s.blind {
		return szudzikPair(uint64(functionID), uint64(blockNumber)), nil
	}

	key := cacheKey{functionID, blockNumber}
	if v, ok := s.cacheGet(key); ok {
		return v, nil
	}

	row := s.db.QueryRow(`SELECT id FROM blocks WHERE parent = ? AND block_number = ?`,
		uint64(functionID), blockNumber)
	var id uint64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, ferrors.New(ferrors.MalformedModelRef, "model", fmt.Sprintf("func=%d block=%d", functionID, blockNumber), "no block element for reference", nil)
		}
		return 0, err
	}
	s.cachePut(key, ID(id))
	return ID(id), nil
}

// GetBlock loads a block's full record, used by the scoreboard to walk
// its summary ids.
func (s *Store) GetBlock(id ID) (Block, error) {
	row := s.db.QueryRow(`SELECT id, parent, block_number, predecessors FROM blocks WHERE id = ?`, uint64(id))
	var b Block
	var rawID, parent uint64
	var preds string
	if err := row.Scan(&rawID, &parent, &b.InternalBlockNumber, &preds); err != nil {
		if err == sql.ErrNoRows {
			return Block{}, ferrors.New(ferrors.MalformedModelRef, "model", fmt.Sprintf("block=%d", id), "no element for block id", nil)
		}
		return Block{}, err
	}
	b.ID = ID(rawID)
	b.Parent = ID(parent)
	b.PredecessorBlockElementIDs = decodeIDs(preds)

	rows, err := s.db.Query(`SELECT id, operator, type_kind FROM summaries WHERE parent = ?`, uint64(id))
	if err != nil {
		return Block{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var sid uint64
		var op, tk string
		if err := rows.Scan(&sid, &op, &tk); err != nil {
			return Block{}, err
		}
		b.SummaryIDs = append(b.SummaryIDs, ID(sid))
	}
	return b, rows.Err()
}

// GetSummary loads a single summary record.
func (s *Store) GetSummary(id ID) (Summary, error) {
	row := s.db.QueryRow(`SELECT id, parent, operator, type_kind FROM summaries WHERE id = ?`, uint64(id))
	var sm Summary
	var rawID, parent uint64
	var op, tk string
	if err := row.Scan(&rawID, &parent, &op, &tk); err != nil {
		if err == sql.ErrNoRows {
			return Summary{}, ferrors.New(ferrors.MalformedModelRef, "model", fmt.Sprintf("summary=%d", id), "no element for summary id", nil)
		}
		return Summary{}, err
	}
	sm.ID, sm.Parent = ID(rawID), ID(parent)
	sm.OperatorKind, sm.TypeKind = OperatorKind(op), TypeKind(tk)
	return sm, nil
}

// Close releases the underlying database handle, a no-op for a blind
// store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// szudzikPair is Szudzik's elegant pairing function, used verbatim
// from knowledge.cpp's blind get_block_element: it maps two
// non-negative integers to a single one, injectively, without
// overflow for the small ids a mocked run produces.
func szudzikPair(a, b uint64) ID {
	if a >= b {
		return ID(a*a + a + b)
	}
	return ID(a + b*b)
}

func (s *Store) cacheGet(key cacheKey) (ID, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	el, ok := s.cache[key]
	if !ok {
		return 0, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*cacheEntry).val, true
}

func (s *Store) cachePut(key cacheKey, val ID) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if el, ok := s.cache[key]; ok {
		el.Value.(*cacheEntry).val = val
		s.order.MoveToFront(el)
		return
	}
	el := s.order.PushFront(&cacheEntry{key: key, val: val})
	s.cache[key] = el
	if s.order.Len() > lruCapacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

func encodeIDs(ids []ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

func decodeIDs(s string) []ID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]ID, 0, len(parts))
	for _, p := range parts {
		var v uint64
		fmt.Sscanf(p, "%d", &v)
		ids = append(ids, ID(v))
	}
	return ids
}
