package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	apperrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
)

// SQLiteConfig holds sqlite backend configuration.
type SQLiteConfig struct {
	// Path to the database file, or ":memory:" for tests.
	Path string
	// PurgeInterval is how often expired items are removed.
	PurgeInterval time.Duration
}

// DefaultSQLiteConfig returns production defaults rooted at dataDir.
func DefaultSQLiteConfig(dataDir string) SQLiteConfig {
	return SQLiteConfig{
		Path:          filepath.Join(dataDir, "pulseshrine.db"),
		PurgeInterval: time.Minute,
	}
}

// SQLite implements Store on a single-writer sqlite database. All tables
// share two physical relations: kv_items for bodies and kv_index for
// secondary-index rows, maintained in the same transaction as every write.
type SQLite struct {
	db  *sql.DB
	cfg SQLiteConfig

	mu     sync.Mutex // serializes writers
	tables map[string]TableSpec

	hub *streamHub

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	nowFn func() time.Time
}

// NewSQLite opens (or creates) the database and starts the TTL purge worker.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite handles concurrent access poorly; serialize through one conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{
		db:     db,
		cfg:    cfg,
		tables: make(map[string]TableSpec),
		hub:    newStreamHub(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		nowFn:  time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.PurgeInterval > 0 {
		go s.purgeWorker()
	} else {
		close(s.doneCh)
	}

	log.Info().Str("path", cfg.Path).Msg("Store initialized")
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_items (
		tbl        TEXT NOT NULL,
		part       TEXT NOT NULL,
		sort       TEXT NOT NULL DEFAULT '',
		body       BLOB NOT NULL,
		expires_at INTEGER,
		PRIMARY KEY (tbl, part, sort)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_items_expires
		ON kv_items(expires_at) WHERE expires_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS kv_index (
		tbl       TEXT NOT NULL,
		idx       TEXT NOT NULL,
		part      TEXT NOT NULL,
		sort      TEXT NOT NULL,
		item_part TEXT NOT NULL,
		item_sort TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tbl, idx, part, sort, item_part, item_sort)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_index_item
		ON kv_index(tbl, item_part, item_sort);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// RegisterTable declares a logical table. Must be called before use; writes
// to unregistered tables fail.
func (s *SQLite) RegisterTable(spec TableSpec) error {
	if spec.Name == "" {
		return apperrors.Validationf("store.register_table", "table name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[spec.Name] = spec
	return nil
}

func (s *SQLite) spec(table string) (TableSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.tables[table]
	if !ok {
		return TableSpec{}, apperrors.Newf(apperrors.KindFatal, "store.spec", "table %q not registered", table)
	}
	return spec, nil
}

func (s *SQLite) PutIfAbsent(ctx context.Context, table string, key Key, body []byte) error {
	const op = "store.put_if_absent"
	spec, err := s.spec(table)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Transient(op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv_items (tbl, part, sort, body, expires_at) VALUES (?, ?, ?, ?, ?)`,
		table, key.Part, key.Sort, body, extractTTL(spec, body))
	if err != nil {
		return apperrors.Transient(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Transient(op, err)
	}
	if n == 0 {
		return apperrors.New(apperrors.KindAlreadyExists, op, apperrors.ErrAlreadyExists)
	}

	if err := s.reindexLocked(ctx, tx, spec, key, body); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Transient(op, err)
	}

	s.hub.emit(Change{Type: ChangeInsert, Table: table, Key: key, New: body})
	return nil
}

func (s *SQLite) Get(ctx context.Context, table string, key Key) ([]byte, error) {
	const op = "store.get"
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM kv_items WHERE tbl = ? AND part = ? AND sort = ?`,
		table, key.Part, key.Sort).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.KindNotFound, op, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.Transient(op, err)
	}
	return body, nil
}

func (s *SQLite) DeleteReturningOld(ctx context.Context, table string, key Key) ([]byte, error) {
	const op = "store.delete_returning_old"
	if _, err := s.spec(table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Transient(op, err)
	}
	defer tx.Rollback()

	var old []byte
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM kv_items WHERE tbl = ? AND part = ? AND sort = ?`,
		table, key.Part, key.Sort).Scan(&old)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.KindNotFound, op, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.Transient(op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_items WHERE tbl = ? AND part = ? AND sort = ?`,
		table, key.Part, key.Sort); err != nil {
		return nil, apperrors.Transient(op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_index WHERE tbl = ? AND item_part = ? AND item_sort = ?`,
		table, key.Part, key.Sort); err != nil {
		return nil, apperrors.Transient(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Transient(op, err)
	}

	s.hub.emit(Change{Type: ChangeRemove, Table: table, Key: key, Old: old})
	return old, nil
}

func (s *SQLite) AtomicUpdate(ctx context.Context, table string, key Key, fn func(old []byte) ([]byte, error)) ([]byte, error) {
	const op = "store.atomic_update"
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Transient(op, err)
	}
	defer tx.Rollback()

	var old []byte
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM kv_items WHERE tbl = ? AND part = ? AND sort = ?`,
		table, key.Part, key.Sort).Scan(&old)
	if err != nil && err != sql.ErrNoRows {
		return nil, apperrors.Transient(op, err)
	}

	newBody, err := fn(old)
	if err != nil {
		return nil, err
	}
	if newBody == nil {
		return nil, apperrors.Newf(apperrors.KindFatal, op, "update produced nil body for %s/%s", table, key)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_items (tbl, part, sort, body, expires_at) VALUES (?, ?, ?, ?, ?)`,
		table, key.Part, key.Sort, newBody, extractTTL(spec, newBody)); err != nil {
		return nil, apperrors.Transient(op, err)
	}
	if err := s.reindexLocked(ctx, tx, spec, key, newBody); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Transient(op, err)
	}

	changeType := ChangeModify
	if old == nil {
		changeType = ChangeInsert
	}
	s.hub.emit(Change{Type: changeType, Table: table, Key: key, New: newBody, Old: old})
	return newBody, nil
}

func (s *SQLite) QueryIndex(ctx context.Context, table string, q Query) ([][]byte, error) {
	const op = "store.query_index"

	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	var (
		rows *sql.Rows
		err  error
	)
	if q.Index == "" {
		query := `SELECT body FROM kv_items WHERE tbl = ? AND part = ?`
		args := []any{table, q.Partition}
		if q.SortPrefix != "" {
			query += ` AND sort LIKE ? ESCAPE '\'`
			args = append(args, escapeLike(q.SortPrefix)+"%")
		}
		query += ` ORDER BY sort ` + order + ` LIMIT ?`
		args = append(args, limit)
		rows, err = s.db.QueryContext(ctx, query, args...)
	} else {
		query := `SELECT i.body FROM kv_index x
			JOIN kv_items i ON i.tbl = x.tbl AND i.part = x.item_part AND i.sort = x.item_sort
			WHERE x.tbl = ? AND x.idx = ? AND x.part = ?`
		args := []any{table, q.Index, q.Partition}
		if q.SortPrefix != "" {
			query += ` AND x.sort LIKE ? ESCAPE '\'`
			args = append(args, escapeLike(q.SortPrefix)+"%")
		}
		query += ` ORDER BY x.sort ` + order + ` LIMIT ?`
		args = append(args, limit)
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, apperrors.Transient(op, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, apperrors.Transient(op, err)
		}
		out = append(out, body)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient(op, err)
	}
	return out, nil
}

func (s *SQLite) ScanTable(ctx context.Context, table string, limit int) ([][]byte, error) {
	const op = "store.scan_table"
	if _, err := s.spec(table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM kv_items WHERE tbl = ? ORDER BY part, sort LIMIT ?`,
		table, limit)
	if err != nil {
		return nil, apperrors.Transient(op, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, apperrors.Transient(op, err)
		}
		out = append(out, body)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient(op, err)
	}
	return out, nil
}

func (s *SQLite) Subscribe(table string) (<-chan Change, func()) {
	return s.hub.subscribe(table)
}

// Close stops the purge worker and closes the database.
func (s *SQLite) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	return s.db.Close()
}

func (s *SQLite) reindexLocked(ctx context.Context, tx *sql.Tx, spec TableSpec, key Key, body []byte) error {
	const op = "store.reindex"
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_index WHERE tbl = ? AND item_part = ? AND item_sort = ?`,
		spec.Name, key.Part, key.Sort); err != nil {
		return apperrors.Transient(op, err)
	}
	for _, idx := range spec.Indexes {
		part, sort, ok := idx.Extract(body)
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO kv_index (tbl, idx, part, sort, item_part, item_sort) VALUES (?, ?, ?, ?, ?, ?)`,
			spec.Name, idx.Name, part, sort, key.Part, key.Sort); err != nil {
			return apperrors.Transient(op, err)
		}
	}
	return nil
}

func (s *SQLite) purgeWorker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n, err := s.purgeExpired(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to purge expired items")
			} else if n > 0 {
				log.Debug().Int64("count", n).Msg("Purged expired items")
			}
		}
	}
}

// purgeExpired removes items whose TTL has passed. Purge does not notify
// stream subscribers.
func (s *SQLite) purgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM kv_index WHERE (tbl, item_part, item_sort) IN (
			SELECT tbl, part, sort FROM kv_items
			WHERE expires_at IS NOT NULL AND expires_at <= ?
		)`, now); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM kv_items WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func extractTTL(spec TableSpec, body []byte) any {
	if spec.TTLField == "" {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	raw, ok := fields[spec.TTLField]
	if !ok {
		return nil
	}
	var expires int64
	if err := json.Unmarshal(raw, &expires); err != nil || expires <= 0 {
		return nil
	}
	return expires
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
