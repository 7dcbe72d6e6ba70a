package retry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
)

// Store persists blocked requests in SQLite so they survive process
// restarts. Appends are idempotent per request ID; draining removes records
// in the same transaction that reads them, so each record is replayed at
// most once per recovery.
type Store struct {
	db  *sql.DB
	log *logging.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu sync.Mutex
}

// Open creates or opens the store at the given path. Parent directories are
// created as needed and the schema is applied if missing.
func Open(path string, log *logging.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// WAL keeps appends from the executor and drains from the recovery
	// controller out of each other's way.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS pending_requests (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL UNIQUE,
			reason     TEXT NOT NULL,
			body       BLOB NOT NULL,
			created_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	log.Info("retry store opened", zap.String("path", path))
	return &Store{db: db, log: log, enc: enc, dec: dec}, nil
}

// Append persists one record. Appending an already-present request ID is a
// no-op: a request blocked twice before recovery lands exactly once.
func (s *Store) Append(ctx context.Context, rec Record) error {
	body, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	compressed := s.enc.EncodeAll(body, nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pending_requests (request_id, reason, body, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.RequestID, rec.Reason, compressed, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Debug("record already pending", zap.String("request_id", rec.RequestID))
		return nil
	}

	s.log.Info("request persisted for replay",
		zap.String("request_id", rec.RequestID),
		zap.String("reason", rec.Reason))
	return nil
}

// DrainAll removes and returns every pending record in append order. The
// read and the delete share one transaction, so concurrent drains cannot
// hand the same record to two replayers.
func (s *Store) DrainAll(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning drain: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT body FROM pending_requests ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}

	var records []Record
	for rows.Next() {
		var compressed []byte
		if err := rows.Scan(&compressed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		body, err := s.dec.DecodeAll(compressed, nil)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decompressing record: %w", err)
		}
		var rec Record
		if err := sonic.Unmarshal(body, &rec); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	rows.Close()

	if len(records) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_requests`); err != nil {
		return nil, fmt.Errorf("deleting drained records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing drain: %w", err)
	}

	s.log.Info("drained pending requests", zap.Int("count", len(records)))
	return records, nil
}

// ListIDs returns the pending request IDs in append order, for the
// reconnection handshake.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id FROM pending_requests ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Len reports the number of pending records.
func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Close releases the database and codec resources.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
