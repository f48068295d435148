package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-recognizer/internal/config"
	_ "modernc.org/sqlite"
)

// RecognizerRecord describes one recognizer instance.
type RecognizerRecord struct {
	ID        string
	HMM       string
	LM        string
	Dict      string
	Engine    string
	CreatedAt time.Time
}

// Pass is the recorded outcome of one recognition pass. ErrorKind is empty
// for successful passes.
type Pass struct {
	ID           int64
	RecognizerID string
	PassID       string
	Text         string
	Confidence   float64
	ErrorKind    string
	ErrorMessage string
	Duration     time.Duration
	CreatedAt    time.Time
}

// Store keeps recognition history in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral retention keeps
// nothing and opens no database.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

// Times are stored as unix nanoseconds.
func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS recognizers (
    recognizer_id TEXT PRIMARY KEY,
    hmm TEXT,
    lm TEXT,
    dict TEXT,
    engine TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS passes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recognizer_id TEXT NOT NULL,
    pass_id TEXT,
    text TEXT,
    confidence REAL,
    error_kind TEXT,
    error_message TEXT,
    duration_ms INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(recognizer_id) REFERENCES recognizers(recognizer_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_passes_recognizer_created ON passes(recognizer_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRecognizer ensures a recognizer row exists.
func (s *Store) AppendRecognizer(ctx context.Context, rec RecognizerRecord) error {
	if !s.enabled() {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recognizers(recognizer_id, hmm, lm, dict, engine, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(recognizer_id) DO UPDATE SET hmm=excluded.hmm, lm=excluded.lm, dict=excluded.dict, engine=excluded.engine`,
		rec.ID, rec.HMM, rec.LM, rec.Dict, rec.Engine, rec.CreatedAt.UnixNano())
	return err
}

// AppendPass records a pass outcome.
func (s *Store) AppendPass(ctx context.Context, p Pass) error {
	if !s.enabled() {
		return nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO passes(recognizer_id, pass_id, text, confidence, error_kind, error_message, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RecognizerID, p.PassID, p.Text, p.Confidence, p.ErrorKind, p.ErrorMessage,
		p.Duration.Milliseconds(), p.CreatedAt.UnixNano())
	return err
}

// ListPasses retrieves up to limit passes for a recognizer, newest first.
func (s *Store) ListPasses(ctx context.Context, recognizerID string, limit int) ([]Pass, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recognizer_id, pass_id, text, confidence, error_kind, error_message, duration_ms, created_at
		 FROM passes WHERE recognizer_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, recognizerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		var (
			p          Pass
			durationMS int64
			created    int64
		)
		if err := rows.Scan(&p.ID, &p.RecognizerID, &p.PassID, &p.Text, &p.Confidence,
			&p.ErrorKind, &p.ErrorMessage, &durationMS, &created); err != nil {
			return nil, err
		}
		p.Duration = time.Duration(durationMS) * time.Millisecond
		p.CreatedAt = time.Unix(0, created).UTC()
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM passes WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM recognizers WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM recognizers WHERE recognizer_id IN (
			SELECT recognizer_id FROM recognizers ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
