package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/echoscribe/echoscribe/internal/session"
	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Session is the durable session record.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	AudioPath      string     `json:"audio_path,omitempty"`
	InterruptionAt *time.Time `json:"interruption_at,omitempty"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "echoscribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			audio_path TEXT NOT NULL DEFAULT '',
			interruption_at TEXT
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			speaker TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			UNIQUE(session_id, sequence),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			key_points TEXT NOT NULL DEFAULT '',
			action_items TEXT NOT NULL DEFAULT '',
			decisions TEXT NOT NULL DEFAULT '',
			degraded INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create summaries table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summary_requests (
			session_id TEXT NOT NULL,
			transcript_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, transcript_hash)
		);
	`); err != nil {
		return fmt.Errorf("create summary_requests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_chunks_session_id ON chunks(session_id, sequence)"); err != nil {
		return fmt.Errorf("create chunks index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(id, userID string, source session.Source, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, user_id, status, source, started_at) VALUES(?, ?, ?, ?, ?)`,
		id,
		userID,
		string(session.StatusPending),
		string(source),
		startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SessionStatus(id string) (session.Status, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", session.ErrUnknownSession, id)
	}
	if err != nil {
		return "", fmt.Errorf("query session %s status: %w", id, err)
	}
	return session.Status(status), nil
}

func (s *SQLiteStore) UpdateStatus(id string, status session.Status) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status for session %s: %w", id, err)
	}
	return requireRow(res, id)
}

// EndSession records the transition into PROCESSING: the ended-at stamp is
// written exactly once, together with the audio artifact reference.
func (s *SQLiteStore) EndSession(id string, endedAt time.Time, audioPath string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = COALESCE(ended_at, ?), audio_path = ? WHERE id = ?`,
		string(session.StatusProcessing),
		endedAt.UTC().Format(time.RFC3339Nano),
		audioPath,
		id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) MarkInterrupted(id string, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET interruption_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark session %s interrupted: %w", id, err)
	}
	return requireRow(res, id)
}

// UpsertChunk writes one chunk keyed by (session_id, sequence); re-delivery
// overwrites in place, never duplicates.
func (s *SQLiteStore) UpsertChunk(sessionID string, c transcribe.Chunk) error {
	return upsertChunk(s.db, sessionID, c)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertChunk(db execer, sessionID string, c transcribe.Chunk) error {
	_, err := db.Exec(
		`INSERT INTO chunks(session_id, sequence, speaker, text, started_at, ended_at, confidence)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, sequence) DO UPDATE SET
			speaker = excluded.speaker,
			text = excluded.text,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			confidence = excluded.confidence`,
		sessionID,
		c.Sequence,
		c.Speaker,
		strings.TrimSpace(c.Text),
		c.StartedAt.UTC().Format(time.RFC3339Nano),
		c.EndedAt.UTC().Format(time.RFC3339Nano),
		c.Confidence,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk %d for session %s: %w", c.Sequence, sessionID, err)
	}
	return nil
}

// FinalizeSession persists a finished session in one transaction: every chunk
// is upserted, the summary (if any) is upserted keyed by session id, and the
// session becomes COMPLETED. All-or-nothing; safe to re-run.
func (s *SQLiteStore) FinalizeSession(sessionID string, chunks []transcribe.Chunk, sum *summary.Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin finalize tx for session %s: %w", sessionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chunks {
		if err := upsertChunk(tx, sessionID, c); err != nil {
			return err
		}
	}

	if sum != nil {
		if _, err := tx.Exec(
			`INSERT INTO summaries(session_id, key_points, action_items, decisions, degraded)
			 VALUES(?, ?, ?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET
				key_points = excluded.key_points,
				action_items = excluded.action_items,
				decisions = excluded.decisions,
				degraded = excluded.degraded`,
			sessionID,
			sum.KeyPoints,
			sum.ActionItems,
			sum.Decisions,
			boolToInt(sum.Degraded),
		); err != nil {
			return fmt.Errorf("upsert summary for session %s: %w", sessionID, err)
		}
	}

	res, err := tx.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, string(session.StatusCompleted), sessionID)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	if err := requireRow(res, sessionID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize tx for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, status, source, started_at, ended_at, audio_path, interruption_at FROM sessions WHERE id = ?`,
		id,
	)
	return scanSession(row)
}

func (s *SQLiteStore) GetSessionsByDate(date string) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, status, source, started_at, ended_at, audio_path, interruption_at
		 FROM sessions
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}

	return sessions, nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM sessions ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetChunks(sessionID string) ([]transcribe.Chunk, error) {
	rows, err := s.db.Query(
		`SELECT sequence, speaker, text, started_at, ended_at, confidence
		 FROM chunks
		 WHERE session_id = ?
		 ORDER BY sequence ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]transcribe.Chunk, 0, 32)
	for rows.Next() {
		var c transcribe.Chunk
		var startedAt, endedAt string
		if err := rows.Scan(&c.Sequence, &c.Speaker, &c.Text, &startedAt, &endedAt, &c.Confidence); err != nil {
			return nil, fmt.Errorf("scan chunk for session %s: %w", sessionID, err)
		}

		if c.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse chunk started_at for session %s: %w", sessionID, err)
		}
		if c.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
			return nil, fmt.Errorf("parse chunk ended_at for session %s: %w", sessionID, err)
		}

		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows for session %s: %w", sessionID, err)
	}

	return chunks, nil
}

func (s *SQLiteStore) GetSummary(sessionID string) (*summary.Result, error) {
	row := s.db.QueryRow(
		`SELECT key_points, action_items, decisions, degraded FROM summaries WHERE session_id = ?`,
		sessionID,
	)

	var res summary.Result
	var degraded int
	err := row.Scan(&res.KeyPoints, &res.ActionItems, &res.Decisions, &degraded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query summary for session %s: %w", sessionID, err)
	}

	res.Degraded = degraded != 0
	return &res, nil
}

// DeleteSession removes a session; chunks and summary cascade.
func (s *SQLiteStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ClaimSummaryRequest records that a summary was requested for this exact
// transcript, returning false if an earlier attempt already claimed it.
func (s *SQLiteStore) ClaimSummaryRequest(sessionID, transcriptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO summary_requests(session_id, transcript_hash) VALUES(?, ?)`,
		sessionID,
		transcriptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim summary request for session %s: %w", sessionID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim summary rows affected: %w", err)
	}

	return rows > 0, nil
}

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for session %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", session.ErrUnknownSession, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var startedAt string
	var endedAt, interruptionAt sql.NullString

	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.Source, &startedAt, &endedAt, &sess.AudioPath, &interruptionAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("%w", session.ErrUnknownSession)
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	sess.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse ended_at: %w", err)
		}
		sess.EndedAt = &parsedEnd
	}

	if interruptionAt.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, interruptionAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse interruption_at: %w", err)
		}
		sess.InterruptionAt = &parsed
	}

	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
