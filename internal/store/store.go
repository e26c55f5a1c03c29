package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("store: not found")

// Store is the durable record of transcript state, content and per-resource
// pipeline locks. All shared mutable pipeline state lives here, never in
// process memory.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	transcript_id    TEXT PRIMARY KEY,
	entry_id         TEXT NOT NULL,
	start_time       REAL,
	end_time         REAL,
	status           TEXT NOT NULL,
	language         TEXT NOT NULL DEFAULT '',
	audio_source_url TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL DEFAULT '{}',
	lock_holder      TEXT,
	lock_acquired_at DATETIME,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_entry ON transcripts(entry_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_updated ON transcripts(updated_at);

CREATE TABLE IF NOT EXISTS speaker_mappings (
	transcript_id TEXT PRIMARY KEY,
	mapping       TEXT NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS videos (
	entry_id         TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	duration_seconds REAL NOT NULL DEFAULT 0,
	is_live          INTEGER NOT NULL DEFAULT 0,
	updated_at       DATETIME NOT NULL
);
`

// Open opens (creating if necessary) the sqlite database at path and
// ensures the schema exists. The migration is idempotent, so opening the
// same database twice is harmless.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
	PRAGMA busy_timeout  = 10000;
	PRAGMA journal_mode  = WAL;
	PRAGMA synchronous   = NORMAL;
	PRAGMA foreign_keys  = ON;
	`); err != nil {
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTranscript inserts a new transcript row. Timestamps are set here.
func (s *Store) CreateTranscript(t *types.Transcript) error {
	content, err := json.Marshal(t.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = s.db.Exec(`
	INSERT INTO transcripts
		(transcript_id, entry_id, start_time, end_time, status, language,
		 audio_source_url, content, error_message, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EntryID, t.StartTime, t.EndTime, t.Status, t.Language,
		t.AudioSourceURL, string(content), t.ErrorMessage, now, now)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// GetTranscript retrieves one transcript by its id.
func (s *Store) GetTranscript(transcriptID string) (*types.Transcript, error) {
	row := s.db.QueryRow(`
	SELECT transcript_id, entry_id, start_time, end_time, status, language,
	       audio_source_url, content, lock_holder, lock_acquired_at,
	       error_message, created_at, updated_at
	FROM transcripts WHERE transcript_id = ?`, transcriptID)
	return scanTranscript(row)
}

// FindByEntry finds the transcript matching the (entry, time range) key.
// A nil range matches only the primary whole-resource row. Rows in error
// state are skipped so callers naturally retry them; use ListByEntry to see
// everything.
func (s *Store) FindByEntry(entryID string, startTime, endTime *float64) (*types.Transcript, error) {
	query := `
	SELECT transcript_id, entry_id, start_time, end_time, status, language,
	       audio_source_url, content, lock_holder, lock_acquired_at,
	       error_message, created_at, updated_at
	FROM transcripts
	WHERE entry_id = ? AND status != ?`
	args := []any{entryID, types.StatusError}

	if startTime == nil {
		query += ` AND start_time IS NULL`
	} else {
		query += ` AND start_time = ?`
		args = append(args, *startTime)
	}
	if endTime == nil {
		query += ` AND end_time IS NULL`
	} else {
		query += ` AND end_time = ?`
		args = append(args, *endTime)
	}
	query += ` ORDER BY updated_at DESC LIMIT 1`

	return scanTranscript(s.db.QueryRow(query, args...))
}

// ListByEntry returns all transcript rows for a resource, newest first.
func (s *Store) ListByEntry(entryID string) ([]*types.Transcript, error) {
	rows, err := s.db.Query(`
	SELECT transcript_id, entry_id, start_time, end_time, status, language,
	       audio_source_url, content, lock_holder, lock_acquired_at,
	       error_message, created_at, updated_at
	FROM transcripts WHERE entry_id = ? ORDER BY updated_at DESC`, entryID)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []*types.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateStatus moves a transcript to a new status, recording the error
// message (empty clears a prior one).
func (s *Store) UpdateStatus(transcriptID, status, errorMessage string) error {
	res, err := s.db.Exec(`
	UPDATE transcripts SET status = ?, error_message = ?, updated_at = ?
	WHERE transcript_id = ?`,
		status, errorMessage, time.Now().UTC(), transcriptID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(res)
}

// UpdateContent persists a new content document together with a status
// transition, so a stage result and its state change land atomically.
func (s *Store) UpdateContent(transcriptID string, content types.TranscriptContent, status, language string) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	res, err := s.db.Exec(`
	UPDATE transcripts SET content = ?, status = ?, language = ?, error_message = '', updated_at = ?
	WHERE transcript_id = ?`,
		string(data), status, language, time.Now().UTC(), transcriptID)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return requireRow(res)
}

// PurgeEntry removes all transcript rows and speaker mappings for a
// resource. Used by force re-transcription.
func (s *Store) PurgeEntry(entryID string) error {
	_, err := s.db.Exec(`
	DELETE FROM speaker_mappings WHERE transcript_id IN
		(SELECT transcript_id FROM transcripts WHERE entry_id = ?)`, entryID)
	if err != nil {
		return fmt.Errorf("purge mappings: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM transcripts WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("purge transcripts: %w", err)
	}
	return nil
}

// SaveSpeakerMapping overwrites the speaker mapping for a transcript.
func (s *Store) SaveSpeakerMapping(transcriptID string, m types.SpeakerMapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	_, err = s.db.Exec(`
	INSERT INTO speaker_mappings (transcript_id, mapping, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(transcript_id) DO UPDATE SET mapping = excluded.mapping, updated_at = excluded.updated_at`,
		transcriptID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	return nil
}

// GetSpeakerMapping returns the mapping for a transcript, or ErrNotFound.
func (s *Store) GetSpeakerMapping(transcriptID string) (types.SpeakerMapping, error) {
	var raw string
	err := s.db.QueryRow(`SELECT mapping FROM speaker_mappings WHERE transcript_id = ?`,
		transcriptID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	var m types.SpeakerMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	return m, nil
}

// UpsertVideo records catalog metadata for a resource.
func (s *Store) UpsertVideo(v *types.Video) error {
	_, err := s.db.Exec(`
	INSERT INTO videos (entry_id, title, duration_seconds, is_live, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(entry_id) DO UPDATE SET
		title = excluded.title,
		duration_seconds = excluded.duration_seconds,
		is_live = excluded.is_live,
		updated_at = excluded.updated_at`,
		v.EntryID, v.Title, v.DurationSeconds, v.IsLive, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	return nil
}

// GetVideo returns catalog metadata for a resource, or ErrNotFound.
func (s *Store) GetVideo(entryID string) (*types.Video, error) {
	v := types.Video{EntryID: entryID}
	var isLive int
	err := s.db.QueryRow(`
	SELECT title, duration_seconds, is_live, updated_at FROM videos WHERE entry_id = ?`,
		entryID).Scan(&v.Title, &v.DurationSeconds, &isLive, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	v.IsLive = isLive == 1
	return &v, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row rowScanner) (*types.Transcript, error) {
	var (
		t          types.Transcript
		content    string
		lockHolder sql.NullString
		lockAt     sql.NullTime
	)
	err := row.Scan(&t.ID, &t.EntryID, &t.StartTime, &t.EndTime, &t.Status,
		&t.Language, &t.AudioSourceURL, &content, &lockHolder, &lockAt,
		&t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &t.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if lockHolder.Valid {
		t.LockHolder = lockHolder.String
	}
	if lockAt.Valid {
		at := lockAt.Time
		t.LockAcquiredAt = &at
	}
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
