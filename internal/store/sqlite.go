package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// ArchiveConversation writes a terminal conversation and its messages,
// replacing any earlier archive of the same conversation id.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, rec ConversationRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversations (id, subject, participants, terminal_state, archived_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Subject, string(participants), rec.TerminalState, rec.ArchivedAt.UTC(),
	); err != nil {
		return fmt.Errorf("archiving conversation %s: %w", rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM conversation_messages WHERE conversation_id = ?", rec.ID,
	); err != nil {
		return fmt.Errorf("clearing messages for %s: %w", rec.ID, err)
	}

	const insertMsg = `
		INSERT INTO conversation_messages (
			message_id, conversation_id, message_type,
			from_agent_id, from_address, to_address,
			sent_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	for _, m := range rec.Messages {
		if _, err := tx.ExecContext(ctx, insertMsg,
			m.MessageID, rec.ID, m.Type,
			m.FromAgentID, m.FromAddress, m.ToAddress,
			m.SentAt.UTC(), m.PayloadJSON,
		); err != nil {
			return fmt.Errorf("archiving message %s: %w", m.MessageID, err)
		}
	}

	return tx.Commit()
}

// GetConversation loads an archived conversation with its messages.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	var row struct {
		ID            string    `db:"id"`
		Subject       string    `db:"subject"`
		Participants  string    `db:"participants"`
		TerminalState string    `db:"terminal_state"`
		ArchivedAt    time.Time `db:"archived_at"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT id, subject, participants, terminal_state, archived_at FROM conversations WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	rec := ConversationRecord{
		ID:            row.ID,
		Subject:       row.Subject,
		TerminalState: row.TerminalState,
		ArchivedAt:    row.ArchivedAt,
	}
	if err := json.Unmarshal([]byte(row.Participants), &rec.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants for %s: %w", id, err)
	}

	var msgs []struct {
		MessageID   string    `db:"message_id"`
		Type        string    `db:"message_type"`
		FromAgentID string    `db:"from_agent_id"`
		FromAddress string    `db:"from_address"`
		ToAddress   string    `db:"to_address"`
		SentAt      time.Time `db:"sent_at"`
		Payload     string    `db:"payload"`
	}
	err = s.db.SelectContext(ctx, &msgs,
		`SELECT message_id, message_type, from_agent_id, from_address, to_address, sent_at, payload
		 FROM conversation_messages WHERE conversation_id = ? ORDER BY sent_at`, id)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", id, err)
	}

	for _, m := range msgs {
		rec.Messages = append(rec.Messages, MessageRecord{
			MessageID:   m.MessageID,
			Type:        m.Type,
			FromAgentID: m.FromAgentID,
			FromAddress: m.FromAddress,
			ToAddress:   m.ToAddress,
			SentAt:      m.SentAt,
			PayloadJSON: m.Payload,
		})
	}

	return &rec, nil
}

// CountConversations returns how many conversations have been archived.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM conversations"); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

// CreateEvent stores a calendar event, assigning an id when absent.
func (s *SQLiteStore) CreateEvent(ctx context.Context, ev EventRecord) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	attendees, err := json.Marshal(ev.Attendees)
	if err != nil {
		return fmt.Errorf("encoding attendees: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (id, title, start_time, end_time, description, attendees)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, ev.Start.UTC(), ev.End.UTC(), ev.Description, string(attendees),
	)
	if err != nil {
		return fmt.Errorf("creating event %q: %w", ev.Title, err)
	}
	return nil
}

// EventsBetween lists events overlapping [timeMin, timeMax), ordered by
// start time.
func (s *SQLiteStore) EventsBetween(ctx context.Context, timeMin, timeMax time.Time) ([]EventRecord, error) {
	var rows []struct {
		ID          string    `db:"id"`
		Title       string    `db:"title"`
		Start       time.Time `db:"start_time"`
		End         time.Time `db:"end_time"`
		Description string    `db:"description"`
		Attendees   string    `db:"attendees"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, title, start_time, end_time, description, attendees
		 FROM calendar_events
		 WHERE start_time < ? AND end_time > ?
		 ORDER BY start_time`,
		timeMax.UTC(), timeMin.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	events := make([]EventRecord, 0, len(rows))
	for _, r := range rows {
		ev := EventRecord{
			ID:          r.ID,
			Title:       r.Title,
			Start:       r.Start,
			End:         r.End,
			Description: r.Description,
		}
		if err := json.Unmarshal([]byte(r.Attendees), &ev.Attendees); err != nil {
			return nil, fmt.Errorf("decoding attendees for event %s: %w", r.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
