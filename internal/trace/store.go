package trace

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxSessions = 100

// Writer is the write side of the trace store, consumed by Tracer.
type Writer interface {
	CreateSession(id, room, identity string) error
	EndSession(id string) error
	CreateMessage(m Message) error
	CreateToolCall(tc ToolCall) error
	CreateCostUpdate(c CostUpdate) error
}

// Store persists session traces to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	if err = db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session and prunes the oldest beyond maxSessions.
func (s *Store) CreateSession(id, room, identity string) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, room, identity, started_at) VALUES ($1, $2, $3, $4)`,
		id, room, identity, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`,
		maxSessions,
	)
	return err
}

// EndSession sets the ended_at timestamp.
func (s *Store) EndSession(id string) error {
	_, err := s.db.Exec(`UPDATE sessions SET ended_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

// CreateMessage inserts a completed message.
func (s *Store) CreateMessage(m Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, session_id, role, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.SessionID, m.Role, m.Text, m.CreatedAt.UTC(),
	)
	return err
}

// CreateToolCall inserts a relayed tool call.
func (s *Store) CreateToolCall(tc ToolCall) error {
	_, err := s.db.Exec(
		`INSERT INTO tool_calls (id, session_id, name, args, output, is_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tc.ID, tc.SessionID, tc.Name, tc.Args, tc.Output, tc.IsError, tc.CreatedAt.UTC(),
	)
	return err
}

// CreateCostUpdate inserts a priced usage event.
func (s *Store) CreateCostUpdate(c CostUpdate) error {
	_, err := s.db.Exec(
		`INSERT INTO cost_updates (id, session_id, service, cost, total, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.SessionID, c.Service, c.Cost, c.Total, c.CreatedAt.UTC(),
	)
	return err
}

// ListSessions returns sessions newest first with message counts and the
// last recorded total cost.
func (s *Store) ListSessions(limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT s.id, s.room, s.identity, s.started_at, s.ended_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
		       COALESCE((SELECT MAX(c.total) FROM cost_updates c WHERE c.session_id = s.id), 0)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.Room, &sess.Identity, &sess.StartedAt, &endedAt, &sess.MessageCount, &sess.TotalCost); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns a single session with its messages and tool calls in
// arrival order.
func (s *Store) GetSession(id string) (*Session, []Message, []ToolCall, error) {
	var sess Session
	var endedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, room, identity, started_at, ended_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Room, &sess.Identity, &sess.StartedAt, &endedAt)
	if err != nil {
		return nil, nil, nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	msgs, err := s.messages(id)
	if err != nil {
		return nil, nil, nil, err
	}
	calls, err := s.toolCalls(id)
	if err != nil {
		return nil, nil, nil, err
	}
	return &sess, msgs, calls, nil
}

func (s *Store) messages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, text, created_at FROM messages WHERE session_id = $1 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err = rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) toolCalls(sessionID string) ([]ToolCall, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, name, args, output, is_error, created_at FROM tool_calls WHERE session_id = $1 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var tc ToolCall
		if err = rows.Scan(&tc.ID, &tc.SessionID, &tc.Name, &tc.Args, &tc.Output, &tc.IsError, &tc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
