package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. It is the default driver
// (suited to single-node and test deployments); NewPostgres is used for
// multi-node production deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // avoid "database is locked" under WAL + concurrent writers

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'viewer',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			commander TEXT NOT NULL,
			assignees TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS updates (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL REFERENCES incidents(id),
			author_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_incident ON updates(incident_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

// --- Principals ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, email, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.Email, u.PasswordHash, u.Role, u.CreatedAt,
	)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, password_hash, role, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, password_hash, role, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (s *SQLiteStore) ListUsers(ctx context.Context, role string) ([]User, error) {
	query := `SELECT id, display_name, email, password_hash, role, created_at FROM users`
	args := []any{}
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY display_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUserRole(ctx context.Context, id, role string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetUserByID(ctx, id)
}

// --- Incidents & updates ---

func scanIncident(row interface{ Scan(...any) error }) (*Incident, error) {
	var in Incident
	var assigneesJSON string
	var resolvedAt sql.NullTime
	if err := row.Scan(&in.ID, &in.Title, &in.Description, &in.Severity, &in.Status,
		&in.CreatedBy, &in.Commander, &assigneesJSON, &in.CreatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(assigneesJSON), &in.Assignees); err != nil {
		return nil, fmt.Errorf("decode assignees: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		in.ResolvedAt = &t
	}
	return &in, nil
}

const incidentColumns = `id, title, description, severity, status, created_by, commander, assignees, created_at, resolved_at`

func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	return scanIncident(row)
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func scanUpdate(row interface{ Scan(...any) error }) (*Update, error) {
	var u Update
	var content string
	if err := row.Scan(&u.ID, &u.IncidentID, &u.AuthorID, &u.Kind, &content, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.Content = json.RawMessage(content)
	return &u, nil
}

const updateColumns = `id, incident_id, author_id, kind, content, created_at`

func (s *SQLiteStore) ListUpdates(ctx context.Context, incidentID string) ([]Update, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+updateColumns+` FROM updates WHERE incident_id = ? ORDER BY created_at, id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Update
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetUpdate(ctx context.Context, id string) (*Update, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+updateColumns+` FROM updates WHERE id = ?`, id)
	return scanUpdate(row)
}

// insertUpdate writes an Update row within tx and returns it populated.
func insertUpdate(ctx context.Context, tx *sql.Tx, incidentID, authorID string, kind Kind, content any, now time.Time) (*Update, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	u := &Update{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		AuthorID:   authorID,
		Kind:       kind,
		Content:    raw,
		CreatedAt:  now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO updates (id, incident_id, author_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.IncidentID, u.AuthorID, u.Kind, string(u.Content), u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func getIncidentTx(ctx context.Context, tx *sql.Tx, id string) (*Incident, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	return scanIncident(row)
}

func (s *SQLiteStore) CreateIncident(ctx context.Context, in *Incident) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := in.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	in.ID = uuid.New().String()
	in.Status = StatusInvestigating
	in.CreatedAt = now
	if in.Assignees == nil {
		in.Assignees = []string{}
	}
	assigneesJSON, err := json.Marshal(in.Assignees)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO incidents (id, title, description, severity, status, created_by, commander, assignees, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		in.ID, in.Title, in.Description, in.Severity, in.Status, in.CreatedBy, in.Commander, string(assigneesJSON), in.CreatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	update, err := insertUpdate(ctx, tx, in.ID, in.CreatedBy, KindStatusChange,
		StatusChangeContent{PreviousStatus: nil, NewStatus: StatusInvestigating}, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, incidentID, authorID, newStatus string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := getIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, nil
	}

	prev := in.Status
	now := time.Now().UTC()
	var resolvedAt sql.NullTime
	if newStatus == StatusResolved && in.ResolvedAt == nil {
		resolvedAt = sql.NullTime{Time: now, Valid: true}
		in.ResolvedAt = &now
	} else if in.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *in.ResolvedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `UPDATE incidents SET status = ?, resolved_at = ? WHERE id = ?`,
		newStatus, resolvedAt, incidentID)
	if err != nil {
		return nil, nil, err
	}
	in.Status = newStatus

	update, err := insertUpdate(ctx, tx, incidentID, authorID, KindStatusChange,
		StatusChangeContent{PreviousStatus: &prev, NewStatus: newStatus}, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *SQLiteStore) AddNote(ctx context.Context, incidentID, authorID, text string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := getIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, nil
	}

	update, err := insertUpdate(ctx, tx, incidentID, authorID, KindNote, NoteContent{Text: text}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

var ErrAlreadyAssigned = fmt.Errorf("already assigned")
var ErrNotAssigned = fmt.Errorf("not assigned")

func (s *SQLiteStore) AssignUser(ctx context.Context, incidentID, authorID, targetUserID string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := getIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, nil
	}
	for _, a := range in.Assignees {
		if a == targetUserID {
			return nil, nil, ErrAlreadyAssigned
		}
	}
	in.Assignees = append(in.Assignees, targetUserID)
	assigneesJSON, err := json.Marshal(in.Assignees)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET assignees = ? WHERE id = ?`, string(assigneesJSON), incidentID); err != nil {
		return nil, nil, err
	}

	update, err := insertUpdate(ctx, tx, incidentID, authorID, KindAssignment,
		AssignmentContent{Action: AssignmentAssigned, TargetUserID: targetUserID}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *SQLiteStore) UnassignUser(ctx context.Context, incidentID, authorID, targetUserID string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := getIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, nil
	}
	idx := -1
	for i, a := range in.Assignees {
		if a == targetUserID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, nil, ErrNotAssigned
	}
	in.Assignees = append(in.Assignees[:idx], in.Assignees[idx+1:]...)
	assigneesJSON, err := json.Marshal(in.Assignees)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET assignees = ? WHERE id = ?`, string(assigneesJSON), incidentID); err != nil {
		return nil, nil, err
	}

	update, err := insertUpdate(ctx, tx, incidentID, authorID, KindAssignment,
		AssignmentContent{Action: AssignmentUnassigned, TargetUserID: targetUserID}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *SQLiteStore) AddActionItem(ctx context.Context, incidentID, authorID, text string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := getIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, nil
	}

	update, err := insertUpdate(ctx, tx, incidentID, authorID, KindActionItem,
		ActionItemContent{Text: text, Completed: false}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *SQLiteStore) ToggleActionItem(ctx context.Context, updateID, authorID string, completed bool) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+updateColumns+` FROM updates WHERE id = ?`, updateID)
	existing, err := scanUpdate(row)
	if err != nil {
		return nil, nil, err
	}
	if existing == nil || existing.Kind != KindActionItem {
		return nil, nil, nil
	}
	var content ActionItemContent
	if err := json.Unmarshal(existing.Content, &content); err != nil {
		return nil, nil, err
	}
	content.Completed = completed
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE updates SET content = ? WHERE id = ?`, string(raw), updateID); err != nil {
		return nil, nil, err
	}

	in, err := getIncidentTx(ctx, tx, existing.IncidentID)
	if err != nil {
		return nil, nil, err
	}
	existing.Content = raw
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, existing, nil
}
