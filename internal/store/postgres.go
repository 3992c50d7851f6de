package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL, for multi-node
// deployments where SQLite's single-writer model would serialize every
// incident mutation across the whole process.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'viewer',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			commander TEXT NOT NULL,
			assignees JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS updates (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL REFERENCES incidents(id),
			author_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
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

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *PostgresStore) Close() error                   { return s.db.Close() }

// --- Principals ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, email, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.DisplayName, u.Email, u.PasswordHash, u.Role, u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, password_hash, role, created_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, password_hash, role, created_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *PostgresStore) ListUsers(ctx context.Context, role string) ([]User, error) {
	query := `SELECT id, display_name, email, password_hash, role, created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = $1`
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

func (s *PostgresStore) UpdateUserRole(ctx context.Context, id, role string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetUserByID(ctx, id)
}

// --- Incidents & updates ---

func (s *PostgresStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	return scanIncident(row)
}

func (s *PostgresStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE TRUE`
	var args []any
	idx := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", idx)
		args = append(args, filter.Severity)
		idx++
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

func (s *PostgresStore) ListUpdates(ctx context.Context, incidentID string) ([]Update, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+updateColumns+` FROM updates WHERE incident_id = $1 ORDER BY created_at, id`, incidentID)
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

func (s *PostgresStore) GetUpdate(ctx context.Context, id string) (*Update, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+updateColumns+` FROM updates WHERE id = $1`, id)
	return scanUpdate(row)
}

func pgInsertUpdate(ctx context.Context, tx *sql.Tx, incidentID, authorID string, kind Kind, content any, now time.Time) (*Update, error) {
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
		`INSERT INTO updates (id, incident_id, author_id, kind, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.IncidentID, u.AuthorID, u.Kind, string(u.Content), u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func pgGetIncidentTx(ctx context.Context, tx *sql.Tx, id string) (*Incident, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	return scanIncident(row)
}

func (s *PostgresStore) CreateIncident(ctx context.Context, in *Incident) (*Incident, *Update, error) {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)`,
		in.ID, in.Title, in.Description, in.Severity, in.Status, in.CreatedBy, in.Commander, string(assigneesJSON), in.CreatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	update, err := pgInsertUpdate(ctx, tx, in.ID, in.CreatedBy, KindStatusChange,
		StatusChangeContent{PreviousStatus: nil, NewStatus: StatusInvestigating}, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, incidentID, authorID, newStatus string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := pgGetIncidentTx(ctx, tx, incidentID)
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

	_, err = tx.ExecContext(ctx, `UPDATE incidents SET status = $1, resolved_at = $2 WHERE id = $3`,
		newStatus, resolvedAt, incidentID)
	if err != nil {
		return nil, nil, err
	}
	in.Status = newStatus

	update, err := pgInsertUpdate(ctx, tx, incidentID, authorID, KindStatusChange,
		StatusChangeContent{PreviousStatus: &prev, NewStatus: newStatus}, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *PostgresStore) AddNote(ctx context.Context, incidentID, authorID, text string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := pgGetIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, nil
	}

	update, err := pgInsertUpdate(ctx, tx, incidentID, authorID, KindNote, NoteContent{Text: text}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *PostgresStore) AssignUser(ctx context.Context, incidentID, authorID, targetUserID string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := pgGetIncidentTx(ctx, tx, incidentID)
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
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET assignees = $1 WHERE id = $2`, string(assigneesJSON), incidentID); err != nil {
		return nil, nil, err
	}

	update, err := pgInsertUpdate(ctx, tx, incidentID, authorID, KindAssignment,
		AssignmentContent{Action: AssignmentAssigned, TargetUserID: targetUserID}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *PostgresStore) UnassignUser(ctx context.Context, incidentID, authorID, targetUserID string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := pgGetIncidentTx(ctx, tx, incidentID)
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
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET assignees = $1 WHERE id = $2`, string(assigneesJSON), incidentID); err != nil {
		return nil, nil, err
	}

	update, err := pgInsertUpdate(ctx, tx, incidentID, authorID, KindAssignment,
		AssignmentContent{Action: AssignmentUnassigned, TargetUserID: targetUserID}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *PostgresStore) AddActionItem(ctx context.Context, incidentID, authorID, text string) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	in, err := pgGetIncidentTx(ctx, tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, nil
	}

	update, err := pgInsertUpdate(ctx, tx, incidentID, authorID, KindActionItem,
		ActionItemContent{Text: text, Completed: false}, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, update, nil
}

func (s *PostgresStore) ToggleActionItem(ctx context.Context, updateID, authorID string, completed bool) (*Incident, *Update, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+updateColumns+` FROM updates WHERE id = $1`, updateID)
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
	if _, err := tx.ExecContext(ctx, `UPDATE updates SET content = $1 WHERE id = $2`, string(raw), updateID); err != nil {
		return nil, nil, err
	}

	in, err := pgGetIncidentTx(ctx, tx, existing.IncidentID)
	if err != nil {
		return nil, nil, err
	}
	existing.Content = raw
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return in, existing, nil
}
