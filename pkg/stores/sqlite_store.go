package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is the on-disk format of every timestamp column.
const timeLayout = time.RFC3339Nano

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db    *sql.DB
	path  string
	cfg   Config
	actor string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Actor is recorded on audit entries for writes made through this store.
	Actor string
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a distinct database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path:  cfg.Path,
		cfg:   cfg,
		actor: cfg.Actor,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

const artifactColumns = `id, url, version, type, status, experimental, title, description,
	date, approval_date, effective_start, effective_end, release_label, logic, approvals,
	revision, created_at, updated_at`

// CreateArtifact inserts a new artifact. The store assigns the ID when empty
// and always starts the revision at 1. An existing (url, version) yields ErrConflict.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, rec *ArtifactRecord) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := canonicalExists(ctx, tx, rec.URL, rec.Version, "")
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: artifact %s|%s already exists", ErrConflict, rec.URL, rec.Version)
	}

	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Approvals == "" {
		rec.Approvals = "[]"
	}
	rec.Revision = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO artifacts (` + artifactColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		rec.URL,
		rec.Version,
		rec.Type,
		rec.Status,
		rec.Experimental,
		rec.Title,
		rec.Description,
		formatTime(rec.Date),
		formatTime(rec.ApprovalDate),
		formatTime(rec.EffectiveStart),
		formatTime(rec.EffectiveEnd),
		rec.ReleaseLabel,
		rec.Logic,
		rec.Approvals,
		rec.Revision,
		rec.CreatedAt.Format(timeLayout),
		rec.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}

	if err := insertRelationships(ctx, tx, rec.ID, rec.Relationships); err != nil {
		return err
	}
	if err := s.audit(ctx, tx, AuditActionCreate, rec); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateArtifact replaces an artifact if its stored revision equals
// expectedRevision. A stale revision, or a (url, version) already owned by
// another record, yields ErrConflict.
func (s *SQLiteStore) UpdateArtifact(ctx context.Context, rec *ArtifactRecord, expectedRevision int64) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	var createdAt string
	err = tx.QueryRowContext(ctx, `SELECT revision, created_at FROM artifacts WHERE id = ?`, rec.ID).
		Scan(&current, &createdAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: artifact %s", ErrNotFound, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to get artifact revision: %w", err)
	}
	if current != expectedRevision {
		return fmt.Errorf("%w: artifact %s is at revision %d, expected %d", ErrConflict, rec.ID, current, expectedRevision)
	}

	exists, err := canonicalExists(ctx, tx, rec.URL, rec.Version, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: artifact %s|%s already exists", ErrConflict, rec.URL, rec.Version)
	}

	if rec.Approvals == "" {
		rec.Approvals = "[]"
	}
	rec.Revision = current + 1
	rec.UpdatedAt = time.Now().UTC()
	rec.CreatedAt = parseTime(createdAt)

	query := `
		UPDATE artifacts
		SET url = ?, version = ?, type = ?, status = ?, experimental = ?, title = ?, description = ?,
		    date = ?, approval_date = ?, effective_start = ?, effective_end = ?, release_label = ?,
		    logic = ?, approvals = ?, revision = ?, updated_at = ?
		WHERE id = ? AND revision = ?
	`
	result, err := tx.ExecContext(ctx, query,
		rec.URL,
		rec.Version,
		rec.Type,
		rec.Status,
		rec.Experimental,
		rec.Title,
		rec.Description,
		formatTime(rec.Date),
		formatTime(rec.ApprovalDate),
		formatTime(rec.EffectiveStart),
		formatTime(rec.EffectiveEnd),
		rec.ReleaseLabel,
		rec.Logic,
		rec.Approvals,
		rec.Revision,
		rec.UpdatedAt.Format(timeLayout),
		rec.ID,
		expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("failed to update artifact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: artifact %s changed concurrently", ErrConflict, rec.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE artifact_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear relationships: %w", err)
	}
	if err := insertRelationships(ctx, tx, rec.ID, rec.Relationships); err != nil {
		return err
	}
	if err := s.audit(ctx, tx, AuditActionUpdate, rec); err != nil {
		return err
	}

	return tx.Commit()
}

// GetArtifact retrieves an artifact by ID
func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*ArtifactRecord, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = ?`

	rec, err := scanArtifact(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: artifact %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if err := s.loadRelationships(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetArtifactByCanonical retrieves an artifact by url and exact version
func (s *SQLiteStore) GetArtifactByCanonical(ctx context.Context, url, version string) (*ArtifactRecord, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE url = ? AND version = ?`

	rec, err := scanArtifact(s.db.QueryRowContext(ctx, query, url, version))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: artifact %s|%s", ErrNotFound, url, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if err := s.loadRelationships(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListVersions lists every stored version of url
func (s *SQLiteStore) ListVersions(ctx context.Context, url string) ([]VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, status FROM artifacts WHERE url = ? ORDER BY version`, url)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []VersionInfo{}
	for rows.Next() {
		var v VersionInfo
		if err := rows.Scan(&v.Version, &v.Status); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

// SearchArtifacts lists artifacts matching filter with pagination, ordered by url then version
func (s *SQLiteStore) SearchArtifacts(ctx context.Context, filter ArtifactFilter, limit, offset int) ([]*ArtifactRecord, error) {
	query := `
		SELECT ` + artifactColumns + `
		FROM artifacts
		WHERE (? = '' OR url = ?)
		  AND (? = '' OR version = ?)
		  AND (? = '' OR type = ?)
		  AND (? = '' OR status = ?)
		ORDER BY url, version, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.URL, filter.URL,
		filter.Version, filter.Version,
		filter.Type, filter.Type,
		filter.Status, filter.Status,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search artifacts: %w", err)
	}

	records := []*ArtifactRecord{}
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}
	rows.Close()

	// Relationships are loaded after the cursor is released so a single
	// connection pool never waits on itself.
	for _, rec := range records {
		if err := s.loadRelationships(ctx, rec); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// DeleteArtifact deletes an artifact and its relationships
func (s *SQLiteStore) DeleteArtifact(ctx context.Context, id string) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: artifact %s", ErrNotFound, id)
	}

	if err := s.audit(ctx, tx, AuditActionDelete, &ArtifactRecord{ID: id}); err != nil {
		return err
	}

	return tx.Commit()
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, targetID *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR target_id = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, targetID, targetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var ts string
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = parseTime(ts)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) audit(ctx context.Context, tx *sql.Tx, action AuditAction, rec *ArtifactRecord) error {
	details, err := json.Marshal(map[string]interface{}{
		"url":      rec.URL,
		"version":  rec.Version,
		"status":   rec.Status,
		"revision": rec.Revision,
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit (action, actor, target_id, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		action, s.actor, rec.ID, string(details), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadRelationships(ctx context.Context, rec *ArtifactRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, kind, target_url, target_version, target_type, owned
		FROM relationships
		WHERE artifact_id = ?
		ORDER BY position
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load relationships: %w", err)
	}
	defer rows.Close()

	rec.Relationships = []RelationshipRecord{}
	for rows.Next() {
		var r RelationshipRecord
		if err := rows.Scan(&r.Position, &r.Kind, &r.TargetURL, &r.TargetVersion, &r.TargetType, &r.Owned); err != nil {
			return fmt.Errorf("failed to scan relationship: %w", err)
		}
		rec.Relationships = append(rec.Relationships, r)
	}

	return rows.Err()
}

func insertRelationships(ctx context.Context, tx *sql.Tx, artifactID string, rels []RelationshipRecord) error {
	for i, r := range rels {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (artifact_id, position, kind, target_url, target_version, target_type, owned)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, artifactID, i, r.Kind, r.TargetURL, r.TargetVersion, r.TargetType, r.Owned)
		if err != nil {
			return fmt.Errorf("failed to insert relationship %d: %w", i, err)
		}
	}
	return nil
}

func canonicalExists(ctx context.Context, tx *sql.Tx, url, version, excludeID string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE url = ? AND version = ? AND id != ?`,
		url, version, excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check artifact existence: %w", err)
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*ArtifactRecord, error) {
	rec := &ArtifactRecord{}
	var date, approvalDate, effectiveStart, effectiveEnd sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&rec.ID,
		&rec.URL,
		&rec.Version,
		&rec.Type,
		&rec.Status,
		&rec.Experimental,
		&rec.Title,
		&rec.Description,
		&date,
		&approvalDate,
		&effectiveStart,
		&effectiveEnd,
		&rec.ReleaseLabel,
		&rec.Logic,
		&rec.Approvals,
		&rec.Revision,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Date = parseNullTime(date)
	rec.ApprovalDate = parseNullTime(approvalDate)
	rec.EffectiveStart = parseNullTime(effectiveStart)
	rec.EffectiveEnd = parseNullTime(effectiveEnd)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
