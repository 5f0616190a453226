package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write would violate uniqueness or
	// carries a stale revision.
	ErrConflict = errors.New("record conflict")
)

// AuditAction represents the kind of write recorded in the audit log
type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
)

// ArtifactRecord is the persisted form of an artifact
type ArtifactRecord struct {
	ID             string               `json:"id"`
	URL            string               `json:"url"`
	Version        string               `json:"version"`
	Type           string               `json:"type"`
	Status         string               `json:"status"`
	Experimental   bool                 `json:"experimental"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	Date           *time.Time           `json:"date,omitempty"`
	ApprovalDate   *time.Time           `json:"approval_date,omitempty"`
	EffectiveStart *time.Time           `json:"effective_start,omitempty"`
	EffectiveEnd   *time.Time           `json:"effective_end,omitempty"`
	ReleaseLabel   string               `json:"release_label"`
	Logic          string               `json:"logic"`
	Approvals      string               `json:"approvals"` // JSON blob
	Revision       int64                `json:"revision"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Relationships  []RelationshipRecord `json:"relationships"`
}

// RelationshipRecord is one ordered outgoing edge of an artifact
type RelationshipRecord struct {
	Position      int    `json:"position"`
	Kind          string `json:"kind"`
	TargetURL     string `json:"target_url"`
	TargetVersion string `json:"target_version"`
	TargetType    string `json:"target_type"`
	Owned         bool   `json:"owned"`
}

// VersionInfo is a lightweight (version, status) pair for one url
type VersionInfo struct {
	Version string `json:"version"`
	Status  string `json:"status"`
}

// ArtifactFilter narrows artifact searches. Empty fields match anything.
type ArtifactFilter struct {
	URL     string
	Version string
	Type    string
	Status  string
}

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID        int64       `json:"id"`
	Action    AuditAction `json:"action"`
	Actor     string      `json:"actor"`
	TargetID  string      `json:"target_id"`
	Details   string      `json:"details"` // JSON blob
	Timestamp time.Time   `json:"timestamp"`
}

// Store defines the interface for artifact persistence operations
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transactions
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Artifacts
	CreateArtifact(ctx context.Context, rec *ArtifactRecord) error
	UpdateArtifact(ctx context.Context, rec *ArtifactRecord, expectedRevision int64) error
	GetArtifact(ctx context.Context, id string) (*ArtifactRecord, error)
	GetArtifactByCanonical(ctx context.Context, url, version string) (*ArtifactRecord, error)
	ListVersions(ctx context.Context, url string) ([]VersionInfo, error)
	SearchArtifacts(ctx context.Context, filter ArtifactFilter, limit, offset int) ([]*ArtifactRecord, error)
	DeleteArtifact(ctx context.Context, id string) error

	// Audit
	ListAuditEntries(ctx context.Context, action *string, targetID *string, limit, offset int) ([]*AuditEntry, error)

	// Health
	HealthCheck(ctx context.Context) error
}
