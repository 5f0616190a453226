// Package stores provides the persistence layer behind curator's local
// repository handle. It includes SQLite-based storage with WAL mode,
// embedded golang-migrate migrations, connection pooling, and CRUD
// operations for artifacts, their ordered relationships, and an audit log.
//
// Writes are version-checked: UpdateArtifact succeeds only when the stored
// revision matches the caller's expected revision, and (url, version) pairs
// are unique. Both violations surface as ErrConflict.
package stores
