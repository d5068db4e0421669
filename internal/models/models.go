package models

import (
	"time"
)

// PlaceholderModifiedTime is written to a Document before its chunks are in
// place. A document still carrying it always looks older than its remote
// counterpart, so an interrupted index run is retried on the next sync.
var PlaceholderModifiedTime = time.Unix(0, 0).UTC()

// Sync lifecycle states, persisted in sync_state.status.
const (
	SyncStatusIdle        = "idle"
	SyncStatusDiscovering = "discovering"
	SyncStatusProcessing  = "processing"
	SyncStatusCompleted   = "completed"
	SyncStatusFailed      = "failed"
)

// File job states, persisted in file_jobs.status.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusSkipped    = "skipped"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DriveCredential holds a user's Google Drive OAuth tokens. Both tokens are
// cleared (the row stays) when the grant is revoked, which is the signal that
// the user must reconnect.
type DriveCredential struct {
	UserID       string    `db:"user_id" json:"user_id"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	Expiry       time.Time `db:"expiry" json:"expiry"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Connected reports whether the credential can still be used for syncing.
func (c *DriveCredential) Connected() bool {
	return c != nil && (c.AccessToken != "" || c.RefreshToken != "")
}

// RemoteFile is a file observed in the user's Drive. It is never stored
// directly; the sync engine diffs it against Documents.
type RemoteFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	ModifiedTime time.Time `json:"modified_time"`
	Size         int64     `json:"size"`
}

// Document is the locally indexed representation of one remote file.
// SourceModifiedTime only reflects the remote modifiedTime once every chunk
// for the current content has been written; until then it holds
// PlaceholderModifiedTime.
type Document struct {
	ID                 string    `db:"id" json:"id"`
	UserID             string    `db:"user_id" json:"user_id"`
	ExternalFileID     string    `db:"external_file_id" json:"external_file_id"`
	Title              string    `db:"title" json:"title"`
	FullText           string    `db:"full_text" json:"-"`
	SourceModifiedTime time.Time `db:"source_modified_time" json:"source_modified_time"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one embedded text chunk of a document. Chunks are
// owned by their document and always replaced as a whole set, never patched.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Text       string    `db:"text" json:"text"`
	Embedding  []float32 `db:"embedding" json:"-"` // pgvector column
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SyncResult summarizes what one completed sync did for a user.
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// SyncState is the single source of truth for "is a sync running" for one
// user. WorkerID identifies the attempt that owns the state; HeartbeatAt
// proves the owner is alive.
type SyncState struct {
	UserID          string     `db:"user_id" json:"user_id"`
	Status          string     `db:"status" json:"status"`
	WorkerID        string     `db:"worker_id" json:"-"`
	HeartbeatAt     time.Time  `db:"heartbeat_at" json:"heartbeat_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	TotalDiscovered int        `db:"total_discovered" json:"total_discovered"`
	Processed       int        `db:"processed" json:"processed"`
	Failed          int        `db:"failed" json:"failed"`
	LastResult      SyncResult `db:"-" json:"last_result"`
	Error           string     `db:"error" json:"error,omitempty"`
}

// Running reports whether the state claims an active sync attempt.
func (s *SyncState) Running() bool {
	return s != nil && (s.Status == SyncStatusDiscovering || s.Status == SyncStatusProcessing)
}

// Stale reports whether a running sync's heartbeat is older than the timeout,
// i.e. its worker is presumed dead.
func (s *SyncState) Stale(now time.Time, timeout time.Duration) bool {
	return s.Running() && now.Sub(s.HeartbeatAt) > timeout
}

// FileJob tracks one file's indexing progress within a sync attempt. One row
// per (user, external file id); re-discovery resets it instead of duplicating.
type FileJob struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	ExternalFileID string     `db:"external_file_id" json:"external_file_id"`
	Status         string     `db:"status" json:"status"`
	ClaimedBy      string     `db:"claimed_by" json:"-"`
	ClaimedAt      *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	Error          string     `db:"error" json:"error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// SearchResult is one nearest-neighbor match for a query vector.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
}
