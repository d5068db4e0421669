package core

import (
	"context"
	"time"

	"github.com/harborml/drivesearch/internal/models"
)

// DbClient defines all persistence operations the service needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// ListConnectedUserIDs returns ids of users whose Drive credential still
	// carries a token, i.e. the population the coordinator iterates.
	ListConnectedUserIDs(ctx context.Context) ([]string, error)

	UpsertDriveCredential(ctx context.Context, cred *models.DriveCredential) error
	GetDriveCredential(ctx context.Context, userID string) (*models.DriveCredential, error)
	// ClearDriveAccessToken marks the credential as needing reconnect while
	// keeping the refresh token unless clearRefresh is set.
	ClearDriveAccessToken(ctx context.Context, userID string, clearRefresh bool) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocumentContent(ctx context.Context, doc *models.Document) error
	// CommitDocumentModifiedTime is the commit point of an index run: it must
	// only be called after every chunk write for the document succeeded.
	CommitDocumentModifiedTime(ctx context.Context, docID string, modifiedTime time.Time) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, docID string) error

	DeleteChunksByDocument(ctx context.Context, documentID string) error
	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	SearchDocumentChunks(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SearchResult, error)

	SyncStore

	Close() error
}

// SyncStore persists per-user sync progress and per-file job status. Every
// mutation that hands ownership around is a conditional update; the bool
// results report whether the caller won the row.
type SyncStore interface {
	GetSyncState(ctx context.Context, userID string) (*models.SyncState, error)
	// ClaimSyncState atomically moves the user's state to discovering under
	// workerID. It succeeds when the state is idle/completed/failed, or when a
	// running sync's heartbeat is older than staleBefore.
	ClaimSyncState(ctx context.Context, userID, workerID string, staleBefore time.Time) (bool, error)
	// BeginProcessing records totalDiscovered and flips the state to
	// processing, provided workerID still owns it.
	BeginProcessing(ctx context.Context, userID, workerID string, totalDiscovered int) (bool, error)
	// TouchSyncHeartbeat refreshes the heartbeat and bumps the progress
	// counters, provided workerID still owns the state.
	TouchSyncHeartbeat(ctx context.Context, userID, workerID string, processedDelta, failedDelta int) (bool, error)
	CompleteSyncState(ctx context.Context, userID, workerID string, result models.SyncResult) (bool, error)
	// FailSyncState is unconditional so that cancellation can preempt a
	// running worker.
	FailSyncState(ctx context.Context, userID, errMsg string) error

	// ResetFileJobs upserts one pending job per external file id and clears
	// stale leftovers from earlier attempts.
	ResetFileJobs(ctx context.Context, userID string, externalFileIDs []string) error
	// ReclaimStaleFileJobs returns jobs stuck in processing by a worker other
	// than workerID to pending, or to failed once retryCount reaches
	// maxRetries.
	ReclaimStaleFileJobs(ctx context.Context, userID, workerID string, maxRetries int) error
	// ClaimNextFileJob picks the oldest pending job for the user and marks it
	// processing under workerID. Returns nil when no pending job remains.
	ClaimNextFileJob(ctx context.Context, userID, workerID string) (*models.FileJob, error)
	// MarkFileJob records the terminal status, provided workerID still owns
	// the job; a worker whose job was reclaimed cannot overwrite the new
	// owner's result.
	MarkFileJob(ctx context.Context, jobID, workerID, status, errMsg string) error
}
