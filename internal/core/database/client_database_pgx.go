package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/harborml/drivesearch/internal/config"
	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, COALESCE($4, now()), COALESCE($5, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *DatabaseClient) ListConnectedUserIDs(ctx context.Context) ([]string, error) {
	const q = `
		SELECT user_id FROM drive_credentials
		WHERE access_token <> '' OR refresh_token <> ''
		ORDER BY user_id
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Drive credentials

func (c *DatabaseClient) UpsertDriveCredential(ctx context.Context, cred *models.DriveCredential) error {
	if cred == nil {
		return errors.New("nil credential")
	}
	const q = `
		INSERT INTO drive_credentials (user_id, access_token, refresh_token, expiry, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry,
			updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q, cred.UserID, cred.AccessToken, cred.RefreshToken, nullTime(cred.Expiry))
	return err
}

func (c *DatabaseClient) GetDriveCredential(ctx context.Context, userID string) (*models.DriveCredential, error) {
	const q = `
		SELECT user_id, access_token, refresh_token, expiry, updated_at
		FROM drive_credentials WHERE user_id = $1
	`
	var (
		cred   models.DriveCredential
		expiry sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, q, userID).Scan(
		&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &expiry, &cred.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		cred.Expiry = expiry.Time
	}
	return &cred, nil
}

func (c *DatabaseClient) ClearDriveAccessToken(ctx context.Context, userID string, clearRefresh bool) error {
	const q = `
		UPDATE drive_credentials
		SET access_token = '',
		    refresh_token = CASE WHEN $2 THEN '' ELSE refresh_token END,
		    updated_at = now()
		WHERE user_id = $1
	`
	_, err := c.db.ExecContext(ctx, q, userID, clearRefresh)
	return err
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, user_id, external_file_id, title, full_text, source_modified_time, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, COALESCE($7, now()), COALESCE($8, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.ExternalFileID, doc.Title, doc.FullText,
		doc.SourceModifiedTime, doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (c *DatabaseClient) UpdateDocumentContent(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		UPDATE documents
		SET title = $2, full_text = $3, source_modified_time = $4, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, doc.ID, doc.Title, doc.FullText, doc.SourceModifiedTime)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", doc.ID)
	}
	return nil
}

func (c *DatabaseClient) CommitDocumentModifiedTime(ctx context.Context, docID string, modifiedTime time.Time) error {
	const q = `
		UPDATE documents
		SET source_modified_time = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, docID, modifiedTime)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", docID)
	}
	return nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, user_id, external_file_id, title, full_text, source_modified_time, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.UserID, &d.ExternalFileID, &d.Title, &d.FullText,
		&d.SourceModifiedTime, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocumentsByUser omits full_text; the sync diff and the listing endpoint
// only need metadata.
func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	const q = `
		SELECT id, user_id, external_file_id, title, source_modified_time, created_at, updated_at
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.ExternalFileID, &d.Title, &d.SourceModifiedTime, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, docID string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, docID)
	return err
}

// Chunks

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	const q = `DELETE FROM document_chunks WHERE document_id = $1`
	_, err := c.db.ExecContext(ctx, q, documentID)
	return err
}

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, chunk_index, text, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)

		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.ChunkIndex, ch.Text, vec, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SearchDocumentChunks finds top-k similar chunks across all of a user's
// documents for a query embedding.
func (c *DatabaseClient) SearchDocumentChunks(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SearchResult, error) {
	const q = `
		SELECT ch.document_id, d.title, ch.chunk_index, ch.text, ch.embedding <-> $2 AS distance
		FROM document_chunks ch
		JOIN documents d ON d.id = ch.document_id
		WHERE d.user_id = $1
		ORDER BY ch.embedding <-> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, userID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.DocumentID, &r.Title, &r.ChunkIndex, &r.Text, &r.Distance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sync state

func (c *DatabaseClient) GetSyncState(ctx context.Context, userID string) (*models.SyncState, error) {
	const q = `
		SELECT user_id, status, worker_id, heartbeat_at, started_at, completed_at,
		       total_discovered, processed, failed, last_added, last_updated, last_deleted, error
		FROM sync_state WHERE user_id = $1
	`
	var (
		s                      models.SyncState
		startedAt, completedAt sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, q, userID).Scan(
		&s.UserID, &s.Status, &s.WorkerID, &s.HeartbeatAt, &startedAt, &completedAt,
		&s.TotalDiscovered, &s.Processed, &s.Failed,
		&s.LastResult.Added, &s.LastResult.Updated, &s.LastResult.Deleted, &s.Error,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return &s, nil
}

// ClaimSyncState is the single atomic read-modify-write that grants a worker
// ownership of a user's sync. Two workers racing here cannot both win: the
// conditional UPDATE flips status away from the claimable set in the same
// statement that checks it.
func (c *DatabaseClient) ClaimSyncState(ctx context.Context, userID, workerID string, staleBefore time.Time) (bool, error) {
	const ensure = `
		INSERT INTO sync_state (user_id, status, heartbeat_at)
		VALUES ($1, 'idle', now())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := c.db.ExecContext(ctx, ensure, userID); err != nil {
		return false, err
	}

	const q = `
		UPDATE sync_state
		SET status = 'discovering', worker_id = $2, heartbeat_at = now(),
		    started_at = now(), completed_at = NULL,
		    total_discovered = 0, processed = 0, failed = 0, error = ''
		WHERE user_id = $1
		  AND (status IN ('idle', 'completed', 'failed') OR heartbeat_at < $3)
	`
	res, err := c.db.ExecContext(ctx, q, userID, workerID, staleBefore)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (c *DatabaseClient) BeginProcessing(ctx context.Context, userID, workerID string, totalDiscovered int) (bool, error) {
	const q = `
		UPDATE sync_state
		SET status = 'processing', total_discovered = $3, heartbeat_at = now()
		WHERE user_id = $1 AND worker_id = $2 AND status = 'discovering'
	`
	res, err := c.db.ExecContext(ctx, q, userID, workerID, totalDiscovered)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (c *DatabaseClient) TouchSyncHeartbeat(ctx context.Context, userID, workerID string, processedDelta, failedDelta int) (bool, error) {
	const q = `
		UPDATE sync_state
		SET heartbeat_at = now(), processed = processed + $3, failed = failed + $4
		WHERE user_id = $1 AND worker_id = $2 AND status IN ('discovering', 'processing')
	`
	res, err := c.db.ExecContext(ctx, q, userID, workerID, processedDelta, failedDelta)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (c *DatabaseClient) CompleteSyncState(ctx context.Context, userID, workerID string, result models.SyncResult) (bool, error) {
	const q = `
		UPDATE sync_state
		SET status = 'completed', completed_at = now(), worker_id = '',
		    last_added = $3, last_updated = $4, last_deleted = $5
		WHERE user_id = $1 AND worker_id = $2 AND status = 'processing'
	`
	res, err := c.db.ExecContext(ctx, q, userID, workerID, result.Added, result.Updated, result.Deleted)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FailSyncState is deliberately unconditional: cancellation uses it to yank
// the state out from under a running worker.
func (c *DatabaseClient) FailSyncState(ctx context.Context, userID, errMsg string) error {
	const q = `
		UPDATE sync_state
		SET status = 'failed', error = $2, completed_at = now(), worker_id = ''
		WHERE user_id = $1
	`
	_, err := c.db.ExecContext(ctx, q, userID, errMsg)
	return err
}

// File jobs

func (c *DatabaseClient) ResetFileJobs(ctx context.Context, userID string, externalFileIDs []string) error {
	if len(externalFileIDs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO file_jobs (id, user_id, external_file_id, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (user_id, external_file_id) DO UPDATE SET
			status = 'pending', claimed_by = '', claimed_at = NULL,
			retry_count = 0, error = '', updated_at = now()
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, fileID := range externalFileIDs {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), userID, fileID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ReclaimStaleFileJobs(ctx context.Context, userID, workerID string, maxRetries int) error {
	const q = `
		UPDATE file_jobs
		SET status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    error = CASE WHEN retry_count + 1 >= $3 THEN 'retry limit exceeded' ELSE error END,
		    retry_count = retry_count + 1,
		    claimed_by = '', claimed_at = NULL, updated_at = now()
		WHERE user_id = $1 AND status = 'processing' AND claimed_by <> $2
	`
	_, err := c.db.ExecContext(ctx, q, userID, workerID, maxRetries)
	return err
}

// ClaimNextFileJob grabs the oldest pending job under a conditional update so
// two workers can never claim the same row. SKIP LOCKED keeps concurrent
// claimers from serializing on the same candidate.
func (c *DatabaseClient) ClaimNextFileJob(ctx context.Context, userID, workerID string) (*models.FileJob, error) {
	const q = `
		UPDATE file_jobs
		SET status = 'processing', claimed_by = $2, claimed_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM file_jobs
			WHERE user_id = $1 AND status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'pending'
		RETURNING id, user_id, external_file_id, status, claimed_by, claimed_at, retry_count, error, created_at, updated_at
	`
	var (
		j         models.FileJob
		claimedAt sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, q, userID, workerID).Scan(
		&j.ID, &j.UserID, &j.ExternalFileID, &j.Status, &j.ClaimedBy, &claimedAt,
		&j.RetryCount, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	return &j, nil
}

// MarkFileJob only lands if workerID still owns the job, so a worker whose
// heartbeat went stale cannot clobber a status written by the reclaimer.
func (c *DatabaseClient) MarkFileJob(ctx context.Context, jobID, workerID, status, errMsg string) error {
	const q = `
		UPDATE file_jobs
		SET status = $3, error = $4, updated_at = now()
		WHERE id = $1 AND claimed_by = $2
	`
	res, err := c.db.ExecContext(ctx, q, jobID, workerID, status, errMsg)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file job not found or not owned: %s", jobID)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
