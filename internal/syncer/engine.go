package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborml/drivesearch/internal/core"
	objectclient "github.com/harborml/drivesearch/internal/core/object-client"
	"github.com/harborml/drivesearch/internal/models"
)

// Options tunes the per-user sync engine.
//
// HeartbeatTimeout: a running sync whose heartbeat is older than this is
// presumed abandoned and may be reclaimed.
// MaxJobRetries:    reclaimed jobs past this retry count are failed for good.
// EmbedSubBatch:    chunks embedded and written per group; each group is the
// unit of crash recovery, so it stays small.
type Options struct {
	HeartbeatTimeout time.Duration
	MaxJobRetries    int
	EmbedSubBatch    int
	Chunk            ChunkOptions
}

func DefaultOptions() Options {
	return Options{
		HeartbeatTimeout: 2 * time.Minute,
		MaxJobRetries:    3,
		EmbedSubBatch:    10,
		Chunk:            DefaultChunkOptions(),
	}
}

// Engine reconciles one user's Drive against their indexed documents. All
// coordination goes through conditional updates on the persisted sync state
// and file jobs; the engine holds no cross-call in-memory locks, so multiple
// replicas can run it safely.
type Engine struct {
	db        core.DbClient
	drive     core.DriveService
	embedder  core.EmbeddingProvider
	extractor core.TextExtractor
	archive   core.ObjectClient // optional raw-content archive; nil disables
	bucket    string
	opts      Options

	// swapped out by tests
	now   func() time.Time
	newID func() string
}

func NewEngine(db core.DbClient, drive core.DriveService, emb core.EmbeddingProvider, ext core.TextExtractor, archive core.ObjectClient, bucket string, opts Options) *Engine {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultOptions().HeartbeatTimeout
	}
	if opts.MaxJobRetries <= 0 {
		opts.MaxJobRetries = DefaultOptions().MaxJobRetries
	}
	if opts.EmbedSubBatch <= 0 {
		opts.EmbedSubBatch = DefaultOptions().EmbedSubBatch
	}
	if opts.Chunk.TargetSize <= 0 {
		opts.Chunk = DefaultChunkOptions()
	}
	return &Engine{
		db:        db,
		drive:     drive,
		embedder:  emb,
		extractor: ext,
		archive:   archive,
		bucket:    bucket,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// HeartbeatTimeout exposes the staleness window so status endpoints can tell
// a live sync from an abandoned one the same way claiming does.
func (e *Engine) HeartbeatTimeout() time.Duration {
	return e.opts.HeartbeatTimeout
}

// plannedFile is the action discovery decided for one remote file. doc is nil
// for additions.
type plannedFile struct {
	file models.RemoteFile
	doc  *models.Document
}

// SyncUser runs one full sync attempt for the user: claim, discover, process,
// complete. It returns ErrAlreadySyncing when a live attempt owns the state,
// and ErrSyncCancelled when the state was taken away mid-run. Any other error
// marks the sync state failed before propagating.
func (e *Engine) SyncUser(ctx context.Context, userID string) (*models.SyncResult, error) {
	workerID := e.newID()

	staleBefore := e.now().Add(-e.opts.HeartbeatTimeout)
	claimed, err := e.db.ClaimSyncState(ctx, userID, workerID, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("claim sync state: %w", err)
	}
	if !claimed {
		return nil, ErrAlreadySyncing
	}

	result, err := e.run(ctx, userID, workerID)
	if err != nil {
		if !errors.Is(err, ErrSyncCancelled) {
			_ = e.db.FailSyncState(ctx, userID, err.Error())
		}
		return nil, err
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, userID, workerID string) (*models.SyncResult, error) {
	// Jobs left in processing by a dead worker go back to pending (or fail
	// for good) before this attempt touches anything.
	if err := e.db.ReclaimStaleFileJobs(ctx, userID, workerID, e.opts.MaxJobRetries); err != nil {
		return nil, fmt.Errorf("reclaim stale jobs: %w", err)
	}

	cred, err := e.db.GetDriveCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load drive credential: %w", err)
	}
	if !cred.Connected() {
		return nil, errors.New("google drive is not connected")
	}

	fresh, refreshed, err := e.drive.RefreshIfNeeded(ctx, cred)
	if err != nil {
		if errors.Is(err, core.ErrAuthRevoked) {
			return nil, e.failAuth(ctx, userID)
		}
		return nil, fmt.Errorf("refresh drive token: %w", err)
	}
	if refreshed {
		if err := e.db.UpsertDriveCredential(ctx, fresh); err != nil {
			return nil, fmt.Errorf("persist refreshed credential: %w", err)
		}
	}
	cred = fresh

	// Listing failure aborts the whole attempt; existing documents stay put.
	files, err := e.drive.ListFiles(ctx, cred)
	if err != nil {
		if errors.Is(err, core.ErrAuthRevoked) {
			return nil, e.failAuth(ctx, userID)
		}
		return nil, fmt.Errorf("list drive files: %w", err)
	}

	docs, err := e.db.ListDocumentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	diff := computeDiff(docs, files)

	toDelete := diff.toDelete
	if deletionGuardTriggered(len(docs), len(files), len(toDelete)) {
		log.Printf("sync: user %s: skipping %d suspicious deletions (%d stored, %d listed)",
			userID, len(toDelete), len(docs), len(files))
		toDelete = nil
	}

	plan := make(map[string]plannedFile, len(diff.toAdd)+len(diff.toUpdate))
	fileIDs := make([]string, 0, len(plan))
	for _, f := range diff.toAdd {
		plan[f.ID] = plannedFile{file: f}
		fileIDs = append(fileIDs, f.ID)
	}
	for _, u := range diff.toUpdate {
		doc := u.doc
		plan[u.file.ID] = plannedFile{file: u.file, doc: &doc}
		fileIDs = append(fileIDs, u.file.ID)
	}

	if err := e.db.ResetFileJobs(ctx, userID, fileIDs); err != nil {
		return nil, fmt.Errorf("reset file jobs: %w", err)
	}
	ok, err := e.db.BeginProcessing(ctx, userID, workerID, len(fileIDs))
	if err != nil {
		return nil, fmt.Errorf("begin processing: %w", err)
	}
	if !ok {
		return nil, ErrSyncCancelled
	}

	result := &models.SyncResult{}

	for _, doc := range toDelete {
		if err := e.db.DeleteDocument(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("delete document %s: %w", doc.ID, err)
		}
		e.dropArchive(ctx, userID, doc.ExternalFileID)
		result.Deleted++
	}

	for {
		// Cooperative cancellation: stop claiming once the state is failed
		// or owned by someone else.
		state, err := e.db.GetSyncState(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read sync state: %w", err)
		}
		if state == nil || state.Status != models.SyncStatusProcessing || state.WorkerID != workerID {
			return nil, ErrSyncCancelled
		}

		job, err := e.db.ClaimNextFileJob(ctx, userID, workerID)
		if err != nil {
			return nil, fmt.Errorf("claim file job: %w", err)
		}
		if job == nil {
			break
		}

		status, err := e.processJob(ctx, cred, userID, job, plan, result)
		if err != nil {
			// A single file's failure never aborts the user's sync.
			log.Printf("sync: user %s: file %s failed: %v", userID, job.ExternalFileID, err)
			_ = e.db.MarkFileJob(ctx, job.ID, workerID, models.JobStatusFailed, err.Error())
			_, _ = e.db.TouchSyncHeartbeat(ctx, userID, workerID, 0, 1)
			continue
		}
		_ = e.db.MarkFileJob(ctx, job.ID, workerID, status, "")
		_, _ = e.db.TouchSyncHeartbeat(ctx, userID, workerID, 1, 0)
	}

	ok, err = e.db.CompleteSyncState(ctx, userID, workerID, *result)
	if err != nil {
		return nil, fmt.Errorf("complete sync state: %w", err)
	}
	if !ok {
		return nil, ErrSyncCancelled
	}
	return result, nil
}

// processJob indexes one file. It returns the terminal job status, or an
// error scoped to this file only.
func (e *Engine) processJob(ctx context.Context, cred *models.DriveCredential, userID string, job *models.FileJob, plan map[string]plannedFile, result *models.SyncResult) (string, error) {
	p, ok := plan[job.ExternalFileID]
	if !ok {
		return "", fmt.Errorf("no planned action for file %s", job.ExternalFileID)
	}

	data, err := e.drive.ExportOrDownload(ctx, cred, p.file.ID, p.file.MimeType)
	if err != nil {
		return "", fmt.Errorf("fetch content: %w", err)
	}
	e.saveArchive(ctx, userID, p.file, data)

	text, err := e.extractor.ExtractText(data, p.file.MimeType)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	text = strings.TrimSpace(text)

	if p.doc == nil {
		return e.processAdd(ctx, userID, p.file, text, result)
	}
	return e.processUpdate(ctx, p, text, result)
}

func (e *Engine) processAdd(ctx context.Context, userID string, file models.RemoteFile, text string, result *models.SyncResult) (string, error) {
	if text == "" {
		return models.JobStatusSkipped, nil
	}

	// The placeholder timestamp is the incomplete-index marker: until the
	// final commit the document always looks older than remote.
	doc := &models.Document{
		ID:                 e.newID(),
		UserID:             userID,
		ExternalFileID:     file.ID,
		Title:              file.Name,
		FullText:           text,
		SourceModifiedTime: models.PlaceholderModifiedTime,
	}
	if err := e.db.CreateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	if err := e.indexChunks(ctx, doc.ID, text); err != nil {
		return "", err
	}

	// Commit point: only now does the document claim the remote timestamp.
	if err := e.db.CommitDocumentModifiedTime(ctx, doc.ID, file.ModifiedTime); err != nil {
		return "", fmt.Errorf("commit modified time: %w", err)
	}
	result.Added++
	return models.JobStatusCompleted, nil
}

func (e *Engine) processUpdate(ctx context.Context, p plannedFile, text string, result *models.SyncResult) (string, error) {
	// Remote file went empty or unreadable: drop the local document.
	if text == "" {
		if err := e.db.DeleteDocument(ctx, p.doc.ID); err != nil {
			return "", fmt.Errorf("delete emptied document: %w", err)
		}
		e.dropArchive(ctx, p.doc.UserID, p.doc.ExternalFileID)
		result.Deleted++
		return models.JobStatusCompleted, nil
	}

	// Full-replace semantics: all chunks go before any new one is written.
	if err := e.db.DeleteChunksByDocument(ctx, p.doc.ID); err != nil {
		return "", fmt.Errorf("delete old chunks: %w", err)
	}

	doc := *p.doc
	doc.Title = p.file.Name
	doc.FullText = text
	doc.SourceModifiedTime = models.PlaceholderModifiedTime
	if err := e.db.UpdateDocumentContent(ctx, &doc); err != nil {
		return "", fmt.Errorf("update document: %w", err)
	}

	if err := e.indexChunks(ctx, doc.ID, text); err != nil {
		return "", err
	}

	if err := e.db.CommitDocumentModifiedTime(ctx, doc.ID, p.file.ModifiedTime); err != nil {
		return "", fmt.Errorf("commit modified time: %w", err)
	}
	result.Updated++
	return models.JobStatusCompleted, nil
}

// indexChunks chunks the text and embeds/writes the rows in small groups so
// a crash loses at most one group's worth of work.
func (e *Engine) indexChunks(ctx context.Context, docID, text string) error {
	chunks := SplitText(text, e.opts.Chunk)

	for start := 0; start < len(chunks); start += e.opts.EmbedSubBatch {
		end := start + e.opts.EmbedSubBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		group := chunks[start:end]

		vecs, err := e.embedder.EmbedTexts(ctx, group)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != len(group) {
			return fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vecs), len(group))
		}

		rows := make([]models.DocumentChunk, len(group))
		for i := range group {
			rows[i] = models.DocumentChunk{
				ID:         e.newID(),
				DocumentID: docID,
				ChunkIndex: start + i,
				Text:       group[i],
				Embedding:  vecs[i],
			}
		}
		if err := e.db.InsertDocumentChunks(ctx, rows); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	return nil
}

// failAuth drops both tokens: a revoked grant means the refresh token is dead
// too, and keeping it would make every scheduled pass retry the same failed
// refresh. Documents are untouched; the user reconnects to resume syncing.
func (e *Engine) failAuth(ctx context.Context, userID string) error {
	_ = e.db.ClearDriveAccessToken(ctx, userID, true)
	return fmt.Errorf("%w: reconnect Google Drive to resume syncing", ErrAuthExpired)
}

func (e *Engine) saveArchive(ctx context.Context, userID string, file models.RemoteFile, data []byte) {
	if e.archive == nil {
		return
	}
	key := objectclient.ArchiveKey(userID, file.ID)
	if _, err := e.archive.UploadFile(ctx, e.bucket, key, data, file.MimeType); err != nil {
		// Best effort; the index never depends on the archive.
		log.Printf("sync: archive upload for %s failed: %v", key, err)
	}
}

func (e *Engine) dropArchive(ctx context.Context, userID, externalFileID string) {
	if e.archive == nil {
		return
	}
	key := objectclient.ArchiveKey(userID, externalFileID)
	if err := e.archive.DeleteFile(ctx, e.bucket, key); err != nil {
		log.Printf("sync: archive delete for %s failed: %v", key, err)
	}
}
