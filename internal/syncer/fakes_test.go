package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harborml/drivesearch/internal/models"
)

// fakeDB is an in-memory DbClient whose sync-state and job methods keep the
// real conditional-update semantics, so the claim protocol is exercised for
// real instead of being stubbed away.
type fakeDB struct {
	mu sync.Mutex

	users  map[string]*models.User
	creds  map[string]*models.DriveCredential
	docs   map[string]*models.Document
	chunks map[string][]models.DocumentChunk
	states map[string]*models.SyncState
	jobs   map[string]*models.FileJob

	searchResults []models.SearchResult

	ops    []string
	jobSeq int

	afterMarkJob func()

	now func() time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:  make(map[string]*models.User),
		creds:  make(map[string]*models.DriveCredential),
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]models.DocumentChunk),
		states: make(map[string]*models.SyncState),
		jobs:   make(map[string]*models.FileJob),
		now:    time.Now,
	}
}

func (f *fakeDB) record(op string) {
	f.ops = append(f.ops, op)
}

func (f *fakeDB) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := *user
	f.users[user.Email] = &u
	return nil
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeDB) ListConnectedUserIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.creds {
		if c.Connected() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeDB) UpsertDriveCredential(_ context.Context, cred *models.DriveCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cred
	f.creds[cred.UserID] = &c
	return nil
}

func (f *fakeDB) GetDriveCredential(_ context.Context, userID string) (*models.DriveCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDB) ClearDriveAccessToken(_ context.Context, userID string, clearRefresh bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil
	}
	c.AccessToken = ""
	if clearRefresh {
		c.RefreshToken = ""
	}
	return nil
}

func (f *fakeDB) CreateDocument(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateDocument")
	d := *doc
	f.docs[doc.ID] = &d
	return nil
}

func (f *fakeDB) UpdateDocumentContent(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateDocumentContent")
	d := *doc
	f.docs[doc.ID] = &d
	return nil
}

func (f *fakeDB) CommitDocumentModifiedTime(_ context.Context, docID string, modifiedTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CommitDocumentModifiedTime")
	d, ok := f.docs[docID]
	if !ok {
		return fmt.Errorf("document %s not found", docID)
	}
	d.SourceModifiedTime = modifiedTime
	return nil
}

func (f *fakeDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDB) ListDocumentsByUser(_ context.Context, userID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDB) DeleteDocument(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteDocument")
	delete(f.docs, docID)
	delete(f.chunks, docID)
	return nil
}

func (f *fakeDB) DeleteChunksByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteChunksByDocument")
	delete(f.chunks, documentID)
	return nil
}

func (f *fakeDB) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("InsertDocumentChunks")
	for _, ch := range chunks {
		f.chunks[ch.DocumentID] = append(f.chunks[ch.DocumentID], ch)
	}
	return nil
}

func (f *fakeDB) SearchDocumentChunks(_ context.Context, _ string, _ []float32, _ int) ([]models.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchResults, nil
}

func (f *fakeDB) GetSyncState(_ context.Context, userID string) (*models.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeDB) ClaimSyncState(_ context.Context, userID, workerID string, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[userID]
	if !ok {
		s = &models.SyncState{UserID: userID, Status: models.SyncStatusIdle}
		f.states[userID] = s
	}
	claimable := s.Status == models.SyncStatusIdle ||
		s.Status == models.SyncStatusCompleted ||
		s.Status == models.SyncStatusFailed ||
		s.HeartbeatAt.Before(staleBefore)
	if !claimable {
		return false, nil
	}
	now := f.now()
	s.Status = models.SyncStatusDiscovering
	s.WorkerID = workerID
	s.HeartbeatAt = now
	s.StartedAt = &now
	s.CompletedAt = nil
	s.TotalDiscovered = 0
	s.Processed = 0
	s.Failed = 0
	s.Error = ""
	return true, nil
}

func (f *fakeDB) BeginProcessing(_ context.Context, userID, workerID string, totalDiscovered int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[userID]
	if !ok || s.WorkerID != workerID || s.Status != models.SyncStatusDiscovering {
		return false, nil
	}
	s.Status = models.SyncStatusProcessing
	s.TotalDiscovered = totalDiscovered
	s.HeartbeatAt = f.now()
	return true, nil
}

func (f *fakeDB) TouchSyncHeartbeat(_ context.Context, userID, workerID string, processedDelta, failedDelta int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[userID]
	if !ok || s.WorkerID != workerID || !s.Running() {
		return false, nil
	}
	s.HeartbeatAt = f.now()
	s.Processed += processedDelta
	s.Failed += failedDelta
	return true, nil
}

func (f *fakeDB) CompleteSyncState(_ context.Context, userID, workerID string, result models.SyncResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[userID]
	if !ok || s.WorkerID != workerID || s.Status != models.SyncStatusProcessing {
		return false, nil
	}
	now := f.now()
	s.Status = models.SyncStatusCompleted
	s.WorkerID = ""
	s.CompletedAt = &now
	s.LastResult = result
	return true, nil
}

func (f *fakeDB) FailSyncState(_ context.Context, userID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[userID]
	if !ok {
		s = &models.SyncState{UserID: userID}
		f.states[userID] = s
	}
	now := f.now()
	s.Status = models.SyncStatusFailed
	s.WorkerID = ""
	s.CompletedAt = &now
	s.Error = errMsg
	return nil
}

func (f *fakeDB) ResetFileJobs(_ context.Context, userID string, externalFileIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fileID := range externalFileIDs {
		var existing *models.FileJob
		for _, j := range f.jobs {
			if j.UserID == userID && j.ExternalFileID == fileID {
				existing = j
				break
			}
		}
		if existing == nil {
			f.jobSeq++
			existing = &models.FileJob{
				ID:             fmt.Sprintf("job-%d", f.jobSeq),
				UserID:         userID,
				ExternalFileID: fileID,
				CreatedAt:      time.Unix(int64(f.jobSeq), 0),
			}
			f.jobs[existing.ID] = existing
		}
		existing.Status = models.JobStatusPending
		existing.ClaimedBy = ""
		existing.ClaimedAt = nil
		existing.RetryCount = 0
		existing.Error = ""
	}
	return nil
}

func (f *fakeDB) ReclaimStaleFileJobs(_ context.Context, userID, workerID string, maxRetries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.UserID != userID || j.Status != models.JobStatusProcessing || j.ClaimedBy == workerID {
			continue
		}
		j.RetryCount++
		if j.RetryCount >= maxRetries {
			j.Status = models.JobStatusFailed
			j.Error = "retries exhausted"
		} else {
			j.Status = models.JobStatusPending
		}
		j.ClaimedBy = ""
		j.ClaimedAt = nil
	}
	return nil
}

func (f *fakeDB) ClaimNextFileJob(_ context.Context, userID, workerID string) (*models.FileJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.FileJob
	for _, j := range f.jobs {
		if j.UserID != userID || j.Status != models.JobStatusPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := f.now()
	oldest.Status = models.JobStatusProcessing
	oldest.ClaimedBy = workerID
	oldest.ClaimedAt = &now
	cp := *oldest
	return &cp, nil
}

func (f *fakeDB) MarkFileJob(_ context.Context, jobID, workerID, status, errMsg string) error {
	f.mu.Lock()
	j, ok := f.jobs[jobID]
	if !ok || j.ClaimedBy != workerID {
		f.mu.Unlock()
		return fmt.Errorf("file job not found or not owned: %s", jobID)
	}
	j.Status = status
	j.Error = errMsg
	hook := f.afterMarkJob
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeDB) Close() error { return nil }

// jobByFileID finds the single job row for one of the user's files.
func (f *fakeDB) jobByFileID(userID, fileID string) *models.FileJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.UserID == userID && j.ExternalFileID == fileID {
			cp := *j
			return &cp
		}
	}
	return nil
}

func (f *fakeDB) docByFileID(userID, fileID string) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.UserID == userID && d.ExternalFileID == fileID {
			cp := *d
			return &cp
		}
	}
	return nil
}

// fakeDrive serves canned listings and content, keyed per user so the
// coordinator tests can give each user a different Drive.
type fakeDrive struct {
	mu sync.Mutex

	filesByUser   map[string][]models.RemoteFile
	content       map[string]string
	downloadErr   map[string]error
	refreshErrFor map[string]error
	listErr       error
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		filesByUser:   make(map[string][]models.RemoteFile),
		content:       make(map[string]string),
		downloadErr:   make(map[string]error),
		refreshErrFor: make(map[string]error),
	}
}

func (d *fakeDrive) RefreshIfNeeded(_ context.Context, cred *models.DriveCredential) (*models.DriveCredential, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refreshErrFor[cred.UserID]; err != nil {
		return nil, false, err
	}
	return cred, false, nil
}

func (d *fakeDrive) ListFiles(_ context.Context, cred *models.DriveCredential) ([]models.RemoteFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return append([]models.RemoteFile(nil), d.filesByUser[cred.UserID]...), nil
}

func (d *fakeDrive) ExportOrDownload(_ context.Context, _ *models.DriveCredential, fileID, _ string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.downloadErr[fileID]; err != nil {
		return nil, err
	}
	text, ok := d.content[fileID]
	if !ok {
		return nil, errors.New("file content not found")
	}
	return []byte(text), nil
}

// fakeEmbedder returns one small deterministic vector per text and records
// batch sizes so tests can check the write granularity.
type fakeEmbedder struct {
	mu         sync.Mutex
	batchSizes []int
	err        error
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.batchSizes = append(e.batchSizes, len(texts))
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t)), float32(i)}
	}
	return vecs, nil
}

// fakeExtractor treats downloaded bytes as plain text.
type fakeExtractor struct {
	err error
}

func (e *fakeExtractor) ExtractText(data []byte, _ string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return string(data), nil
}
