package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	middleware "github.com/harborml/drivesearch/internal/api/middlewares"
	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/models"
	"github.com/harborml/drivesearch/internal/syncer"
)

// stubDB implements only the methods the handlers under test reach; the
// embedded interface panics loudly on anything unexpected.
type stubDB struct {
	core.DbClient

	state      *models.SyncState
	cred       *models.DriveCredential
	failedWith string
}

func (s *stubDB) GetSyncState(_ context.Context, _ string) (*models.SyncState, error) {
	return s.state, nil
}

func (s *stubDB) GetDriveCredential(_ context.Context, _ string) (*models.DriveCredential, error) {
	return s.cred, nil
}

func (s *stubDB) FailSyncState(_ context.Context, _ string, errMsg string) error {
	s.failedWith = errMsg
	s.state.Status = models.SyncStatusFailed
	return nil
}

// The background goroutine spawned by Trigger lands here; refusing the claim
// ends it immediately.
func (s *stubDB) ClaimSyncState(_ context.Context, _, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func newSyncHandler(db *stubDB) *SyncHandler {
	engine := syncer.NewEngine(db, nil, nil, nil, nil, "", syncer.DefaultOptions())
	return NewSyncHandler(db, engine)
}

func authedRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	return r.WithContext(middleware.WithUserID(r.Context(), "user-1"))
}

func TestTriggerWithoutDriveConnection(t *testing.T) {
	db := &stubDB{}
	h := newSyncHandler(db)

	w := httptest.NewRecorder()
	h.Trigger(w, authedRequest(http.MethodPost, "/api/sync"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTriggerConflictsWhileRunning(t *testing.T) {
	db := &stubDB{
		cred: &models.DriveCredential{UserID: "user-1", AccessToken: "tok"},
		state: &models.SyncState{
			UserID:      "user-1",
			Status:      models.SyncStatusProcessing,
			HeartbeatAt: time.Now(),
		},
	}
	h := newSyncHandler(db)

	w := httptest.NewRecorder()
	h.Trigger(w, authedRequest(http.MethodPost, "/api/sync"))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestTriggerAcceptsWhenIdle(t *testing.T) {
	db := &stubDB{
		cred: &models.DriveCredential{UserID: "user-1", AccessToken: "tok"},
	}
	h := newSyncHandler(db)

	w := httptest.NewRecorder()
	h.Trigger(w, authedRequest(http.MethodPost, "/api/sync"))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
}

func TestTriggerAcceptsWhenHeartbeatIsStale(t *testing.T) {
	db := &stubDB{
		cred: &models.DriveCredential{UserID: "user-1", AccessToken: "tok"},
		state: &models.SyncState{
			UserID:      "user-1",
			Status:      models.SyncStatusProcessing,
			HeartbeatAt: time.Now().Add(-time.Hour),
		},
	}
	h := newSyncHandler(db)

	w := httptest.NewRecorder()
	h.Trigger(w, authedRequest(http.MethodPost, "/api/sync"))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 when the old worker is dead", w.Code)
	}
}

func TestStatusDefaultsToIdle(t *testing.T) {
	db := &stubDB{}
	h := newSyncHandler(db)

	w := httptest.NewRecorder()
	h.Status(w, authedRequest(http.MethodGet, "/api/sync/status"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"idle"`) {
		t.Errorf("body = %s, want idle state", body)
	}
	if !strings.Contains(body, `"worker_alive":false`) {
		t.Errorf("body = %s, want worker_alive false", body)
	}
}

func TestCancelRunningSync(t *testing.T) {
	db := &stubDB{
		state: &models.SyncState{
			UserID:      "user-1",
			Status:      models.SyncStatusProcessing,
			HeartbeatAt: time.Now(),
		},
	}
	h := newSyncHandler(db)

	w := httptest.NewRecorder()
	h.Cancel(w, authedRequest(http.MethodPost, "/api/sync/cancel"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if db.failedWith != "cancelled by user" {
		t.Errorf("fail reason = %q", db.failedWith)
	}
}

func TestCancelWithoutRunningSync(t *testing.T) {
	db := &stubDB{}
	h := newSyncHandler(db)

	w := httptest.NewRecorder()
	h.Cancel(w, authedRequest(http.MethodPost, "/api/sync/cancel"))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}
