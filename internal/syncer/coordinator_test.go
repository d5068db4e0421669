package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/models"
)

func TestRunAllAggregatesPerUserOutcomes(t *testing.T) {
	db := newFakeDB()
	drive := newFakeDrive()
	e := newTestEngine(db, drive, &fakeEmbedder{})
	c := NewCoordinator(db, e, 2)

	// u1 syncs one new file.
	seedCredential(db, "u1")
	drive.filesByUser["u1"] = []models.RemoteFile{
		{ID: "f1", Name: "Doc", ModifiedTime: testClock.Add(-time.Hour)},
	}
	drive.content["f1"] = "some content"

	// u2 already has a live sync.
	seedCredential(db, "u2")
	db.states["u2"] = &models.SyncState{
		UserID:      "u2",
		Status:      models.SyncStatusProcessing,
		WorkerID:    "other",
		HeartbeatAt: testClock,
	}

	// u3's grant was revoked.
	seedCredential(db, "u3")
	drive.refreshErrFor["u3"] = core.ErrAuthRevoked

	// u4 never connected Drive and must not be visited at all.
	db.creds["u4"] = &models.DriveCredential{UserID: "u4"}

	summary, err := c.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	if summary.Users != 3 {
		t.Errorf("users = %d, want 3 connected", summary.Users)
	}
	if summary.Synced != 1 {
		t.Errorf("synced = %d, want 1", summary.Synced)
	}
	if summary.AlreadySyncing != 1 {
		t.Errorf("alreadySyncing = %d, want 1", summary.AlreadySyncing)
	}
	if summary.AuthFailures != 1 {
		t.Errorf("authFailures = %d, want 1", summary.AuthFailures)
	}
	if summary.Errors != 0 {
		t.Errorf("errors = %d, want 0", summary.Errors)
	}
	if summary.Totals != (models.SyncResult{Added: 1}) {
		t.Errorf("totals = %+v", summary.Totals)
	}
}

func TestRunAllWithNoConnectedUsers(t *testing.T) {
	db := newFakeDB()
	drive := newFakeDrive()
	e := newTestEngine(db, drive, &fakeEmbedder{})
	c := NewCoordinator(db, e, 4)

	summary, err := c.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if summary.Users != 0 || summary.Synced != 0 {
		t.Errorf("summary = %+v, want empty", summary)
	}
}
