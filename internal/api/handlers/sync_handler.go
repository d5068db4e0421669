package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	middleware "github.com/harborml/drivesearch/internal/api/middlewares"
	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/models"
	"github.com/harborml/drivesearch/internal/syncer"
)

type SyncHandler struct {
	dbclient core.DbClient
	engine   *syncer.Engine
}

func NewSyncHandler(dbclient core.DbClient, engine *syncer.Engine) *SyncHandler {
	return &SyncHandler{dbclient: dbclient, engine: engine}
}

// Trigger kicks off a sync for the caller and returns immediately. The claim
// protocol decides the real winner; the pre-checks here only exist to give
// callers a useful status code without waiting for the sync to finish.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	cred, err := h.dbclient.GetDriveCredential(r.Context(), userID)
	if err != nil {
		http.Error(w, "could not load credential", http.StatusInternalServerError)
		return
	}
	if !cred.Connected() {
		http.Error(w, "google drive is not connected", http.StatusBadRequest)
		return
	}

	state, err := h.dbclient.GetSyncState(r.Context(), userID)
	if err != nil {
		http.Error(w, "could not load sync state", http.StatusInternalServerError)
		return
	}
	if state.Running() && !state.Stale(time.Now(), h.engine.HeartbeatTimeout()) {
		http.Error(w, "sync already in progress", http.StatusConflict)
		return
	}

	go func() {
		// Detached from the request: the sync outlives the HTTP call.
		if _, err := h.engine.SyncUser(context.Background(), userID); err != nil &&
			!errors.Is(err, syncer.ErrAlreadySyncing) {
			log.Printf("sync: user %s: %v", userID, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

type syncStatusResponse struct {
	*models.SyncState
	WorkerAlive bool `json:"worker_alive"`
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	state, err := h.dbclient.GetSyncState(r.Context(), userID)
	if err != nil {
		http.Error(w, "could not load sync state", http.StatusInternalServerError)
		return
	}
	if state == nil {
		state = &models.SyncState{UserID: userID, Status: models.SyncStatusIdle}
	}

	resp := syncStatusResponse{
		SyncState:   state,
		WorkerAlive: state.Running() && !state.Stale(time.Now(), h.engine.HeartbeatTimeout()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Cancel fails the sync state unconditionally; the running worker notices the
// lost ownership before claiming its next file and stops.
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	state, err := h.dbclient.GetSyncState(r.Context(), userID)
	if err != nil {
		http.Error(w, "could not load sync state", http.StatusInternalServerError)
		return
	}
	if !state.Running() {
		http.Error(w, "no sync in progress", http.StatusConflict)
		return
	}

	if err := h.dbclient.FailSyncState(r.Context(), userID, "cancelled by user"); err != nil {
		http.Error(w, "could not cancel", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}
