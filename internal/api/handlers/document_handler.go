package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/harborml/drivesearch/internal/api/middlewares"
	"github.com/harborml/drivesearch/internal/core"
	objectclient "github.com/harborml/drivesearch/internal/core/object-client"
)

type DocumentHandler struct {
	dbclient     core.DbClient
	objectclient core.ObjectClient // nil when the archive is not configured
	bucket       string
}

func NewDocumentHandler(dbclient core.DbClient, objectclient core.ObjectClient, bucket string) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, objectclient: objectclient, bucket: bucket}
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	documents, err := h.dbclient.ListDocumentsByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	doc, err := h.dbclient.GetDocumentByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil || doc.UserID != userID {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// GetRawContent streams the archived original bytes for a document straight
// from object storage.
func (h *DocumentHandler) GetRawContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.objectclient == nil {
		http.Error(w, "raw content archive not configured", http.StatusNotFound)
		return
	}

	doc, err := h.dbclient.GetDocumentByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil || doc.UserID != userID {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	key := objectclient.ArchiveKey(userID, doc.ExternalFileID)
	body, err := h.objectclient.GetObjectReader(r.Context(), h.bucket, key)
	if err != nil {
		http.Error(w, "raw content unavailable", http.StatusNotFound)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, body)
}
