package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	middleware "github.com/harborml/drivesearch/internal/api/middlewares"
	"github.com/harborml/drivesearch/internal/core"
)

type SearchHandler struct {
	dbclient core.DbClient
	embedder core.EmbeddingProvider
}

func NewSearchHandler(dbclient core.DbClient, emb core.EmbeddingProvider) *SearchHandler {
	return &SearchHandler{dbclient: dbclient, embedder: emb}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Search embeds the query and returns the nearest chunks across all of the
// user's documents.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Limit > 50 {
		req.Limit = 50
	}

	vecs, err := h.embedder.EmbedTexts(r.Context(), []string{req.Query})
	if err != nil || len(vecs) == 0 {
		http.Error(w, fmt.Sprintf("embedding failed: %v", err), http.StatusInternalServerError)
		return
	}

	results, err := h.dbclient.SearchDocumentChunks(r.Context(), userID, vecs[0], req.Limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"query":   req.Query,
		"results": results,
	})
}
