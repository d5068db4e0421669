package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	middleware "github.com/harborml/drivesearch/internal/api/middlewares"
	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/core/drive"
)

// DriveHandler runs the Google Drive connect flow: hand out a consent URL,
// take the callback, store the tokens.
type DriveHandler struct {
	dbclient  core.DbClient
	drive     *drive.Client
	jwtSecret string
}

func NewDriveHandler(dbclient core.DbClient, driveClient *drive.Client, jwtSecret string) *DriveHandler {
	return &DriveHandler{dbclient: dbclient, drive: driveClient, jwtSecret: jwtSecret}
}

// Connect returns the Google consent URL. The OAuth state is a short-lived
// signed token carrying the user id, since Google's redirect back to Callback
// arrives without our Authorization header.
func (h *DriveHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	state, err := h.signState(userID)
	if err != nil {
		http.Error(w, "could not create state token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"auth_url": h.drive.GenerateAuthURL(state)})
}

func (h *DriveHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, fmt.Sprintf("google consent denied: %s", errMsg), http.StatusBadRequest)
		return
	}

	userID, err := h.verifyState(r.URL.Query().Get("state"))
	if err != nil {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	cred, err := h.drive.ExchangeCode(r.Context(), userID, code)
	if err != nil {
		http.Error(w, fmt.Sprintf("exchange failed: %v", err), http.StatusBadGateway)
		return
	}

	if err := h.dbclient.UpsertDriveCredential(r.Context(), cred); err != nil {
		http.Error(w, "could not store credential", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"connected": true})
}

// Disconnect drops both tokens. Indexed documents stay searchable; only
// syncing stops until the user reconnects.
func (h *DriveHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.dbclient.ClearDriveAccessToken(r.Context(), userID, true); err != nil {
		http.Error(w, "could not disconnect", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"connected": false})
}

func (h *DriveHandler) Status(w http.ResponseWriter, r *http.Request) {
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

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"connected": cred.Connected()})
}

func (h *DriveHandler) signState(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"purpose": "drive_connect",
		"exp":     time.Now().Add(10 * time.Minute).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(h.jwtSecret))
}

func (h *DriveHandler) verifyState(state string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid state token")
	}
	if purpose, _ := claims["purpose"].(string); purpose != "drive_connect" {
		return "", fmt.Errorf("wrong token purpose")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("missing user id claim")
	}
	return userID, nil
}
