package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/models"
)

type authStubDB struct {
	core.DbClient
	users map[string]*models.User
}

func (s *authStubDB) CreateUser(_ context.Context, user *models.User) error {
	if _, exists := s.users[user.Email]; exists {
		return fmt.Errorf("duplicate email")
	}
	u := *user
	s.users[user.Email] = &u
	return nil
}

func (s *authStubDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return s.users[email], nil
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodPost, target, bytes.NewReader(b)))
	return w
}

func TestSignupThenLogin(t *testing.T) {
	db := &authStubDB{users: make(map[string]*models.User)}
	h := NewAuthHandler(db, "test-secret")
	creds := map[string]string{"email": "a@b.com", "password": "hunter22"}

	w := postJSON(t, h.Signup, "/api/signup", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("signup status = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["token"] == "" {
		t.Fatalf("signup response %q has no token", w.Body.String())
	}

	w = postJSON(t, h.Login, "/api/login", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	db := &authStubDB{users: make(map[string]*models.User)}
	h := NewAuthHandler(db, "test-secret")
	creds := map[string]string{"email": "a@b.com", "password": "hunter22"}

	postJSON(t, h.Signup, "/api/signup", creds)
	w := postJSON(t, h.Signup, "/api/signup", creds)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	db := &authStubDB{users: make(map[string]*models.User)}
	h := NewAuthHandler(db, "test-secret")

	postJSON(t, h.Signup, "/api/signup", map[string]string{"email": "a@b.com", "password": "right"})
	w := postJSON(t, h.Login, "/api/login", map[string]string{"email": "a@b.com", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	db := &authStubDB{users: make(map[string]*models.User)}
	h := NewAuthHandler(db, "test-secret")

	w := postJSON(t, h.Login, "/api/login", map[string]string{"email": "nobody@b.com", "password": "x"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
