package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	mw "github.com/segmenta/segmenta/internal/api/middleware"
	"github.com/segmenta/segmenta/internal/store"
	"github.com/segmenta/segmenta/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// --- mock KeyStore ---

type mockKeyStore struct {
	createFn func(ctx context.Context, key *models.APIKey) error
	listFn   func(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	revokeFn func(ctx context.Context, id, tenantID uuid.UUID) error
}

func (m *mockKeyStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if m.createFn != nil {
		return m.createFn(ctx, key)
	}
	return nil
}

func (m *mockKeyStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	if m.listFn != nil {
		return m.listFn(ctx, tenantID)
	}
	return nil, nil
}

func (m *mockKeyStore) RevokeAPIKey(ctx context.Context, id, tenantID uuid.UUID) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, id, tenantID)
	}
	return nil
}

func TestCreateKeyHandler_Success(t *testing.T) {
	tenantID := uuid.New()
	var saved *models.APIKey

	st := &mockKeyStore{
		createFn: func(ctx context.Context, key *models.APIKey) error {
			saved = key
			return nil
		},
	}

	h := NewCreateKeyHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"name":   "ci",
		"scopes": []string{"analyze", "admin"},
	}, tenantID))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	data := parseData(t, rec)
	rawKey, _ := data["raw_key"].(string)
	if !strings.HasPrefix(rawKey, "sg_") {
		t.Fatalf("raw key %q missing sg_ prefix", rawKey)
	}

	if saved == nil {
		t.Fatal("key was not stored")
	}
	if saved.TenantID != tenantID || saved.Name != "ci" {
		t.Errorf("stored key mismatch: %+v", saved)
	}
	if saved.KeyPrefix != rawKey[:mw.KeyPrefixLen] {
		t.Errorf("stored prefix %q does not match raw key", saved.KeyPrefix)
	}

	// Only the bcrypt hash is stored, and it verifies against the raw key.
	if saved.KeyHash == rawKey {
		t.Fatal("raw key must not be stored")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(saved.KeyHash), []byte(rawKey)); err != nil {
		t.Errorf("stored hash does not verify raw key: %v", err)
	}
}

func TestCreateKeyHandler_DefaultScopes(t *testing.T) {
	var saved *models.APIKey
	st := &mockKeyStore{
		createFn: func(ctx context.Context, key *models.APIKey) error {
			saved = key
			return nil
		},
	}

	h := NewCreateKeyHandler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/keys",
		map[string]any{"name": "reader"}, uuid.New()))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if len(saved.Scopes) != 1 || saved.Scopes[0] != "analyze" {
		t.Errorf("default scopes: got %v, want [analyze]", saved.Scopes)
	}
}

func TestCreateKeyHandler_NameRequired(t *testing.T) {
	h := NewCreateKeyHandler(&mockKeyStore{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{}, uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListKeysHandler_EmptyIsArray(t *testing.T) {
	h := NewListKeysHandler(&mockKeyStore{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodGet, "/api/v1/admin/keys", nil, uuid.New()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"data":[]`) {
		t.Errorf("empty listing must serialize as [], got %s", body)
	}
}

func TestRevokeKeyHandler_NotFound(t *testing.T) {
	st := &mockKeyStore{
		revokeFn: func(ctx context.Context, id, tenantID uuid.UUID) error {
			return store.ErrNotFound
		},
	}

	h := NewRevokeKeyHandler(st)
	rec := httptest.NewRecorder()
	id := uuid.New()
	r := jsonReq(t, http.MethodDelete, "/api/v1/admin/keys/"+id.String(), nil, uuid.New())
	h.ServeHTTP(rec, withURLParam(r, "keyID", id.String()))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := parseErr(t, rec); code != "KEY_NOT_FOUND" {
		t.Errorf("error code: got %q, want KEY_NOT_FOUND", code)
	}
}

func TestRevokeKeyHandler_Success(t *testing.T) {
	tenantID := uuid.New()
	id := uuid.New()
	called := false

	st := &mockKeyStore{
		revokeFn: func(ctx context.Context, gotID, gotTenant uuid.UUID) error {
			called = true
			if gotID != id || gotTenant != tenantID {
				t.Errorf("revoke called with id %s tenant %s", gotID, gotTenant)
			}
			return nil
		},
	}

	h := NewRevokeKeyHandler(st)
	rec := httptest.NewRecorder()
	r := jsonReq(t, http.MethodDelete, "/api/v1/admin/keys/"+id.String(), nil, tenantID)
	h.ServeHTTP(rec, withURLParam(r, "keyID", id.String()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !called {
		t.Error("revoke was never called")
	}
}
