package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeAccessRepo struct {
	allowed    bool
	denied     bool
	denyReason string
}

func (f *fakeAccessRepo) IsAllowed(_ context.Context, _ string) (bool, error) {
	return f.allowed, nil
}

func (f *fakeAccessRepo) IsDenied(_ context.Context, _ string) (bool, string, error) {
	return f.denied, f.denyReason, nil
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireUser_PassesIdentityThrough(t *testing.T) {
	var gotUser string
	handler := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = userFromCtx(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotUser)
}

func TestRequireUser_RejectsAnonymous(t *testing.T) {
	var called bool
	handler := RequireUser(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func accessRequest(t *testing.T, access *fakeAccessRepo) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	var called bool
	handler := RequireUser(CheckAccess(access, zap.NewNop())(okHandler(&called)))

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.Header.Set("X-User-Id", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, called
}

func TestCheckAccess_AllowedUser(t *testing.T) {
	rec, called := accessRequest(t, &fakeAccessRepo{allowed: true})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestCheckAccess_DeniedUserWinsOverAllowlist(t *testing.T) {
	rec, called := accessRequest(t, &fakeAccessRepo{allowed: true, denied: true, denyReason: "abuse"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "abuse")
	assert.False(t, called)
}

func TestCheckAccess_NotOnAllowlist(t *testing.T) {
	rec, called := accessRequest(t, &fakeAccessRepo{allowed: false})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}
