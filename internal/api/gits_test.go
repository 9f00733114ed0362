package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/repositories"
)

type fakeGitRepo struct {
	gits map[string]*db.Git
}

func newFakeGitRepo() *fakeGitRepo {
	return &fakeGitRepo{gits: map[string]*db.Git{}}
}

func (f *fakeGitRepo) Create(_ context.Context, git *db.Git) error {
	if _, ok := f.gits[git.ID]; ok {
		return repositories.ErrConflict
	}
	f.gits[git.ID] = git
	return nil
}

func (f *fakeGitRepo) GetByID(_ context.Context, id string) (*db.Git, error) {
	git, ok := f.gits[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *git
	return &copied, nil
}

func (f *fakeGitRepo) Update(_ context.Context, git *db.Git) error {
	if _, ok := f.gits[git.ID]; !ok {
		return repositories.ErrNotFound
	}
	f.gits[git.ID] = git
	return nil
}

func (f *fakeGitRepo) Delete(_ context.Context, id string) error {
	if _, ok := f.gits[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(f.gits, id)
	return nil
}

func (f *fakeGitRepo) List(_ context.Context) ([]db.Git, error) {
	var out []db.Git
	for _, git := range f.gits {
		out = append(out, *git)
	}
	return out, nil
}

func gitRouter(repo *fakeGitRepo) http.Handler {
	h := NewGitHandler(repo, zap.NewNop())
	r := chi.NewRouter()
	r.Route("/gits", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.GetByID)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
	return r
}

func TestGitHandler_CreateAndGet(t *testing.T) {
	router := gitRouter(newFakeGitRepo())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gits",
		strings.NewReader(`{"id": "hello_world", "address": "https://github.com/example/hello.git"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gits/hello_world", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://github.com/example/hello.git")
}

func TestGitHandler_CreateValidation(t *testing.T) {
	router := gitRouter(newFakeGitRepo())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gits",
		strings.NewReader(`{"id": "  ", "address": ""}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gits", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitHandler_CreateConflict(t *testing.T) {
	repo := newFakeGitRepo()
	repo.gits["taken"] = &db.Git{ID: "taken", Address: "https://example.com/a.git"}
	router := gitRouter(repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gits",
		strings.NewReader(`{"id": "taken", "address": "https://example.com/b.git"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGitHandler_UpdateAddress(t *testing.T) {
	repo := newFakeGitRepo()
	repo.gits["hello"] = &db.Git{ID: "hello", Address: "https://old.example.com/a.git"}
	router := gitRouter(repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/gits/hello",
		strings.NewReader(`{"address": "https://new.example.com/a.git"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://new.example.com/a.git", repo.gits["hello"].Address)
}

func TestGitHandler_GetMissing(t *testing.T) {
	router := gitRouter(newFakeGitRepo())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gits/absent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGitHandler_Delete(t *testing.T) {
	repo := newFakeGitRepo()
	repo.gits["hello"] = &db.Git{ID: "hello", Address: "https://example.com/a.git"}
	router := gitRouter(repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/gits/hello", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, repo.gits)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/gits/hello", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
