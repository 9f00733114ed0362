package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/repositories"
)

// GitHandler manages the registry of git repositories jobs may stage
// executable folders from.
type GitHandler struct {
	gits   repositories.GitRepository
	logger *zap.Logger
}

// NewGitHandler builds a GitHandler.
func NewGitHandler(gits repositories.GitRepository, logger *zap.Logger) *GitHandler {
	return &GitHandler{gits: gits, logger: logger}
}

type gitRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type gitResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Sha     string `json:"sha,omitempty"`
}

func toGitResponse(g *db.Git) gitResponse {
	return gitResponse{ID: g.ID, Address: g.Address, Sha: g.Sha}
}

// List returns every registered repository.
func (h *GitHandler) List(w http.ResponseWriter, r *http.Request) {
	gits, err := h.gits.List(r.Context())
	if err != nil {
		h.logger.Error("list gits", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]gitResponse, 0, len(gits))
	for i := range gits {
		items = append(items, toGitResponse(&gits[i]))
	}
	Ok(w, items)
}

// Create registers a repository under a caller-chosen id.
func (h *GitHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req gitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || strings.TrimSpace(req.Address) == "" {
		ErrUnprocessable(w, "id and address are required")
		return
	}

	git := &db.Git{ID: req.ID, Address: req.Address}
	err := h.gits.Create(r.Context(), git)
	if errors.Is(err, repositories.ErrConflict) {
		ErrConflict(w, "git id already registered")
		return
	}
	if err != nil {
		h.logger.Error("create git", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, toGitResponse(git))
}

// GetByID returns one registered repository.
func (h *GitHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	git, err := h.gits.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repositories.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	if err != nil {
		h.logger.Error("get git", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, toGitResponse(git))
}

// Update changes a repository's address.
func (h *GitHandler) Update(w http.ResponseWriter, r *http.Request) {
	git, err := h.gits.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repositories.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	if err != nil {
		h.logger.Error("get git", zap.Error(err))
		ErrInternal(w)
		return
	}

	var req gitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		ErrUnprocessable(w, "address is required")
		return
	}

	git.Address = req.Address
	if err := h.gits.Update(r.Context(), git); err != nil {
		h.logger.Error("update git", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, toGitResponse(git))
}

// Delete removes a repository from the registry.
func (h *GitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.gits.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repositories.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	if err != nil {
		h.logger.Error("delete git", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
