package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/credentials"
)

// CredentialHandler registers user SSH logins for private-account clusters.
type CredentialHandler struct {
	guard  *credentials.Guard
	logger *zap.Logger
}

// NewCredentialHandler builds a CredentialHandler.
func NewCredentialHandler(guard *credentials.Guard, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{guard: guard, logger: logger}
}

type registerCredentialRequest struct {
	Hpc      string `json:"hpc"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// Register validates the login against the cluster and stores it. Only the
// returned id is ever persisted alongside jobs.
func (h *CredentialHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Hpc == "" || req.User == "" || req.Password == "" {
		ErrUnprocessable(w, "hpc, user and password are required")
		return
	}

	id, err := h.guard.Register(r.Context(), req.Hpc, req.User, req.Password)
	if err != nil {
		h.logger.Warn("credential registration rejected",
			zap.String("hpc", req.Hpc),
			zap.String("user", req.User),
			zap.Error(err))
		ErrUnprocessable(w, err.Error())
		return
	}

	Created(w, envelope{"credential_id": id})
}
