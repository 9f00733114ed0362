package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
)

func submitTestHandler() *JobHandler {
	cfg := &config.Config{
		Hpcs: map[string]config.Cluster{
			"hpc1": {
				IP:                 "10.0.0.1",
				RootPath:           "/work",
				IsCommunityAccount: true,
				SlurmInputRules:    config.SlurmCeiling{Memory: "10G", WallTime: "01:00:00"},
			},
		},
		Maintainers: map[string]config.MaintainerConfig{
			"hello": {Maintainer: "basic", DefaultHpc: "hpc1"},
		},
	}
	// Validation runs before any repository or supervisor access, so the
	// rejection paths need none of them.
	return NewJobHandler(cfg, nil, nil, nil, nil, nil, zap.NewNop())
}

func postSubmit(h *JobHandler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Submit(rec, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body)))
	return rec
}

func TestSubmit_RejectsOverCeilingRequest(t *testing.T) {
	h := submitTestHandler()

	rec := postSubmit(h, `{
		"maintainer": "hello",
		"executable_folder": {"type": "local", "local_path": "/models/hello"},
		"slurm": {"memory": "100G"}
	}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "memory")
}

func TestSubmit_RejectsMalformedSlurmValues(t *testing.T) {
	h := submitTestHandler()

	rec := postSubmit(h, `{
		"maintainer": "hello",
		"executable_folder": {"type": "local", "local_path": "/models/hello"},
		"slurm": {"time": "forever"}
	}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmit_RejectsUnknownMaintainer(t *testing.T) {
	h := submitTestHandler()

	rec := postSubmit(h, `{
		"maintainer": "nope",
		"executable_folder": {"type": "local", "local_path": "/models/hello"}
	}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
