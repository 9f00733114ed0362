// Package staging materializes job folders on cluster filesystems. An
// executable or data folder starts as a source descriptor (a registered git
// repository, a folder on the supervisor host, or a Globus path) and ends
// as a directory inside the job's remote workspace. Git-backed folders are
// built through a per-cluster zip cache so repeated submissions of the same
// model skip the transfer.
package staging

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Source kinds.
const (
	SourceGit    = "git"
	SourceLocal  = "local"
	SourceGlobus = "globus"
	SourceEmpty  = "empty"
)

// Source describes where a job folder's content comes from.
type Source struct {
	Type string `json:"type"`

	// GitID references a registered repository (Type == "git").
	GitID string `json:"git_id,omitempty"`

	// LocalPath is a directory on the supervisor host (Type == "local").
	LocalPath string `json:"local_path,omitempty"`

	// Globus fields name a folder on a user-accessible collection
	// (Type == "globus").
	GlobusEndpoint string `json:"globus_endpoint,omitempty"`
	GlobusPath     string `json:"globus_path,omitempty"`
}

// ParseSource decodes a stored source descriptor. An empty descriptor is the
// empty source.
func ParseSource(raw string) (Source, error) {
	if strings.TrimSpace(raw) == "" {
		return Source{Type: SourceEmpty}, nil
	}

	var src Source
	if err := json.Unmarshal([]byte(raw), &src); err != nil {
		return Source{}, fmt.Errorf("staging: parse source: %w", err)
	}
	if err := src.Validate(); err != nil {
		return Source{}, err
	}
	return src, nil
}

// Validate checks the descriptor's type-specific fields.
func (s Source) Validate() error {
	switch s.Type {
	case SourceGit:
		if s.GitID == "" {
			return fmt.Errorf("staging: git source requires git_id")
		}
	case SourceLocal:
		if s.LocalPath == "" {
			return fmt.Errorf("staging: local source requires local_path")
		}
	case SourceGlobus:
		if s.GlobusEndpoint == "" || s.GlobusPath == "" {
			return fmt.Errorf("staging: globus source requires endpoint and path")
		}
	case SourceEmpty:
	default:
		return fmt.Errorf("staging: unknown source type %q", s.Type)
	}
	return nil
}

// Fingerprint returns the source's cache identity on a cluster. Two sources
// with equal fingerprints may share one cached zip. Globus and empty
// sources are never cached and have no fingerprint.
func (s Source) Fingerprint() string {
	switch s.Type {
	case SourceGit:
		return "git-" + s.GitID
	case SourceLocal:
		return "local-" + sanitize(path.Base(s.LocalPath))
	default:
		return ""
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
