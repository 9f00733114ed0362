// Package manifest parses the manifest.json a community executable folder
// must carry at its root. The manifest names the container image the job
// runs in and the shell lines of its processing stages.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileName is the required manifest location inside an executable folder.
const FileName = "manifest.json"

// Manifest describes how to run one community executable.
type Manifest struct {
	Name        string `json:"name"`
	Container   string `json:"container"`
	Description string `json:"description,omitempty"`

	// Stage command lines. Only the execution stage is mandatory.
	PreProcessingStage  string `json:"pre_processing_stage,omitempty"`
	ExecutionStage      string `json:"execution_stage"`
	PostProcessingStage string `json:"post_processing_stage,omitempty"`

	// DefaultResultPath points at the file or directory inside the result
	// folder offered for download when the caller names none.
	DefaultResultPath string `json:"default_result_folder_downloadable_path,omitempty"`
}

// Parse decodes and validates manifest bytes.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the mandatory fields.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Container) == "" {
		return fmt.Errorf("manifest: container is required")
	}
	if strings.TrimSpace(m.ExecutionStage) == "" {
		return fmt.Errorf("manifest: execution_stage is required")
	}
	return nil
}

// Stages returns the non-empty stage lines in execution order.
func (m *Manifest) Stages() []string {
	var stages []string
	for _, s := range []string{m.PreProcessingStage, m.ExecutionStage, m.PostProcessingStage} {
		if strings.TrimSpace(s) != "" {
			stages = append(stages, s)
		}
	}
	return stages
}
