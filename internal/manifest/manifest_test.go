package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	raw := []byte(`{
		"name": "hello",
		"container": "python:3.11",
		"pre_processing_stage": "python prepare.py",
		"execution_stage": "python main.py",
		"post_processing_stage": "python report.py",
		"default_result_folder_downloadable_path": "/out.csv"
	}`)

	m, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Name)
	assert.Equal(t, "python:3.11", m.Container)
	assert.Equal(t, "/out.csv", m.DefaultResultPath)
	assert.Equal(t, []string{"python prepare.py", "python main.py", "python report.py"}, m.Stages())
}

func TestParse_MissingContainer(t *testing.T) {
	_, err := Parse([]byte(`{"execution_stage": "python main.py"}`))
	assert.Error(t, err)
}

func TestParse_MissingExecutionStage(t *testing.T) {
	_, err := Parse([]byte(`{"container": "python:3.11"}`))
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{`))
	assert.Error(t, err)
}

func TestStages_SkipsEmptyStages(t *testing.T) {
	m := &Manifest{Container: "img", ExecutionStage: "run", PostProcessingStage: "  "}
	assert.Equal(t, []string{"run"}, m.Stages())
}
