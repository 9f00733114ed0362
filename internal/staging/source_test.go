package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource_EmptyDescriptor(t *testing.T) {
	src, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, src.Type)

	src, err = ParseSource("   ")
	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, src.Type)
}

func TestParseSource_Git(t *testing.T) {
	src, err := ParseSource(`{"type":"git","git_id":"hello_world"}`)
	require.NoError(t, err)
	assert.Equal(t, SourceGit, src.Type)
	assert.Equal(t, "hello_world", src.GitID)
}

func TestParseSource_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"git without id", `{"type":"git"}`},
		{"local without path", `{"type":"local"}`},
		{"globus without endpoint", `{"type":"globus","globus_path":"/data"}`},
		{"unknown type", `{"type":"ftp"}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSource(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "git-hello", Source{Type: SourceGit, GitID: "hello"}.Fingerprint())
	assert.Equal(t, "local-my_model", Source{Type: SourceLocal, LocalPath: "/srv/models/my_model"}.Fingerprint())
	assert.Empty(t, Source{Type: SourceGlobus}.Fingerprint())
	assert.Empty(t, Source{Type: SourceEmpty}.Fingerprint())
}

func TestFingerprint_SanitizesBasename(t *testing.T) {
	src := Source{Type: SourceLocal, LocalPath: "/srv/my model (v2)"}
	assert.Equal(t, "local-my_model__v2_", src.Fingerprint())
}
