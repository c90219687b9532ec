package api

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// getFixturePath returns the shared envelope fixtures directory. The web
// client parses the same files in its own test suite.
func getFixturePath(t *testing.T) string {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "Failed to get caller info")

	// internal/api -> repository root
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	return filepath.Join(root, "testdata", "envelope")
}

func readFixture(t *testing.T, name string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(getFixturePath(t), name))
	require.NoError(t, err, "contract tests require the shared fixtures")

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func marshalToMap(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

// TestEnvelopeContract verifies the transformer emits exactly the key set
// of each fixture, with the same envelope-level values.
func TestEnvelopeContract(t *testing.T) {
	tests := []struct {
		fixture string
		status  string
		body    any
	}{
		{
			fixture: "success.json",
			status:  "200",
			body:    map[string]string{"id": "bk-V1StGXR8_Z5jdHi6", "title": "Persuasion"},
		},
		{
			fixture: "success_null_data.json",
			status:  "204",
			body:    nil,
		},
		{
			fixture: "error_simple.json",
			status:  "404",
			body:    &APIError{Code: string(domainerrors.CodeNotFound), Message: "Book Not Found"},
		},
		{
			fixture: "error_detailed.json",
			status:  "409",
			body: &APIError{
				Code:    string(domainerrors.CodeAuth),
				Kind:    string(domainerrors.KindDuplicate),
				Message: "User already registered",
				Details: map[string]string{"email": "reader@example.com"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			expected := readFixture(t, tt.fixture)

			result, err := EnvelopeTransformer(nil, tt.status, tt.body)
			require.NoError(t, err)
			got := marshalToMap(t, result)

			assert.Equal(t, expected, got)
		})
	}
}

// The version field must be named exactly "v"; clients key on it.
func TestEnvelopeContract_VersionFieldName(t *testing.T) {
	result, err := EnvelopeTransformer(nil, "200", nil)
	require.NoError(t, err)

	got := marshalToMap(t, result)
	assert.Contains(t, got, "v")
	assert.NotContains(t, got, "version")
	assert.NotContains(t, got, "Version")
}
