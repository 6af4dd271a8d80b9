package keybackend_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sagarc03/sitehost/keybackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeysFromFile_ValidJSON(t *testing.T) {
	t.Parallel()

	content := `[
		{"id": "deploy-bot", "token": "d3ploy/T0ken+with=chars"},
		{"id": "ci", "token": "ci-token"}
	]`

	path := writeTestFile(t, "keys.json", content)

	keys, err := keybackend.LoadKeysFromFile(path)
	require.NoError(t, err)

	assert.Len(t, keys, 2)
	assert.Equal(t, "deploy-bot", keys["d3ploy/T0ken+with=chars"])
	assert.Equal(t, "ci", keys["ci-token"])
}

func TestLoadKeysFromFile_ValidYAML(t *testing.T) {
	t.Parallel()

	content := `
- id: deploy-bot
  token: yaml-token
- id: ci
  token: "quoted: token"
`

	for _, name := range []string{"keys.yaml", "keys.YML"} {
		path := writeTestFile(t, name, content)

		keys, err := keybackend.LoadKeysFromFile(path)
		require.NoError(t, err, name)

		assert.Len(t, keys, 2)
		assert.Equal(t, "deploy-bot", keys["yaml-token"])
		assert.Equal(t, "ci", keys["quoted: token"])
	}
}

func TestLoadKeysFromFile_EmptyArray(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t, "keys.json", `[]`)

	keys, err := keybackend.LoadKeysFromFile(path)
	require.NoError(t, err)

	assert.Empty(t, keys)
}

func TestLoadKeysFromFile_SkipsEmptyKeys(t *testing.T) {
	t.Parallel()

	content := `[
		{"id": "", "token": "token1"},
		{"id": "key2", "token": ""},
		{"id": "", "token": ""},
		{"id": "valid", "token": "valid_token"}
	]`

	path := writeTestFile(t, "keys.json", content)

	keys, err := keybackend.LoadKeysFromFile(path)
	require.NoError(t, err)

	assert.Len(t, keys, 1)
	assert.Equal(t, "valid", keys["valid_token"])
}

func TestLoadKeysFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := keybackend.LoadKeysFromFile("/nonexistent/path/keys.json")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read keys file")
}

func TestLoadKeysFromFile_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "not json", file: "keys.json", content: "this is not json"},
		{name: "json object instead of array", file: "keys.json", content: `{"id": "key", "token": "secret"}`},
		{name: "malformed json", file: "keys.json", content: `[{"id": "key", "token": "secret"`},
		{name: "array of strings", file: "keys.json", content: `["key1", "key2"]`},
		{name: "yaml mapping instead of list", file: "keys.yaml", content: "id: key\ntoken: secret\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeTestFile(t, tt.file, tt.content)

			_, err := keybackend.LoadKeysFromFile(path)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "parse keys file")
		})
	}
}

func TestLoadKeysFromFile_DuplicateTokens(t *testing.T) {
	t.Parallel()

	content := `[
		{"id": "first", "token": "DUPLICATE"},
		{"id": "second", "token": "DUPLICATE"}
	]`

	path := writeTestFile(t, "keys.json", content)

	keys, err := keybackend.LoadKeysFromFile(path)
	require.NoError(t, err)

	assert.Len(t, keys, 1)
	// Last one wins
	assert.Equal(t, "second", keys["DUPLICATE"])
}

// writeTestFile is a test helper that creates a temporary file with the given content
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)

	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}
