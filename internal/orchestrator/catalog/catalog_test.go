package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
genai.policy:
  description: Generative AI usage policy
  fields:
    max_concurrent_requests:
      type: integer
      min: 1
      max: 1000
    provider:
      type: string
      options: [openai, anthropic]
logging.retention:
  fields:
    days:
      type: integer
      min: 1
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scopes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cat, err := Load(writeCatalog(t, sampleYAML))
	require.NoError(t, err)

	scope, ok := cat.Scope("genai.policy")
	require.True(t, ok)
	assert.Equal(t, "Generative AI usage policy", scope.Description)

	field, ok := scope.Fields["max_concurrent_requests"]
	require.True(t, ok)
	assert.Equal(t, "integer", field.Type)
	require.NotNil(t, field.Min)
	require.NotNil(t, field.Max)
	assert.Equal(t, float64(1), *field.Min)
	assert.Equal(t, float64(1000), *field.Max)

	provider := scope.Fields["provider"]
	assert.Len(t, provider.Options, 2)

	assert.ElementsMatch(t, []string{"genai.policy", "logging.retention"}, cat.Names())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeCatalog(t, "scope:\n  fields: ["))
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cat, err := Load(writeCatalog(t, ""))
	require.NoError(t, err)
	assert.Empty(t, cat.Names())
}

func TestPutAndScope(t *testing.T) {
	cat := New()
	cat.Put("x", Scope{Fields: map[string]Field{"a": {Type: "string"}}})

	scope, ok := cat.Scope("x")
	require.True(t, ok)
	assert.Equal(t, "string", scope.Fields["a"].Type)

	_, ok = cat.Scope("missing")
	assert.False(t, ok)
}

func TestOptionsDistinguishNilFromEmpty(t *testing.T) {
	cat, err := Load(writeCatalog(t, `
s:
  fields:
    open:
      type: string
    closed:
      type: string
      options: []
`))
	require.NoError(t, err)

	scope, ok := cat.Scope("s")
	require.True(t, ok)
	assert.Nil(t, scope.Fields["open"].Options)
	require.NotNil(t, scope.Fields["closed"].Options)
	assert.Empty(t, scope.Fields["closed"].Options)
}
