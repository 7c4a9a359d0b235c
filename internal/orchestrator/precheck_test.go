package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/orchestrator/catalog"
)

func floatPtr(f float64) *float64 { return &f }

func policyCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.Put("genai.policy", catalog.Scope{
		Fields: map[string]catalog.Field{
			"max_concurrent_requests": {Type: "integer", Min: floatPtr(1), Max: floatPtr(1000)},
			"provider":                {Type: "string", Options: []interface{}{"openai", "anthropic"}},
			"temperature":             {Type: "number", Min: floatPtr(0), Max: floatPtr(2)},
			"enabled":                 {Type: "boolean"},
			"models":                  {Type: "array", Options: []interface{}{"gpt", "claude"}},
			"frozen":                  {Type: "string", Options: []interface{}{}},
		},
	})
	return cat
}

func TestPreCheckPasses(t *testing.T) {
	p := NewPreChecker(policyCatalog())
	err := p.Check("genai.policy", map[string]interface{}{
		"max_concurrent_requests": float64(500),
		"provider":                "openai",
		"temperature":             0.7,
		"enabled":                 true,
		"models":                  []interface{}{"gpt", "claude"},
	})
	assert.NoError(t, err)
}

func TestPreCheckBoundViolation(t *testing.T) {
	p := NewPreChecker(policyCatalog())

	err := p.Check("genai.policy", map[string]interface{}{
		"max_concurrent_requests": float64(2000),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodePreCheckFailed))
	// The message names the scope, field, offending value, and bound.
	assert.Contains(t, err.Error(), "genai.policy")
	assert.Contains(t, err.Error(), "max_concurrent_requests")
	assert.Contains(t, err.Error(), "2000")
	assert.Contains(t, err.Error(), "1000")

	err = p.Check("genai.policy", map[string]interface{}{
		"max_concurrent_requests": float64(0),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum")
}

func TestPreCheckTypeViolations(t *testing.T) {
	p := NewPreChecker(policyCatalog())

	t.Run("string for integer", func(t *testing.T) {
		err := p.Check("genai.policy", map[string]interface{}{
			"max_concurrent_requests": "many",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodePreCheckFailed))
	})

	t.Run("fractional float for integer", func(t *testing.T) {
		err := p.Check("genai.policy", map[string]interface{}{
			"max_concurrent_requests": 10.5,
		})
		require.Error(t, err)
	})

	t.Run("whole float accepted as integer", func(t *testing.T) {
		err := p.Check("genai.policy", map[string]interface{}{
			"max_concurrent_requests": float64(10),
		})
		assert.NoError(t, err)
	})

	t.Run("integer accepted as number", func(t *testing.T) {
		err := p.Check("genai.policy", map[string]interface{}{
			"temperature": 1,
		})
		assert.NoError(t, err)
	})
}

func TestPreCheckEnumerations(t *testing.T) {
	p := NewPreChecker(policyCatalog())

	err := p.Check("genai.policy", map[string]interface{}{"provider": "azure"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")

	t.Run("array elements checked individually", func(t *testing.T) {
		err := p.Check("genai.policy", map[string]interface{}{
			"models": []interface{}{"gpt", "llama"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llama")
	})

	t.Run("declared-empty options reject every value", func(t *testing.T) {
		err := p.Check("genai.policy", map[string]interface{}{"frozen": "anything"})
		require.Error(t, err)
	})
}

func TestPreCheckUnknownScopeAndField(t *testing.T) {
	p := NewPreChecker(policyCatalog())

	err := p.Check("nonexistent.scope", map[string]interface{}{"x": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodePreCheckFailed))

	err = p.Check("genai.policy", map[string]interface{}{"surprise": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surprise")
}

func TestPreCheckEmptyConfig(t *testing.T) {
	p := NewPreChecker(policyCatalog())
	assert.NoError(t, p.Check("genai.policy", nil))
	assert.NoError(t, p.Check("genai.policy", map[string]interface{}{}))
}
