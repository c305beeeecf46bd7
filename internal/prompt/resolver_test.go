package prompt

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/insight-agent/internal/insight"
)

const testPrompts = `
budget_coach: |
  Coach the customer.
  {transactions}
spending_analyze: |
  Analyze spending.
  {transactions}
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(testPrompts))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"budget_coach", "spending_analyze"}, r.Names())
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse([]byte(""))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPrompts), 0o644))

	r, err := Load(path)
	require.NoError(t, err)

	spec, err := r.Resolve("budget_coach")
	require.NoError(t, err)
	assert.Equal(t, "budget_coach", spec.Name)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), spec.Hash)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolve_UnknownName(t *testing.T) {
	r, err := Parse([]byte(testPrompts))
	require.NoError(t, err)

	_, err = r.Resolve("fraud_detect")
	require.Error(t, err)
	assert.Equal(t, insight.KindConfiguration, insight.ClassOf(err))
}

func TestContentHash_TracksContent(t *testing.T) {
	a := ContentHash("prompt v1")
	b := ContentHash("prompt v2")
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ContentHash("prompt v1"))
}

func TestSpec_Tag(t *testing.T) {
	spec := Spec{Name: "budget_coach", Hash: "deadbeef"}
	assert.Equal(t, "budget_coach@deadbeef", spec.Tag())
}

func TestSpec_Render(t *testing.T) {
	spec := Spec{Name: "x", Text: "Before {transactions} after"}
	assert.Equal(t, `Before {"rows":[]} after`, spec.Render(`{"rows":[]}`))
}
