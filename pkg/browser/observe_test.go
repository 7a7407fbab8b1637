package browser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<!DOCTYPE html>
<html>
<head><title>Sign in</title><style>body{color:red}</style></head>
<body>
  <script>window.secret = "token";</script>
  <!-- build 42 -->
  <h1>Welcome back</h1>
  <form>
    <input type="hidden" name="csrf" value="abc">
    <input id="phone" type="tel" placeholder="Phone number">
    <input name="password" type="password">
    <select name="region"><option value="cn">China</option></select>
    <button type="submit">Log in</button>
    <button disabled>Disabled</button>
  </form>
  <a href="/forgot">Forgot password?</a>
</body>
</html>`

func TestCleanHTML(t *testing.T) {
	cleaned, err := cleanHTML(loginPage)
	require.NoError(t, err)

	assert.Contains(t, cleaned, "Welcome back")
	assert.NotContains(t, cleaned, "window.secret")
	assert.NotContains(t, cleaned, "color:red")
	assert.NotContains(t, cleaned, "build 42")
	assert.NotContains(t, cleaned, "csrf")
}

func TestIndexElements(t *testing.T) {
	elements, err := indexElements(loginPage)
	require.NoError(t, err)

	joined := strings.Join(elements, "\n")
	assert.Contains(t, joined, "[input:tel] #phone")
	assert.Contains(t, joined, `input[name="password"]`)
	assert.Contains(t, joined, `select[name="region"]`)
	assert.Contains(t, joined, "text=Log in")
	assert.Contains(t, joined, "text=Forgot password?")
	assert.NotContains(t, joined, "csrf")
	assert.NotContains(t, joined, "Disabled")
}

func TestBuildObservation(t *testing.T) {
	obs := buildObservation("https://example.com/login", "Sign in", loginPage, "  Welcome back\nLog in  ")

	assert.Equal(t, "https://example.com/login", obs.URL)
	assert.Equal(t, "Sign in", obs.Title)
	assert.Equal(t, "Welcome back\nLog in", obs.Text)
	assert.Contains(t, obs.Content, "Welcome back")
	assert.NotContains(t, obs.Content, "window.secret")
	assert.NotEmpty(t, obs.Elements)
	assert.False(t, obs.CapturedAt.IsZero())
}

func TestBuildObservation_NoHTML(t *testing.T) {
	obs := buildObservation("about:blank", "", "", "")
	assert.Empty(t, obs.Content)
	assert.Empty(t, obs.Elements)
}

func TestScreenshotDir(t *testing.T) {
	base := t.TempDir()
	dir, err := NewScreenshotDir(base, "run-1")
	require.NoError(t, err)
	dir.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	assert.Equal(t, filepath.Join(base, "run-1"), dir.Root())

	first := dir.Path(2, "failed")
	assert.Equal(t, filepath.Join(base, "run-1", "step_02_20250304_050607_failed.png"), first)
	assert.Equal(t, filepath.Join(base, "run-1", "step_12_20250304_050607.png"), dir.Path(12, ""))

	require.NoError(t, os.WriteFile(first, []byte("png"), 0644))
	assert.Equal(t, filepath.Join(base, "run-1", "step_02_20250304_050607_failed_2.png"), dir.Path(2, "failed"))
}
