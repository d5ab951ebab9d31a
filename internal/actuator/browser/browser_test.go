package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/autobid/internal/actuator"
)

const bidPage = `<!doctype html>
<html><body>
<form onsubmit="document.body.innerHTML = '<p>Your quote was submitted</p>'; return false;">
  <input name="amount">
  <textarea name="proposal"></textarea>
  <div class="screening-question"><label>Are you insured?</label><textarea></textarea></div>
  <button type="submit">Send</button>
</form>
</body></html>`

func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

func TestProfileDir(t *testing.T) {
	assert.Empty(t, ProfileDir("", "acme", "upwork"))
	assert.Equal(t, filepath.Join("/var/lib/autobid", "acme", "upwork"), ProfileDir("/var/lib/autobid", "acme", "upwork"))
}

func TestSession(t *testing.T) {
	execPath := findChrome(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(bidPage))
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := New(ctx, Options{Headless: true, ExecPath: execPath})
	require.NoError(t, err, "start browser")
	defer s.Close()

	require.NoError(t, s.Navigate(ctx, ts.URL+"/jobs/J1"), "navigate")
	u, _ := s.URL(ctx)
	assert.True(t, strings.HasSuffix(u, "/jobs/J1"), "unexpected url %q", u)

	amount, err := s.Find(ctx, "input[name=amount]")
	require.NoError(t, err, "find amount")
	require.NoError(t, s.Type(ctx, amount, "220"), "type")

	labels, err := s.FindAll(ctx, ".screening-question label")
	require.NoError(t, err, "find labels")
	require.Len(t, labels, 1)
	q, _ := s.Text(ctx, labels[0])
	assert.Equal(t, "Are you insured?", q)

	none, err := s.FindAll(ctx, ".does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, none)

	shortCtx, shortCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	_, err = s.Find(shortCtx, "#missing")
	shortCancel()
	assert.ErrorIs(t, err, actuator.ErrNotFound)

	submit, err := s.Find(ctx, "button[type=submit]")
	require.NoError(t, err, "find submit")
	require.NoError(t, s.Click(ctx, submit), "click")

	time.Sleep(200 * time.Millisecond)
	text, err := s.ReadText(ctx)
	require.NoError(t, err, "read text")
	assert.Contains(t, text, "submitted")
}
