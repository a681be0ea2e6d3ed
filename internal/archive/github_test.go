package archive

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

func TestPath(t *testing.T) {
	ts := time.Date(2024, 5, 10, 14, 3, 9, 0, time.FixedZone("BRT", -3*3600))
	assert.Equal(t, "data/2024-05-10/170309-a1b2c3.json", Path(ts, "a1b2c3"))
}

func TestGitHubArchiver(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotAuth   string
		gotBody   struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"content":{"sha":"c0ffee"},"commit":{"sha":"deadbeef"}}`)
	}))
	defer srv.Close()

	a, err := NewGitHubArchiver(config.ArchiveConfig{
		Enabled:   true,
		Token:     "secret",
		RepoOwner: "acme",
		RepoName:  "audit",
		Branch:    "data",
		BaseURL:   srv.URL,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC) }
	a.suffix = func() string { return "xyz123" }

	p := submission.Payload{Classification: "Quase acidente", Intervention: "Bloqueio", CS: 1234}
	path, err := a.Archive(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, "data/2024-05-10/083000-xyz123.json", path)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.True(t, strings.HasSuffix(gotPath, "/repos/acme/audit/contents/"+path), gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "chore(data): save preenvio -> "+path, gotBody.Message)
	assert.Equal(t, "data", gotBody.Branch)

	content, err := base64.StdEncoding.DecodeString(gotBody.Content)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"intervencao": "Bloqueio"`)
	assert.True(t, strings.HasSuffix(string(content), "\n"))
}

func TestGitHubArchiverFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"sha wasn't supplied"}`)
	}))
	defer srv.Close()

	a, err := NewGitHubArchiver(config.ArchiveConfig{Token: "t", RepoOwner: "acme", RepoName: "audit", BaseURL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = a.Archive(context.Background(), submission.Payload{})
	assert.Error(t, err)
}

func TestGitHubArchiverTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a, err := NewGitHubArchiver(config.ArchiveConfig{
		Token:     "t",
		RepoOwner: "acme",
		RepoName:  "audit",
		BaseURL:   srv.URL,
		Timeout:   100 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	start := time.Now()
	_, err = a.Archive(context.Background(), submission.Payload{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
