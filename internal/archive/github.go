// Package archive commits a copy of every payload to a GitHub repository
// before it is sent.
package archive

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Archiver stores a payload snapshot and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, p submission.Payload) (string, error)
}

// GitHubArchiver writes snapshots through the repository contents API.
type GitHubArchiver struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	logger *zap.Logger

	now    func() time.Time
	suffix func() string
}

// NewGitHubArchiver builds an archiver for cfg. BaseURL targets GitHub
// Enterprise or a test server. A positive Timeout caps every request.
func NewGitHubArchiver(cfg config.ArchiveConfig, logger *zap.Logger) (*GitHubArchiver, error) {
	client := github.NewClient(&http.Client{Timeout: cfg.Timeout}).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid archive.base_url: %w", err)
		}
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return &GitHubArchiver{
		client: client,
		owner:  cfg.RepoOwner,
		repo:   cfg.RepoName,
		branch: branch,
		logger: logger.Named("archive"),
		now:    time.Now,
		suffix: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:6] },
	}, nil
}

// Path returns the repository path for a snapshot taken at t.
func Path(t time.Time, suffix string) string {
	t = t.UTC()
	return fmt.Sprintf("data/%s/%s-%s.json", t.Format("2006-01-02"), t.Format("150405"), suffix)
}

// Archive commits p as indented JSON and returns the file path.
func (a *GitHubArchiver) Archive(ctx context.Context, p submission.Payload) (string, error) {
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	body = append(body, '\n')

	path := Path(a.now(), a.suffix())
	opts := &github.RepositoryContentFileOptions{
		Message: github.String("chore(data): save preenvio -> " + path),
		Content: body,
		Branch:  github.String(a.branch),
	}
	resp, _, err := a.client.Repositories.CreateFile(ctx, a.owner, a.repo, path, opts)
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}

	fields := []zap.Field{zap.String("path", path)}
	if resp != nil && resp.Commit.SHA != nil {
		fields = append(fields, zap.String("commit", resp.Commit.GetSHA()))
	}
	a.logger.Info("Payload archived.", fields...)
	return path, nil
}

// Nop is an Archiver that stores nothing.
type Nop struct{}

func (Nop) Archive(context.Context, submission.Payload) (string, error) { return "", nil }
