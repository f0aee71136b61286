// Package github fetches documents from a directory of a GitHub repository.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/bull/docchat/internal/indexer"
)

// Repository identifies the directory to ingest.
type Repository struct {
	Owner    string
	Repo     string
	Ref      string // Branch, tag or commit; empty for the default branch
	BasePath string
}

// String returns "owner/repo".
func (r Repository) String() string { return r.Owner + "/" + r.Repo }

// ParseRepository parses "owner/repo" or "owner/repo/path/to/docs".
func ParseRepository(ref string) (Repository, error) {
	parts := strings.SplitN(strings.Trim(ref, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, fmt.Errorf("invalid repository %q, expected owner/repo[/path]", ref)
	}
	r := Repository{Owner: parts[0], Repo: parts[1]}
	if len(parts) == 3 {
		r.BasePath = parts[2]
	}
	return r, nil
}

// Fetcher lists and fetches documents from a GitHub repository directory.
// It implements indexer.Source.
type Fetcher struct {
	client *Client
	repo   Repository
	match  func(name string) bool
}

var _ indexer.Source = (*Fetcher)(nil)

// NewFetcher creates a fetcher for files accepted by match, e.g. a parser
// registry's Supports method. A nil match accepts markdown files.
func NewFetcher(client *Client, repo Repository, match func(name string) bool) *Fetcher {
	if match == nil {
		match = func(name string) bool { return strings.HasSuffix(name, ".md") }
	}
	return &Fetcher{client: client, repo: repo, match: match}
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.repo.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.repo.Ref}
}

// List recursively lists all matching files below the base path.
func (f *Fetcher) List(ctx context.Context) ([]string, error) {
	return f.listRecursive(ctx, f.repo.BasePath, "")
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(
		ctx,
		f.repo.Owner,
		f.repo.Repo,
		fullPath,
		f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}

		itemRelPath := path.Join(relativePath, *item.Name)

		switch *item.Type {
		case "file":
			if f.match(*item.Name) {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listRecursive(ctx, path.Join(fullPath, *item.Name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

// Fetch fetches the content of a file relative to the base path.
func (f *Fetcher) Fetch(ctx context.Context, relativePath string) (*indexer.RawDocument, error) {
	fullPath := path.Join(f.repo.BasePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx,
		f.repo.Owner,
		f.repo.Repo,
		fullPath,
		f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil || fileContent.Content == nil {
		return nil, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	return &indexer.RawDocument{
		Path:    relativePath,
		Name:    path.Join(f.repo.String(), fullPath),
		URL:     fileContent.GetHTMLURL(),
		Content: content,
	}, nil
}

// Revision returns the SHA of the most recent commit touching the base path.
func (f *Fetcher) Revision(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(
		ctx,
		f.repo.Owner,
		f.repo.Repo,
		&github.CommitsListOptions{
			SHA:  f.repo.Ref,
			Path: f.repo.BasePath,
			ListOptions: github.ListOptions{
				PerPage: 1,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.repo.BasePath)
	}
	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}

	return *commits[0].SHA, nil
}
