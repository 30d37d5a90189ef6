// Package source reads project files from disk and watches them for changes.
//
// Projects are directories directly below a root. Every regular, non-hidden
// file of a project directory is part of the project; subdirectories are
// ignored. When the root (or one of its parents) is a git repository the
// project's commit is the repository HEAD.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// DirSource serves project files from Root/<projectID>.
type DirSource struct {
	Root string
}

// NewDirSource creates a DirSource rooted at root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

// Files returns the content of every regular, non-hidden file of the
// project keyed by file name.
func (s *DirSource) Files(ctx context.Context, projectID string) (map[string]string, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s: %w", projectID, err)
	}

	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() || isHidden(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s/%s: %w", projectID, entry.Name(), err)
		}
		files[entry.Name()] = string(data)
	}
	return files, nil
}

// Projects lists the project directories below Root.
func (s *DirSource) Projects() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects root %s: %w", s.Root, err)
	}
	var projects []string
	for _, entry := range entries {
		if entry.IsDir() && !isHidden(entry.Name()) {
			projects = append(projects, entry.Name())
		}
	}
	return projects, nil
}

// Commit returns the HEAD hash of the git repository enclosing the project,
// or an empty string when the project is not under version control.
func (s *DirSource) Commit(projectID string) (string, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return "", err
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open repository of %s: %w", projectID, err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// no commits yet
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD of %s: %w", projectID, err)
	}
	return head.Hash().String(), nil
}

func (s *DirSource) projectDir(projectID string) (string, error) {
	if projectID == "" || projectID != filepath.Base(projectID) || isHidden(projectID) {
		return "", fmt.Errorf("invalid project id %q", projectID)
	}
	return filepath.Join(s.Root, projectID), nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
