// Package repos gives the store scoped access to the underlying git
// repositories. The store never manages repository lifecycle beyond
// open-per-operation; creation and removal belong to the hosting
// system.
package repos

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/pkg/util"
)

// Manager locates bare repositories under a root folder. Repository
// names map to "<root>/<name>.git".
type Manager struct {
	root   string
	logger *zap.Logger
}

// NewManager constructs a repository manager rooted at dir.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{root: dir, logger: logger}, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.root, name+".git")
}

// Open opens the named repository, initializing a bare one on first
// use.
func (m *Manager) Open(ctx context.Context, name string) (*git.Repository, error) {
	repo, err := git.PlainOpen(m.path(name))
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, err
	}
	m.logger.Info("initializing repository", zap.String("repository", name))
	return git.PlainInit(m.path(name), true)
}

// Rename moves a repository to a new name.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) error {
	if _, err := os.Stat(m.path(oldName)); err != nil {
		return util.NewNotFound("repository", map[string]any{"repository": oldName})
	}
	if err := os.MkdirAll(filepath.Dir(m.path(newName)), 0o755); err != nil {
		return err
	}
	return os.Rename(m.path(oldName), m.path(newName))
}

// List enumerates repository names under the root.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(m.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || !strings.HasSuffix(d.Name(), ".git") {
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ".git"))
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
