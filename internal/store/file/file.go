// Package file persists journals directly on disk using the shared
// hashed bucket layout. There is no history and no multi-file
// transaction: each ticket's journal file is the sole unit of truth and
// every commit replaces it wholesale.
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/codec"
	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/store"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// Store is the filesystem backend. Each repository gets a directory
// under the root.
type Store struct {
	root   string
	logger *zap.Logger
}

// New constructs the filesystem backend rooted at dir.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: dir, logger: logger}, nil
}

func (s *Store) Name() string { return "file" }

func (s *Store) Ready(ctx context.Context) bool {
	info, err := os.Stat(s.root)
	return err == nil && info.IsDir()
}

func (s *Store) SupportsAttachments() bool { return true }

func (s *Store) repoDir(repository string) string {
	return filepath.Join(s.root, repository)
}

func (s *Store) journalPath(repository string, id int64) string {
	return filepath.Join(s.repoDir(repository), filepath.FromSlash(store.JournalPath(id)))
}

func (s *Store) HasTicket(ctx context.Context, repository string, id int64) bool {
	_, err := os.Stat(s.journalPath(repository, id))
	return err == nil
}

func (s *Store) GetIds(ctx context.Context, repository string) ([]int64, error) {
	bucketRoot := filepath.Join(s.repoDir(repository), "id")
	buckets, err := os.ReadDir(bucketRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []int64
	for _, bucket := range buckets {
		if !bucket.IsDir() {
			continue
		}
		tickets, err := os.ReadDir(filepath.Join(bucketRoot, bucket.Name()))
		if err != nil {
			continue
		}
		for _, ticket := range tickets {
			if !ticket.IsDir() {
				continue
			}
			id, err := strconv.ParseInt(ticket.Name(), 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) GetJournal(ctx context.Context, repository string, id int64) ([]*domain.Change, error) {
	data, err := os.ReadFile(s.journalPath(repository, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, util.NewNotFound("ticket", map[string]any{"repository": repository, "id": id})
		}
		return nil, err
	}
	return codec.DecodeJournal(data)
}

func (s *Store) ReserveID(ctx context.Context, repository string, id int64) error {
	return s.writeJournal(repository, id, nil)
}

func (s *Store) CommitChange(ctx context.Context, repository string, id int64, change *domain.Change) error {
	journal, err := s.GetJournal(ctx, repository, id)
	if err != nil && !util.IsNotFound(err) {
		return err
	}
	journal = append(journal, change)
	if err := s.writeJournal(repository, id, journal); err != nil {
		return err
	}
	for _, a := range change.Attachments {
		if len(a.Content) == 0 {
			continue
		}
		path := filepath.Join(s.repoDir(repository), filepath.FromSlash(store.AttachmentPath(id, a.Name)))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, a.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeJournal(repository string, id int64, journal []*domain.Change) error {
	data, err := codec.EncodeJournal(journal)
	if err != nil {
		return err
	}
	path := s.journalPath(repository, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) DeleteTicket(ctx context.Context, repository string, id int64, actor string) error {
	dir := filepath.Join(s.repoDir(repository), filepath.FromSlash(store.TicketPath(id)))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return util.NewNotFound("ticket", map[string]any{"repository": repository, "id": id})
	}
	return os.RemoveAll(dir)
}

func (s *Store) DeleteAll(ctx context.Context, repository string) error {
	return os.RemoveAll(s.repoDir(repository))
}

func (s *Store) Rename(ctx context.Context, oldRepository, newRepository string) error {
	if _, err := os.Stat(s.repoDir(oldRepository)); errors.Is(err, fs.ErrNotExist) {
		return util.NewNotFound("repository", map[string]any{"repository": oldRepository})
	}
	if err := os.MkdirAll(filepath.Dir(s.repoDir(newRepository)), 0o755); err != nil {
		return err
	}
	return os.Rename(s.repoDir(oldRepository), s.repoDir(newRepository))
}

func (s *Store) GetAttachment(ctx context.Context, repository string, id int64, name string) (*domain.Attachment, error) {
	path := filepath.Join(s.repoDir(repository), filepath.FromSlash(store.AttachmentPath(id, name)))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, util.NewNotFound("attachment", map[string]any{"name": name})
		}
		return nil, err
	}
	return &domain.Attachment{Name: name, Size: int64(len(data)), Content: data}, nil
}

func (s *Store) ReadConfig(ctx context.Context, repository string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.repoDir(repository), store.ConfigPath()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) WriteConfig(ctx context.Context, repository string, data []byte) error {
	path := filepath.Join(s.repoDir(repository), store.ConfigPath())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
