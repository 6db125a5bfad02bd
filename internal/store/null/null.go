// Package null is the disabled-feature backend: every operation fails
// or returns empty. Deployments that turn tickets off still get a
// non-nil store.
package null

import (
	"context"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// Store rejects all reads and writes.
type Store struct{}

// New constructs the null backend.
func New() *Store { return &Store{} }

func (s *Store) Name() string { return "null" }

func (s *Store) Ready(ctx context.Context) bool { return false }

func (s *Store) SupportsAttachments() bool { return false }

func (s *Store) HasTicket(ctx context.Context, repository string, id int64) bool { return false }

func (s *Store) GetIds(ctx context.Context, repository string) ([]int64, error) {
	return nil, nil
}

func (s *Store) GetJournal(ctx context.Context, repository string, id int64) ([]*domain.Change, error) {
	return nil, util.NewUnavailable("ticket service is disabled")
}

func (s *Store) ReserveID(ctx context.Context, repository string, id int64) error {
	return util.NewUnavailable("ticket service is disabled")
}

func (s *Store) CommitChange(ctx context.Context, repository string, id int64, change *domain.Change) error {
	return util.NewUnavailable("ticket service is disabled")
}

func (s *Store) DeleteTicket(ctx context.Context, repository string, id int64, actor string) error {
	return util.NewUnavailable("ticket service is disabled")
}

func (s *Store) DeleteAll(ctx context.Context, repository string) error {
	return util.NewUnavailable("ticket service is disabled")
}

func (s *Store) Rename(ctx context.Context, oldRepository, newRepository string) error {
	return util.NewUnavailable("ticket service is disabled")
}

func (s *Store) GetAttachment(ctx context.Context, repository string, id int64, name string) (*domain.Attachment, error) {
	return nil, util.NewUnavailable("ticket service is disabled")
}

func (s *Store) ReadConfig(ctx context.Context, repository string) ([]byte, error) {
	return nil, nil
}

func (s *Store) WriteConfig(ctx context.Context, repository string, data []byte) error {
	return util.NewUnavailable("ticket service is disabled")
}
