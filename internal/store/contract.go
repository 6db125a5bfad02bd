package store

import (
	"context"

	"github.com/gitblit-org/ticketstore/internal/domain"
)

// Backend is one physical journal substrate. Exactly one backend is
// active per deployment; the Service layers id assignment, caching,
// folding, indexing, and notification on top of it.
//
// Backends persist journals, never snapshots (the key-value backend's
// snapshot key is a read-through cache, not a source of truth). A
// commit is a single indivisible unit: on error no visible state change
// occurred.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Ready reports whether the backend can serve. The null backend
	// always reports false.
	Ready(ctx context.Context) bool

	// HasTicket checks existence without deserializing the journal. A
	// reserved id with an empty journal counts as existing here; the
	// Service distinguishes reserved from created by folding.
	HasTicket(ctx context.Context, repository string, id int64) bool

	// GetIds enumerates every ticket id in the repository, reserved ids
	// included. Recovery path only, not a hot path.
	GetIds(ctx context.Context, repository string) ([]int64, error)

	// GetJournal returns the ordered change list. A missing ticket
	// yields a not-found error; a reserved ticket yields an empty list.
	GetJournal(ctx context.Context, repository string, id int64) ([]*domain.Change, error)

	// ReserveID durably reserves an id by persisting an empty journal,
	// so a crash after reservation never reuses the id.
	ReserveID(ctx context.Context, repository string, id int64) error

	// CommitChange appends one change to the journal as a single
	// indivisible unit.
	CommitChange(ctx context.Context, repository string, id int64, change *domain.Change) error

	// DeleteTicket removes the journal and any attachments.
	DeleteTicket(ctx context.Context, repository string, id int64, actor string) error

	// DeleteAll removes every ticket of the repository.
	DeleteAll(ctx context.Context, repository string) error

	// Rename moves all tickets from one repository namespace to another.
	Rename(ctx context.Context, oldRepository, newRepository string) error

	// SupportsAttachments reports whether attachment content can be
	// stored and fetched.
	SupportsAttachments() bool

	// GetAttachment fetches attachment content by ticket and filename.
	GetAttachment(ctx context.Context, repository string, id int64, name string) (*domain.Attachment, error)

	// ReadConfig returns the repository settings document (labels and
	// milestones), or nil when none exists yet.
	ReadConfig(ctx context.Context, repository string) ([]byte, error)

	// WriteConfig persists the repository settings document.
	WriteConfig(ctx context.Context, repository string, data []byte) error
}

// Indexer is the search index as the Service sees it. The index is
// advisory and rebuildable; every method failure is logged by the
// implementation and never blocks a journal commit.
type Indexer interface {
	Index(ticket *domain.Ticket) error
	IndexBulk(tickets []*domain.Ticket) error
	Delete(repository string, number int64) error
	DeleteRepository(repository string) error
	Clear() error
	SearchFor(repository, text string, page, pageSize int) ([]*domain.QueryResult, error)
	QueryFor(query string, page, pageSize int, sortBy string, descending bool) ([]*domain.QueryResult, error)
}

// Notifier receives the folded ticket after each successful create or
// update. Formatting and delivery live outside this module.
type Notifier interface {
	TicketCreated(ticket *domain.Ticket)
	TicketUpdated(ticket *domain.Ticket)
	TicketDeleted(repository string, number int64, actor string)
}

// RepositoryLister enumerates repository names for bulk reindexing.
type RepositoryLister interface {
	List(ctx context.Context) ([]string, error)
}

// ChangeLog is implemented by backends that can report which tickets
// changed between two points of their history. The branch backend diffs
// the tickets ref; backends without history fall back to a full
// repository reindex.
type ChangeLog interface {
	ChangedTicketIDs(ctx context.Context, repository, oldRev, newRev string) ([]int64, error)
}
