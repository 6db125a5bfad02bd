package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/index"
	"github.com/gitblit-org/ticketstore/internal/observability"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// Dependencies wires the collaborators of the ticket service.
type Dependencies struct {
	Backend      Backend
	Indexer      Indexer
	Notifier     Notifier
	Repositories RepositoryLister
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	PageSize     int
	CacheSize    int
}

// Service is the store contract every caller talks to. It layers id
// assignment, snapshot caching, folding, indexing, and notification on
// the active backend. The backend persists journals; everything else is
// derived.
type Service struct {
	backend  Backend
	indexer  Indexer
	notifier Notifier
	repos    RepositoryLister
	logger   *zap.Logger
	metrics  *observability.Metrics
	pageSize int
	ids      *idAllocator
	cache    *ticketCache

	// configMu serializes read-modify-write cycles on the settings
	// document. Journal commits have their own consistency discipline;
	// the settings document is small and rarely written, one lock per
	// service is enough.
	configMu sync.Mutex
}

// NewService constructs the ticket service.
func NewService(deps Dependencies) *Service {
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}
	return &Service{
		backend:  deps.Backend,
		indexer:  deps.Indexer,
		notifier: deps.Notifier,
		repos:    deps.Repositories,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		pageSize: pageSize,
		ids:      newIDAllocator(),
		cache:    newTicketCache(deps.CacheSize),
	}
}

// Ready reports whether the active backend can serve.
func (s *Service) Ready(ctx context.Context) bool {
	return s.backend.Ready(ctx)
}

// AssignNewID hands out the next ticket id for the repository and
// durably reserves it before returning, so a crash never reuses it. The
// per-repository counter is seeded by scanning existing ids on first
// use and after a cache reset.
func (s *Service) AssignNewID(ctx context.Context, repository string) (int64, error) {
	id, err := s.ids.next(ctx, repository, func(ctx context.Context) (int64, error) {
		ids, err := s.backend.GetIds(ctx, repository)
		if err != nil {
			return 0, err
		}
		var last int64
		for _, id := range ids {
			if id > last {
				last = id
			}
		}
		return last, nil
	})
	if err != nil {
		s.logger.Error("id assignment failed", zap.String("repository", repository), zap.Error(err))
		return 0, err
	}
	if err := s.backend.ReserveID(ctx, repository, id); err != nil {
		s.logger.Error("id reservation failed",
			zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
		return 0, err
	}
	return id, nil
}

// HasTicket reports whether a created ticket exists. Reserved ids with
// empty journals report false.
func (s *Service) HasTicket(ctx context.Context, repository string, id int64) bool {
	if _, ok := s.cache.get(repository, id); ok {
		return true
	}
	if !s.backend.HasTicket(ctx, repository, id) {
		return false
	}
	ticket, err := s.GetTicket(ctx, repository, id)
	return err == nil && ticket != nil
}

// GetIds enumerates every ticket id, reserved ids included. Recovery
// path only.
func (s *Service) GetIds(ctx context.Context, repository string) ([]int64, error) {
	return s.backend.GetIds(ctx, repository)
}

// GetJournal returns the raw ordered change list.
func (s *Service) GetJournal(ctx context.Context, repository string, id int64) ([]*domain.Change, error) {
	return s.backend.GetJournal(ctx, repository, id)
}

// GetTicket folds the journal into a snapshot, serving from cache when
// possible. A missing or empty journal yields (nil, nil): absent is not
// an error.
func (s *Service) GetTicket(ctx context.Context, repository string, id int64) (*domain.Ticket, error) {
	if ticket, ok := s.cache.get(repository, id); ok {
		s.metrics.CacheHits.Inc()
		return ticket, nil
	}
	s.metrics.CacheMisses.Inc()

	journal, err := s.backend.GetJournal(ctx, repository, id)
	if err != nil {
		if util.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(journal) == 0 {
		// Reserved but never created.
		return nil, nil
	}
	ticket := s.fold(repository, id, journal)
	s.cache.put(repository, id, ticket)
	return ticket, nil
}

// GetTicketByChangeID resolves the string lookup key to the same ticket
// the numeric key resolves to, via the search index.
func (s *Service) GetTicketByChangeID(ctx context.Context, repository, changeID string) (*domain.Ticket, error) {
	query := index.NewQueryBuilder().
		And(index.Matches(index.FieldRepository, repository)).
		And(index.Matches(index.FieldChangeID, changeID)).
		Build()
	results, err := s.indexer.QueryFor(query, 1, 1, "", false)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return s.GetTicket(ctx, repository, results[0].Number)
}

// GetTickets folds every journal in the repository, optionally filtered,
// sorted by creation time. Malformed journals are logged and skipped so
// one bad ticket never breaks enumeration.
func (s *Service) GetTickets(ctx context.Context, repository string, filter func(*domain.Ticket) bool) ([]*domain.Ticket, error) {
	ids, err := s.backend.GetIds(ctx, repository)
	if err != nil {
		return nil, err
	}
	tickets := make([]*domain.Ticket, 0, len(ids))
	for _, id := range ids {
		ticket, err := s.GetTicket(ctx, repository, id)
		if err != nil {
			s.logger.Warn("skipping unreadable ticket",
				zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
			continue
		}
		if ticket == nil {
			continue
		}
		if filter != nil && !filter(ticket) {
			continue
		}
		tickets = append(tickets, ticket)
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
	return tickets, nil
}

// CreateTicket commits the opening change of a new ticket. The change
// must carry an author, a title, and the repository field; violations
// fail loudly as precondition errors. The author is auto-watched and
// the id is assigned when the caller did not reserve one.
func (s *Service) CreateTicket(ctx context.Context, repository string, change *domain.Change) (*domain.Ticket, error) {
	if change.CreatedBy == "" {
		return nil, util.NewValidationError("change author is required", nil)
	}
	if !change.HasField(domain.FieldTitle) {
		return nil, util.NewValidationError("ticket title is required", nil)
	}
	if change.GetField(domain.FieldRepository) == "" {
		change.SetField(domain.FieldRepository, repository)
	}
	if !change.HasField(domain.FieldStatus) {
		change.SetField(domain.FieldStatus, string(domain.StatusNew))
	}
	change.Watch(change.CreatedBy)

	var id int64
	if change.HasField(domain.FieldNumber) {
		id = fieldAsInt64(change.GetField(domain.FieldNumber))
	}
	if id <= 0 {
		assigned, err := s.AssignNewID(ctx, repository)
		if err != nil {
			return nil, err
		}
		id = assigned
	}
	change.SetField(domain.FieldNumber, formatInt64(id))

	return s.commit(ctx, repository, id, change, true)
}

// UpdateTicket appends a change to an existing ticket.
func (s *Service) UpdateTicket(ctx context.Context, repository string, id int64, change *domain.Change) (*domain.Ticket, error) {
	if change.CreatedBy == "" {
		return nil, util.NewValidationError("change author is required", nil)
	}
	return s.commit(ctx, repository, id, change, false)
}

// UpdateComment revises a comment in place: the revision reuses the
// comment id, and the fold collapses it onto the original change.
func (s *Service) UpdateComment(ctx context.Context, repository string, id int64, author, commentID, text string) (*domain.Ticket, error) {
	change := domain.NewChange(author)
	change.Comment = &domain.Comment{ID: commentID, Text: text}
	return s.UpdateTicket(ctx, repository, id, change)
}

// DeleteComment marks a comment deleted. The journal keeps the entry;
// the fold drops it from the effective discussion.
func (s *Service) DeleteComment(ctx context.Context, repository string, id int64, author, commentID string) (*domain.Ticket, error) {
	change := domain.NewChange(author)
	change.Comment = &domain.Comment{ID: commentID, Deleted: true}
	return s.UpdateTicket(ctx, repository, id, change)
}

func (s *Service) commit(ctx context.Context, repository string, id int64, change *domain.Change, created bool) (*domain.Ticket, error) {
	s.cache.invalidate(repository, id)

	if err := s.backend.CommitChange(ctx, repository, id, change); err != nil {
		s.metrics.Commits.WithLabelValues(s.backend.Name(), "failure").Inc()
		s.logger.Error("commit failed",
			zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	s.metrics.Commits.WithLabelValues(s.backend.Name(), "success").Inc()

	journal, err := s.backend.GetJournal(ctx, repository, id)
	if err != nil {
		return nil, err
	}
	ticket := s.fold(repository, id, journal)
	s.cache.put(repository, id, ticket)

	if err := s.indexer.Index(ticket); err != nil {
		s.logger.Warn("index update failed",
			zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
	}
	if s.notifier != nil {
		if created {
			s.notifier.TicketCreated(ticket)
		} else {
			s.notifier.TicketUpdated(ticket)
		}
	}
	return ticket, nil
}

// DeleteTicket removes the ticket's journal and attachments, its cache
// entry, and its index document.
func (s *Service) DeleteTicket(ctx context.Context, repository string, id int64, actor string) error {
	if actor == "" {
		return util.NewValidationError("delete actor is required", nil)
	}
	if err := s.backend.DeleteTicket(ctx, repository, id, actor); err != nil {
		s.logger.Error("delete failed",
			zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
		return err
	}
	s.cache.invalidate(repository, id)
	if err := s.indexer.Delete(repository, id); err != nil {
		s.logger.Warn("index delete failed",
			zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.TicketDeleted(repository, id, actor)
	}
	return nil
}

// DeleteAll removes every ticket of the repository. Continues past
// per-item index failures; the backend delete is all-or-nothing where
// the substrate allows.
func (s *Service) DeleteAll(ctx context.Context, repository string) error {
	if err := s.backend.DeleteAll(ctx, repository); err != nil {
		return err
	}
	s.cache.invalidateRepository(repository)
	s.ids.reset(repository)
	if err := s.indexer.DeleteRepository(repository); err != nil {
		s.logger.Warn("index repository delete failed",
			zap.String("repository", repository), zap.Error(err))
	}
	return nil
}

// Rename moves a repository's tickets to a new name and rebuilds their
// index documents under it.
func (s *Service) Rename(ctx context.Context, oldRepository, newRepository string) error {
	if err := s.backend.Rename(ctx, oldRepository, newRepository); err != nil {
		return err
	}
	s.cache.invalidateRepository(oldRepository)
	s.ids.reset(oldRepository)
	s.ids.reset(newRepository)
	if err := s.indexer.DeleteRepository(oldRepository); err != nil {
		s.logger.Warn("index repository delete failed",
			zap.String("repository", oldRepository), zap.Error(err))
	}
	return s.ReindexRepository(ctx, newRepository)
}

// ResetCaches drops every id counter and snapshot; counters re-seed by
// scanning on next use.
func (s *Service) ResetCaches() {
	s.ids.resetAll()
	s.cache.clear()
}

// ResetCachesFor drops one repository's id counter and snapshots.
func (s *Service) ResetCachesFor(repository string) {
	s.ids.reset(repository)
	s.cache.invalidateRepository(repository)
}

// GetAttachment fetches attachment content by ticket and filename.
func (s *Service) GetAttachment(ctx context.Context, repository string, id int64, name string) (*domain.Attachment, error) {
	if !s.backend.SupportsAttachments() {
		return nil, util.NewUnavailable("backend does not support attachments")
	}
	return s.backend.GetAttachment(ctx, repository, id, name)
}

// SearchFor runs a free-text query scoped to one repository.
func (s *Service) SearchFor(repository, text string, page, pageSize int) ([]*domain.QueryResult, error) {
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	start := time.Now()
	results, err := s.indexer.SearchFor(repository, text, page, pageSize)
	s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	return results, err
}

// QueryFor runs a structured boolean query against the index.
func (s *Service) QueryFor(query string, page, pageSize int, sortBy string, descending bool) ([]*domain.QueryResult, error) {
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	start := time.Now()
	results, err := s.indexer.QueryFor(query, page, pageSize, sortBy, descending)
	s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	return results, err
}

// ReindexAll clears the index and rebuilds it from every repository's
// journals. Per-repository failures are logged and skipped so one bad
// repository never aborts the batch.
func (s *Service) ReindexAll(ctx context.Context) error {
	if err := s.indexer.Clear(); err != nil {
		return err
	}
	repositories, err := s.repos.List(ctx)
	if err != nil {
		return err
	}
	for _, repository := range repositories {
		if err := s.reindexBulk(ctx, repository); err != nil {
			s.logger.Warn("reindex failed for repository",
				zap.String("repository", repository), zap.Error(err))
		}
	}
	return nil
}

// ReindexRepository rebuilds one repository's index documents.
func (s *Service) ReindexRepository(ctx context.Context, repository string) error {
	if err := s.indexer.DeleteRepository(repository); err != nil {
		return err
	}
	return s.reindexBulk(ctx, repository)
}

func (s *Service) reindexBulk(ctx context.Context, repository string) error {
	tickets, err := s.GetTickets(ctx, repository, nil)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}
	return s.indexer.IndexBulk(tickets)
}

// ReindexSince re-indexes only the tickets whose journals changed
// between two revisions of the backend's history. Backends without
// history fall back to a full repository reindex.
func (s *Service) ReindexSince(ctx context.Context, repository, oldRev, newRev string) error {
	log, ok := s.backend.(ChangeLog)
	if !ok {
		return s.ReindexRepository(ctx, repository)
	}
	ids, err := log.ChangedTicketIDs(ctx, repository, oldRev, newRev)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.cache.invalidate(repository, id)
		ticket, err := s.GetTicket(ctx, repository, id)
		if err != nil {
			s.logger.Warn("skipping unreadable ticket during reindex",
				zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
			continue
		}
		if ticket == nil {
			if err := s.indexer.Delete(repository, id); err != nil {
				s.logger.Warn("index delete failed",
					zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
			}
			continue
		}
		if err := s.indexer.Index(ticket); err != nil {
			s.logger.Warn("index update failed",
				zap.String("repository", repository), zap.Int64("id", id), zap.Error(err))
		}
	}
	return nil
}

func fieldAsInt64(value string) int64 {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func formatInt64(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *Service) fold(repository string, id int64, journal []*domain.Change) *domain.Ticket {
	s.metrics.JournalFolds.Inc()
	ticket := domain.BuildTicket(journal)
	// The journal is the source of truth for fields, but identity comes
	// from where the journal lives.
	ticket.Repository = repository
	ticket.Number = id
	return ticket
}
