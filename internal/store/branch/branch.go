// Package branch persists journals on an orphan ref of the ticket's own
// git repository, one commit per change. The commit history doubles as
// an audit log, and the ref becomes the unit of consistency: every
// write is a compare-and-swap on the ref with bounded retries, so a
// lost race is re-applied against the new tip instead of clobbering it.
package branch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/codec"
	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/observability"
	"github.com/gitblit-org/ticketstore/internal/store"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

const (
	// TicketsRef is the canonical orphan ref holding ticket journals.
	TicketsRef = plumbing.ReferenceName("refs/meta/gitblit/tickets")
	// LegacyTicketsRef is migrated to TicketsRef on first discovery.
	LegacyTicketsRef = plumbing.ReferenceName("refs/gitblit/tickets")

	// serviceAuthor signs commits that have no human actor, like id
	// reservations and settings writes.
	serviceAuthor = "ticketstore"
)

// timeNow is swappable for deterministic commit timestamps in tests.
var timeNow = time.Now

// Repositories opens and renames the underlying git repositories.
type Repositories interface {
	Open(ctx context.Context, name string) (*git.Repository, error)
	Rename(ctx context.Context, oldName, newName string) error
}

// Store is the git-branch backend.
type Store struct {
	repos   Repositories
	logger  *zap.Logger
	metrics *observability.Metrics
	retries int
}

// New constructs the branch backend. retries bounds the
// compare-and-swap loop per commit.
func New(repos Repositories, logger *zap.Logger, metrics *observability.Metrics, retries int) *Store {
	if retries <= 0 {
		retries = 3
	}
	return &Store{repos: repos, logger: logger, metrics: metrics, retries: retries}
}

func (s *Store) Name() string { return "branch" }

func (s *Store) Ready(ctx context.Context) bool { return s.repos != nil }

func (s *Store) SupportsAttachments() bool { return true }

// ticketsRef resolves the tickets ref, transparently migrating the
// legacy ref name. Returns plumbing.ErrReferenceNotFound when the
// repository has no tickets yet.
func (s *Store) ticketsRef(repo *git.Repository) (*plumbing.Reference, error) {
	ref, err := repo.Reference(TicketsRef, false)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, err
	}
	legacy, legacyErr := repo.Reference(LegacyTicketsRef, false)
	if legacyErr != nil {
		return nil, err
	}
	s.logger.Info("migrating legacy tickets ref")
	if err := repo.Storer.SetReference(plumbing.NewHashReference(TicketsRef, legacy.Hash())); err != nil {
		return nil, err
	}
	_ = repo.Storer.RemoveReference(LegacyTicketsRef)
	return repo.Reference(TicketsRef, false)
}

// tip returns the current tickets tip commit, or nil when the ref does
// not exist yet.
func (s *Store) tip(repo *git.Repository) (*object.Commit, *plumbing.Reference, error) {
	ref, err := s.ticketsRef(repo)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	commit, err := object.GetCommit(repo.Storer, ref.Hash())
	if err != nil {
		return nil, nil, err
	}
	return commit, ref, nil
}

func readFile(commit *object.Commit, path string) ([]byte, error) {
	if commit == nil {
		return nil, object.ErrFileNotFound
	}
	file, err := commit.File(path)
	if err != nil {
		return nil, err
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(contents), nil
}

func (s *Store) HasTicket(ctx context.Context, repository string, id int64) bool {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return false
	}
	commit, _, err := s.tip(repo)
	if err != nil || commit == nil {
		return false
	}
	_, err = readFile(commit, store.JournalPath(id))
	return err == nil
}

func (s *Store) GetIds(ctx context.Context, repository string) ([]int64, error) {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return nil, err
	}
	commit, _, err := s.tip(repo)
	if err != nil || commit == nil {
		return nil, err
	}
	files, err := listFiles(commit)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for path := range files {
		if !strings.HasSuffix(path, "/journal.json") {
			continue
		}
		if id := store.TicketIDFromPath(path); id >= 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) GetJournal(ctx context.Context, repository string, id int64) ([]*domain.Change, error) {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return nil, err
	}
	commit, _, err := s.tip(repo)
	if err != nil {
		return nil, err
	}
	data, err := readFile(commit, store.JournalPath(id))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, util.NewNotFound("ticket", map[string]any{"repository": repository, "id": id})
		}
		return nil, err
	}
	return codec.DecodeJournal(data)
}

// treeEdit describes one commit's file mutations: paths to set and path
// prefixes to drop. Everything else in the tree is carried unchanged.
type treeEdit struct {
	set            map[string][]byte
	deletePrefixes []string
}

// commitEdit runs one compare-and-swap commit cycle, retrying a bounded
// number of times when the ref moved underneath us. The edit callback
// is re-invoked with the fresh tip on every attempt so the change is
// re-applied, never replayed against stale state.
func (s *Store) commitEdit(ctx context.Context, repository, author, message string, edit func(tip *object.Commit) (*treeEdit, error)) error {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < s.retries; attempt++ {
		tip, oldRef, err := s.tip(repo)
		if err != nil {
			return err
		}
		e, err := edit(tip)
		if err != nil {
			return err
		}

		files, err := listFiles(tip)
		if err != nil {
			return err
		}
		for path := range files {
			for _, prefix := range e.deletePrefixes {
				if strings.HasPrefix(path, prefix+"/") {
					delete(files, path)
				}
			}
		}
		for path, content := range e.set {
			blob, err := writeBlob(repo.Storer, content)
			if err != nil {
				return err
			}
			files[path] = blob
		}

		tree, err := writeTree(repo.Storer, files)
		if err != nil {
			return err
		}
		parent := plumbing.ZeroHash
		if tip != nil {
			parent = tip.Hash
		}
		sig := object.Signature{Name: author, Email: author, When: timeNow()}
		commit, err := writeCommit(repo.Storer, tree, parent, sig, message)
		if err != nil {
			return err
		}

		newRef := plumbing.NewHashReference(TicketsRef, commit)
		if oldRef == nil {
			// CheckAndSetReference with no old ref is an unconditional
			// set, so a concurrent bootstrap commit would be clobbered
			// silently. Treat an appeared ref as a lost race and retry
			// against it.
			if _, refErr := repo.Reference(TicketsRef, false); refErr == nil {
				err = storage.ErrReferenceHasChanged
			} else if !errors.Is(refErr, plumbing.ErrReferenceNotFound) {
				return refErr
			} else {
				err = repo.Storer.CheckAndSetReference(newRef, nil)
			}
		} else {
			err = repo.Storer.CheckAndSetReference(newRef, oldRef)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			s.metrics.Conflicts.WithLabelValues(s.Name()).Inc()
			s.logger.Debug("tickets ref moved, retrying commit",
				zap.String("repository", repository), zap.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return util.NewConflict("tickets ref contention, retries exhausted",
		map[string]any{"repository": repository})
}

func (s *Store) ReserveID(ctx context.Context, repository string, id int64) error {
	return s.commitEdit(ctx, repository, serviceAuthor, fmt.Sprintf("assigned id #%d", id),
		func(tip *object.Commit) (*treeEdit, error) {
			data, err := codec.EncodeJournal(nil)
			if err != nil {
				return nil, err
			}
			return &treeEdit{set: map[string][]byte{store.JournalPath(id): data}}, nil
		})
}

func (s *Store) CommitChange(ctx context.Context, repository string, id int64, change *domain.Change) error {
	return s.commitEdit(ctx, repository, change.CreatedBy, fmt.Sprintf("#%d", id),
		func(tip *object.Commit) (*treeEdit, error) {
			journal, err := func() ([]*domain.Change, error) {
				data, err := readFile(tip, store.JournalPath(id))
				if err != nil {
					if errors.Is(err, object.ErrFileNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return codec.DecodeJournal(data)
			}()
			if err != nil {
				return nil, err
			}
			journal = append(journal, change)
			data, err := codec.EncodeJournal(journal)
			if err != nil {
				return nil, err
			}
			edit := &treeEdit{set: map[string][]byte{store.JournalPath(id): data}}
			for _, a := range change.Attachments {
				if len(a.Content) > 0 {
					edit.set[store.AttachmentPath(id, a.Name)] = a.Content
				}
			}
			return edit, nil
		})
}

// DeleteTicket rewrites the tree without the ticket's directory. The
// journal disappears from the tip; no tombstone is left.
func (s *Store) DeleteTicket(ctx context.Context, repository string, id int64, actor string) error {
	if !s.HasTicket(ctx, repository, id) {
		return util.NewNotFound("ticket", map[string]any{"repository": repository, "id": id})
	}
	return s.commitEdit(ctx, repository, actor, fmt.Sprintf("- %d", id),
		func(tip *object.Commit) (*treeEdit, error) {
			return &treeEdit{deletePrefixes: []string{store.TicketPath(id)}}, nil
		})
}

// DeleteAll removes the tickets ref entirely.
func (s *Store) DeleteAll(ctx context.Context, repository string) error {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return err
	}
	err = repo.Storer.RemoveReference(TicketsRef)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil
	}
	return err
}

// Rename delegates to the repository manager: the tickets ref travels
// with its repository.
func (s *Store) Rename(ctx context.Context, oldRepository, newRepository string) error {
	return s.repos.Rename(ctx, oldRepository, newRepository)
}

func (s *Store) GetAttachment(ctx context.Context, repository string, id int64, name string) (*domain.Attachment, error) {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return nil, err
	}
	commit, _, err := s.tip(repo)
	if err != nil {
		return nil, err
	}
	data, err := readFile(commit, store.AttachmentPath(id, name))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, util.NewNotFound("attachment", map[string]any{"name": name})
		}
		return nil, err
	}
	return &domain.Attachment{Name: name, Size: int64(len(data)), Content: data}, nil
}

func (s *Store) ReadConfig(ctx context.Context, repository string) ([]byte, error) {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return nil, err
	}
	commit, _, err := s.tip(repo)
	if err != nil {
		return nil, err
	}
	data, err := readFile(commit, store.ConfigPath())
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) WriteConfig(ctx context.Context, repository string, data []byte) error {
	return s.commitEdit(ctx, repository, serviceAuthor, "settings",
		func(tip *object.Commit) (*treeEdit, error) {
			return &treeEdit{set: map[string][]byte{store.ConfigPath(): data}}, nil
		})
}

// ChangedTicketIDs diffs the trees of two revisions of the tickets ref
// and maps the touched paths back to ticket ids. An empty oldRev means
// everything at newRev.
func (s *Store) ChangedTicketIDs(ctx context.Context, repository, oldRev, newRev string) ([]int64, error) {
	repo, err := s.repos.Open(ctx, repository)
	if err != nil {
		return nil, err
	}
	newCommit, err := object.GetCommit(repo.Storer, plumbing.NewHash(newRev))
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	if oldRev == "" {
		files, err := listFiles(newCommit)
		if err != nil {
			return nil, err
		}
		for path := range files {
			if id := store.TicketIDFromPath(path); id >= 0 {
				seen[id] = struct{}{}
			}
		}
		return idSet(seen), nil
	}
	oldCommit, err := object.GetCommit(repo.Storer, plumbing.NewHash(oldRev))
	if err != nil {
		return nil, err
	}
	oldTree, err := oldCommit.Tree()
	if err != nil {
		return nil, err
	}
	newTree, err := newCommit.Tree()
	if err != nil {
		return nil, err
	}
	diff, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return nil, err
	}
	for _, change := range diff {
		for _, path := range []string{change.From.Name, change.To.Name} {
			if id := store.TicketIDFromPath(path); id >= 0 {
				seen[id] = struct{}{}
			}
		}
	}
	return idSet(seen), nil
}

func idSet(seen map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}
