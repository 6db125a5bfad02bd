package branch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/codec"
	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/observability"
	"github.com/gitblit-org/ticketstore/internal/store"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// memRepos serves in-memory bare repositories.
type memRepos struct {
	mu    sync.Mutex
	repos map[string]*git.Repository
}

func newMemRepos() *memRepos {
	return &memRepos{repos: make(map[string]*git.Repository)}
}

func (m *memRepos) Open(ctx context.Context, name string) (*git.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repo, ok := m.repos[name]; ok {
		return repo, nil
	}
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, err
	}
	m.repos[name] = repo
	return repo, nil
}

func (m *memRepos) Rename(ctx context.Context, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[oldName]
	if !ok {
		return util.NewNotFound("repository", nil)
	}
	delete(m.repos, oldName)
	m.repos[newName] = repo
	return nil
}

func newTestStore(t *testing.T) (*Store, *memRepos) {
	t.Helper()
	repos := newMemRepos()
	store := New(repos, zap.NewNop(), observability.NewMetrics(prometheus.NewRegistry()), 3)
	return store, repos
}

func titleChange(author, title string, at time.Time) *domain.Change {
	change := domain.NewChangeAt(author, at)
	change.SetField(domain.FieldTitle, title)
	return change
}

func TestReserveThenCommitAndRead(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReserveID(ctx, "demo", 1))
	journal, err := store.GetJournal(ctx, "demo", 1)
	require.NoError(t, err)
	assert.Empty(t, journal)

	change := titleChange("alice", "bug", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, store.CommitChange(ctx, "demo", 1, change))

	journal, err = store.GetJournal(ctx, "demo", 1)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "bug", journal[0].GetField(domain.FieldTitle))

	assert.True(t, store.HasTicket(ctx, "demo", 1))
	ids, err := store.GetIds(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestMissingTicketIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.GetJournal(context.Background(), "demo", 42)
	assert.True(t, util.IsNotFound(err))
	assert.False(t, store.HasTicket(context.Background(), "demo", 42))
}

func TestOneCommitPerChange(t *testing.T) {
	store, repos := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReserveID(ctx, "demo", 1))
	require.NoError(t, store.CommitChange(ctx, "demo", 1,
		titleChange("alice", "bug", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))))

	repo, err := repos.Open(ctx, "demo")
	require.NoError(t, err)
	ref, err := repo.Reference(TicketsRef, false)
	require.NoError(t, err)
	tip, err := object.GetCommit(repo.Storer, ref.Hash())
	require.NoError(t, err)
	assert.Equal(t, "#1", tip.Message)
	assert.Equal(t, "alice", tip.Author.Name)

	parent, err := tip.Parent(0)
	require.NoError(t, err)
	assert.Equal(t, "assigned id #1", parent.Message)
	assert.Equal(t, 0, parent.NumParents())
}

func TestContendedCommitRetriesAgainstFreshTip(t *testing.T) {
	backend, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, backend.CommitChange(ctx, "demo", 1,
		titleChange("alice", "first", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))))

	// A competing writer lands between our tree build and the ref update;
	// the edit must be re-applied against the new tip so neither change is
	// lost.
	raced := false
	err := backend.commitEdit(ctx, "demo", "bob", "#2", func(tip *object.Commit) (*treeEdit, error) {
		if !raced {
			raced = true
			if err := backend.CommitChange(ctx, "demo", 3,
				titleChange("carol", "interloper", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))); err != nil {
				return nil, err
			}
		}
		data, err := codec.EncodeJournal([]*domain.Change{
			titleChange("bob", "second", time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)),
		})
		if err != nil {
			return nil, err
		}
		return &treeEdit{set: map[string][]byte{store.JournalPath(2): data}}, nil
	})
	require.NoError(t, err)
	assert.True(t, raced)

	for _, id := range []int64{1, 2, 3} {
		journal, err := backend.GetJournal(ctx, "demo", id)
		require.NoError(t, err)
		assert.Len(t, journal, 1, "journal %d lost a change", id)
	}
}

func TestBootstrapCommitDetectsConcurrentCreation(t *testing.T) {
	backend, _ := newTestStore(t)
	ctx := context.Background()

	// The tickets ref does not exist when the edit starts; an interloper
	// creates it before our ref update lands. The bootstrap path must
	// notice the appeared ref and retry instead of clobbering it.
	raced := false
	err := backend.commitEdit(ctx, "demo", "bob", "#2", func(tip *object.Commit) (*treeEdit, error) {
		if !raced {
			raced = true
			if err := backend.CommitChange(ctx, "demo", 1,
				titleChange("carol", "interloper", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))); err != nil {
				return nil, err
			}
		}
		data, err := codec.EncodeJournal([]*domain.Change{
			titleChange("bob", "second", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)),
		})
		if err != nil {
			return nil, err
		}
		return &treeEdit{set: map[string][]byte{store.JournalPath(2): data}}, nil
	})
	require.NoError(t, err)
	assert.True(t, raced)

	for _, id := range []int64{1, 2} {
		journal, err := backend.GetJournal(ctx, "demo", id)
		require.NoError(t, err)
		assert.Len(t, journal, 1, "journal %d lost a change", id)
	}
}

func TestCommitContentionExhaustsRetries(t *testing.T) {
	backend, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, backend.CommitChange(ctx, "demo", 1,
		titleChange("alice", "first", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))))

	next := int64(10)
	err := backend.commitEdit(ctx, "demo", "bob", "#2", func(tip *object.Commit) (*treeEdit, error) {
		// Every attempt loses the race to another writer.
		id := next
		next++
		if err := backend.CommitChange(ctx, "demo", id,
			titleChange("carol", "interloper", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))); err != nil {
			return nil, err
		}
		return &treeEdit{set: map[string][]byte{store.JournalPath(2): nil}}, nil
	})
	require.Error(t, err)
	assert.True(t, util.IsConflict(err))
}

func TestDeleteTicketLeavesOthersIntact(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for id := int64(1); id <= 2; id++ {
		require.NoError(t, store.CommitChange(ctx, "demo", id,
			titleChange("alice", "bug", time.Date(2024, 1, int(id), 9, 0, 0, 0, time.UTC))))
	}
	require.NoError(t, store.DeleteTicket(ctx, "demo", 1, "alice"))

	assert.False(t, store.HasTicket(ctx, "demo", 1))
	assert.True(t, store.HasTicket(ctx, "demo", 2))
	ids, err := store.GetIds(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	err = store.DeleteTicket(ctx, "demo", 1, "alice")
	assert.True(t, util.IsNotFound(err))
}

func TestLegacyRefMigration(t *testing.T) {
	store, repos := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CommitChange(ctx, "demo", 1,
		titleChange("alice", "bug", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))))

	repo, err := repos.Open(ctx, "demo")
	require.NoError(t, err)
	ref, err := repo.Reference(TicketsRef, false)
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(LegacyTicketsRef, ref.Hash())))
	require.NoError(t, repo.Storer.RemoveReference(TicketsRef))

	journal, err := store.GetJournal(ctx, "demo", 1)
	require.NoError(t, err)
	assert.Len(t, journal, 1)

	_, err = repo.Reference(LegacyTicketsRef, false)
	assert.ErrorIs(t, err, plumbing.ErrReferenceNotFound)
	_, err = repo.Reference(TicketsRef, false)
	assert.NoError(t, err)
}

func TestAttachmentsStoredOutOfBand(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	change := titleChange("alice", "bug", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	change.Attachments = []domain.Attachment{{Name: "log.txt", Content: []byte("trace")}}
	require.NoError(t, store.CommitChange(ctx, "demo", 1, change))

	journal, err := store.GetJournal(ctx, "demo", 1)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	require.Len(t, journal[0].Attachments, 1)
	assert.Empty(t, journal[0].Attachments[0].Content)

	attachment, err := store.GetAttachment(ctx, "demo", 1, "log.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("trace"), attachment.Content)

	_, err = store.GetAttachment(ctx, "demo", 1, "missing.txt")
	assert.True(t, util.IsNotFound(err))
}

func TestDeleteAllRemovesRef(t *testing.T) {
	store, repos := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CommitChange(ctx, "demo", 1,
		titleChange("alice", "bug", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))))
	require.NoError(t, store.DeleteAll(ctx, "demo"))

	repo, err := repos.Open(ctx, "demo")
	require.NoError(t, err)
	_, err = repo.Reference(TicketsRef, false)
	assert.ErrorIs(t, err, plumbing.ErrReferenceNotFound)

	ids, err := store.GetIds(ctx, "demo")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestChangedTicketIDs(t *testing.T) {
	store, repos := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CommitChange(ctx, "demo", 1,
		titleChange("alice", "first", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))))
	repo, err := repos.Open(ctx, "demo")
	require.NoError(t, err)
	ref, err := repo.Reference(TicketsRef, false)
	require.NoError(t, err)
	oldRev := ref.Hash().String()

	require.NoError(t, store.CommitChange(ctx, "demo", 2,
		titleChange("bob", "second", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))))
	ref, err = repo.Reference(TicketsRef, false)
	require.NoError(t, err)
	newRev := ref.Hash().String()

	ids, err := store.ChangedTicketIDs(ctx, "demo", oldRev, newRev)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	all, err := store.ChangedTicketIDs(ctx, "demo", "", newRev)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, all)
}

func TestConfigRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	data, err := store.ReadConfig(ctx, "demo")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, store.WriteConfig(ctx, "demo", []byte(`{"labels":[]}`)))
	data, err = store.ReadConfig(ctx, "demo")
	require.NoError(t, err)
	assert.JSONEq(t, `{"labels":[]}`, string(data))
}
