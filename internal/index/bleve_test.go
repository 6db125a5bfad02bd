package index

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/observability"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenInMemory(zap.NewNop(), observability.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func buildTicket(repo string, number int64, journal ...*domain.Change) *domain.Ticket {
	ticket := domain.BuildTicket(journal)
	ticket.Repository = repo
	ticket.Number = number
	return ticket
}

func creation(author, title string, at time.Time, mutate ...func(*domain.Change)) *domain.Change {
	change := domain.NewChangeAt(author, at)
	change.SetField(domain.FieldTitle, title)
	for _, m := range mutate {
		m(change)
	}
	return change
}

// seedIndex loads a small fixture:
//
//	demo#1  alice  "a nasty bug"        Bug      New
//	demo#2  bob    "feature request"    Request  Fixed  milestone v1.0
//	demo#3  alice  "another bug report" Bug      New    comment by charlie
//	other#4 alice  "unrelated work"     Task     New
//	other#5 bob    "paused work"        Task     On Hold
func seedIndex(t *testing.T, ix *Index) {
	t.Helper()
	day := func(n int) time.Time {
		return time.Date(2024, 3, n, 12, 0, 0, 0, time.UTC)
	}

	tickets := []*domain.Ticket{
		buildTicket("demo", 1, creation("alice", "a nasty bug", day(1), func(c *domain.Change) {
			c.SetField(domain.FieldType, string(domain.TypeBug))
			c.SetField(domain.FieldBody, "it crashes on startup")
		})),
		buildTicket("demo", 2, creation("bob", "feature request", day(2), func(c *domain.Change) {
			c.SetField(domain.FieldType, string(domain.TypeRequest))
			c.SetField(domain.FieldMilestone, "v1.0")
			c.SetField(domain.FieldStatus, string(domain.StatusFixed))
		})),
		buildTicket("demo", 3,
			creation("alice", "another bug report", day(3), func(c *domain.Change) {
				c.SetField(domain.FieldType, string(domain.TypeBug))
			}),
			func() *domain.Change {
				c := domain.NewChangeAt("charlie", day(4))
				c.AddComment("reproduced on windows")
				return c
			}()),
		buildTicket("other", 4, creation("alice", "unrelated work", day(5), func(c *domain.Change) {
			c.SetField(domain.FieldType, string(domain.TypeTask))
		})),
		buildTicket("other", 5, creation("bob", "paused work", day(6), func(c *domain.Change) {
			c.SetField(domain.FieldType, string(domain.TypeTask))
			c.SetField(domain.FieldStatus, string(domain.StatusOnHold))
		})),
	}
	for _, ticket := range tickets {
		require.NoError(t, ix.Index(ticket))
	}
}

func numbers(results []*domain.QueryResult) []int64 {
	var out []int64
	for _, r := range results {
		out = append(out, r.Number)
	}
	return out
}

func TestQueryByRepository(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("repository:demo", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, numbers(results))
	for _, r := range results {
		assert.Equal(t, int64(3), r.TotalResults)
		assert.Equal(t, "demo", r.Repository)
	}
}

func TestQueryConjunction(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("repository:demo AND status:New", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, numbers(results))
}

func TestQueryDisjunction(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("status:Fixed OR milestone:v1.0", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, numbers(results))
}

func TestQueryAndNot(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("repository:demo AND NOT status:Fixed", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, numbers(results))
}

func TestQueryParentheses(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("repository:demo AND (status:Fixed OR type:Bug)", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, numbers(results))
}

func TestQueryNegatedClause(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("repository:demo AND !type:Bug", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, numbers(results))
}

func TestQueryPresenceRange(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("milestone:[* TO *]", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, numbers(results))
}

func TestQueryNumericField(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("number:2", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, numbers(results))

	results, err = ix.QueryFor("repository:demo AND comments:1", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, numbers(results))
}

func TestQueryQuotedValue(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor(`repository:other AND status:"On Hold"`, 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, numbers(results))
}

func TestQueryFreeText(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("nasty", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, numbers(results))

	// Comment text is searchable through the unstored content field.
	results, err = ix.QueryFor("windows", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, numbers(results))
}

func TestQueryEmptyStringMatchesAll(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestMalformedQueries(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	for _, input := range []string{
		"(status:New",
		`title:"unterminated`,
		"number:abc",
		"status:New AND",
	} {
		_, err := ix.QueryFor(input, 1, 0, "", false)
		assert.Error(t, err, "query %q", input)
	}
}

func TestSearchForIsScopedToRepository(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.SearchFor("demo", "bug", 1, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, numbers(results))

	results, err = ix.SearchFor("demo", "unrelated", 1, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPaging(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	first, err := ix.QueryFor("repository:demo", 1, 2, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, numbers(first))
	assert.Equal(t, int64(3), first[0].TotalResults)

	second, err := ix.QueryFor("repository:demo", 2, 2, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, numbers(second))
}

func TestSortDescending(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("repository:demo", 1, 0, FieldCreated, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, numbers(results))
}

func TestIndexReplacesDocument(t *testing.T) {
	ix := newTestIndex(t)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ix.Index(buildTicket("demo", 1, creation("alice", "old title", at))))
	require.NoError(t, ix.Index(buildTicket("demo", 1, creation("alice", "new title", at))))

	results, err := ix.QueryFor("repository:demo", 1, 0, "", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new title", results[0].Title)
}

func TestDelete(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	require.NoError(t, ix.Delete("demo", 1))
	results, err := ix.QueryFor("repository:demo", 1, 0, FieldNumber, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, numbers(results))
}

func TestDeleteRepository(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	require.NoError(t, ix.DeleteRepository("other"))

	results, err := ix.QueryFor("repository:other", 1, 0, "", false)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = ix.QueryFor("repository:demo", 1, 0, "", false)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestClear(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	require.NoError(t, ix.Clear())
	results, err := ix.QueryFor("", 1, 0, "", false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestResultProjection(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	results, err := ix.QueryFor("number:2", 1, 0, "", false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "demo", r.Repository)
	assert.Equal(t, "feature request", r.Title)
	assert.Equal(t, "bob", r.CreatedBy)
	assert.Equal(t, domain.TypeRequest, r.Type)
	assert.Equal(t, domain.StatusFixed, r.Status)
	assert.Equal(t, "v1.0", r.Milestone)
	assert.False(t, r.CreatedAt.IsZero())
	assert.NotEmpty(t, r.ChangeID)
}
