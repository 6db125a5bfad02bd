package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildJoinsConditions(t *testing.T) {
	query := NewQueryBuilder().
		And("repository:demo").
		And("status:open").
		Or("status:new").
		Build()
	assert.Equal(t, "repository:demo AND status:open OR status:new", query)
}

func TestBuildStripsLeadingConjunction(t *testing.T) {
	assert.Equal(t, "status:open", NewQueryBuilder().And("status:open").Build())
	assert.Equal(t, "status:open", NewQueryBuilder().Or("status:open").Build())
	assert.Equal(t, "status:open", NewQueryBuilder().AndNot("status:open").Build())
}

func TestBuildIgnoresEmptyConditions(t *testing.T) {
	query := NewQueryBuilder().
		And("repository:demo").
		And("").
		Or("").
		Build()
	assert.Equal(t, "repository:demo", query)
}

func TestAndNot(t *testing.T) {
	query := NewQueryBuilder().
		And("repository:demo").
		AndNot("status:closed").
		Build()
	assert.Equal(t, "repository:demo AND NOT status:closed", query)
}

func TestSubqueries(t *testing.T) {
	query := NewQueryBuilder().
		And("repository:demo").
		AndSubquery().
		And("status:new").
		Or("status:open").
		End().
		Build()
	assert.Equal(t, "repository:demo AND (status:new OR status:open)", query)
}

func TestEmptySubqueryVanishes(t *testing.T) {
	query := NewQueryBuilder().
		And("repository:demo").
		AndSubquery().
		End().
		Build()
	assert.Equal(t, "repository:demo", query)
}

func TestOrSubquery(t *testing.T) {
	query := NewQueryBuilder().
		And("watchedby:alice").
		OrSubquery().
		And("createdby:alice").
		And("status:open").
		End().
		Build()
	assert.Equal(t, "watchedby:alice OR (createdby:alice AND status:open)", query)
}

func TestToSubquery(t *testing.T) {
	query := NewQueryBuilder().
		And("status:new").
		Or("status:open").
		ToSubquery().
		And("repository:demo").
		Build()
	assert.Equal(t, "(status:new OR status:open) AND repository:demo", query)
}

func TestRemoveStripsConditionAndConjunction(t *testing.T) {
	builder := NewQueryBuilder().
		And("repository:demo").
		And("status:open").
		AndNot("type:proposal")
	assert.Equal(t, "repository:demo AND NOT type:proposal", builder.Remove("status:open").Build())
	assert.Equal(t, "repository:demo", builder.Remove("type:proposal").Build())
	assert.Equal(t, "", builder.Remove("repository:demo").Build())
}

func TestEmptyBuilderBuildsEmptyString(t *testing.T) {
	assert.Equal(t, "", NewQueryBuilder().Build())
}

func TestMatches(t *testing.T) {
	cases := []struct {
		field, value, want string
	}{
		{"status", "open", "status:open"},
		{"milestone", "", "milestone:[* TO *]"},
		{"status", "!closed", "!status:closed"},
		{"title", "needs work", `title:"needs work"`},
		{"responsible", "james.moger", "responsible:james.moger"},
		{"title", `say "hi"`, `title:"say \"hi\""`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Matches(tc.field, tc.value))
	}
}
