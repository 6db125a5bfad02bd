package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChangeAtTruncatesToMillis(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	change := NewChangeAt("alice", at)

	assert.Equal(t, at.Truncate(time.Millisecond), change.CreatedAt)
	assert.Len(t, change.ID, 40)

	again := NewChangeAt("alice", at)
	assert.Equal(t, change.ID, again.ID)

	other := NewChangeAt("bob", at)
	assert.NotEqual(t, change.ID, other.ID)
}

func TestChangeFields(t *testing.T) {
	change := NewChange("alice")
	change.SetField(FieldTitle, "a bug")

	assert.True(t, change.HasField(FieldTitle))
	assert.Equal(t, "a bug", change.GetField(FieldTitle))
	assert.False(t, change.HasField(FieldStatus))

	change.RemoveField(FieldTitle)
	assert.False(t, change.HasField(FieldTitle))
}

func TestIsMergeNeedsStatusAndSha(t *testing.T) {
	change := NewChange("alice")
	change.SetField(FieldStatus, string(StatusMerged))
	assert.False(t, change.IsMerge())

	change.SetField(FieldMergeSha, "abc123")
	assert.True(t, change.IsMerge())
}

func TestAddCommentDerivesStableID(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	change := NewChangeAt("alice", at)
	comment := change.AddComment("looks good")

	require.NotNil(t, comment)
	assert.Len(t, comment.ID, 40)
	assert.True(t, change.HasComment())

	same := NewChangeAt("alice", at)
	same.AddComment("looks good")
	assert.Equal(t, comment.ID, same.Comment.ID)
}

func TestDeletedCommentIsNotLive(t *testing.T) {
	change := NewChange("alice")
	change.AddComment("oops")
	change.Comment.Deleted = true
	assert.False(t, change.HasComment())
}

func TestListFieldFolding(t *testing.T) {
	first := NewChangeAt("alice", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	first.Label("bug", "urgent").Watch("alice")

	second := NewChangeAt("bob", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	second.Unlabel("urgent").Label("confirmed").Watch("bob")

	changes := []*Change{first, second}
	assert.Equal(t, []string{"bug", "confirmed"}, foldList(changes, FieldLabels))
	assert.Equal(t, []string{"alice", "bob"}, foldList(changes, FieldWatchers))
}

func TestListFieldRemoveBeforeAdd(t *testing.T) {
	change := NewChange("alice")
	change.Unwatch("ghost")
	assert.Empty(t, foldList([]*Change{change}, FieldWatchers))
}

func TestModListAccumulatesInOneChange(t *testing.T) {
	change := NewChange("alice")
	change.Vote("alice").Vote("bob").Unvote("alice")
	assert.Equal(t, []string{"bob"}, foldList([]*Change{change}, FieldVoters))
}
