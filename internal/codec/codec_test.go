package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitblit-org/ticketstore/internal/domain"
)

func sampleJournal() []*domain.Change {
	first := domain.NewChangeAt("alice", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	first.SetField(domain.FieldRepository, "demo")
	first.SetField(domain.FieldTitle, "a bug")
	first.Watch("alice")

	second := domain.NewChangeAt("bob", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	second.AddComment("confirmed")
	second.SetField(domain.FieldStatus, string(domain.StatusOpen))

	third := domain.NewChangeAt("alice", time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC))
	third.Patchset = &domain.Patchset{Rev: 1, Tip: "aaa", Commits: 2, Insertions: 10, Deletions: 3}
	third.ReviewPatchset(1, 2)

	return []*domain.Change{first, second, third}
}

func TestJournalRoundTrip(t *testing.T) {
	cases := map[string][]*domain.Change{
		"empty": nil,
		"one":   sampleJournal()[:1],
		"many":  sampleJournal(),
	}
	for name, journal := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeJournal(journal)
			require.NoError(t, err)
			decoded, err := DecodeJournal(data)
			require.NoError(t, err)
			if len(journal) == 0 {
				assert.Empty(t, decoded)
				return
			}
			assert.Equal(t, journal, decoded)
		})
	}
}

func TestDecodeEmptyInputIsEmptyJournal(t *testing.T) {
	for _, input := range [][]byte{nil, []byte(""), []byte("  \n")} {
		journal, err := DecodeJournal(input)
		require.NoError(t, err)
		assert.Empty(t, journal)
	}
}

func TestDecodeMalformedJournal(t *testing.T) {
	_, err := DecodeJournal([]byte("{not json"))
	assert.Error(t, err)
}

func TestAttachmentContentRedacted(t *testing.T) {
	change := domain.NewChangeAt("alice", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	change.Attachments = []domain.Attachment{
		{Name: "log.txt", Content: []byte("secret bytes")},
	}

	data, err := EncodeJournal([]*domain.Change{change})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	decoded, err := DecodeJournal(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Len(t, decoded[0].Attachments, 1)
	assert.Equal(t, "log.txt", decoded[0].Attachments[0].Name)
	assert.Equal(t, int64(len("secret bytes")), decoded[0].Attachments[0].Size)
	assert.Empty(t, decoded[0].Attachments[0].Content)

	// The caller's change is untouched.
	assert.Equal(t, []byte("secret bytes"), change.Attachments[0].Content)
}

func TestChangeRoundTrip(t *testing.T) {
	change := sampleJournal()[1]
	data, err := EncodeChange(change)
	require.NoError(t, err)
	decoded, err := DecodeChange(data)
	require.NoError(t, err)
	assert.Equal(t, change, decoded)
}

func TestTicketRoundTrip(t *testing.T) {
	ticket := domain.BuildTicket(sampleJournal())
	ticket.Repository = "demo"
	ticket.Number = 7

	data, err := EncodeTicket(ticket)
	require.NoError(t, err)
	decoded, err := DecodeTicket(data)
	require.NoError(t, err)
	assert.Equal(t, ticket.Title, decoded.Title)
	assert.Equal(t, ticket.ChangeID, decoded.ChangeID)
	assert.Equal(t, len(ticket.Changes), len(decoded.Changes))
}