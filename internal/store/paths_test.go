package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicketPathBuckets(t *testing.T) {
	cases := []struct {
		id   int64
		path string
	}{
		{0, "id/00/0"},
		{1, "id/01/1"},
		{9, "id/09/9"},
		{10, "id/10/10"},
		{99, "id/99/99"},
		{100, "id/00/100"},
		{12345, "id/45/12345"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.path, TicketPath(tc.id))
	}
}

func TestJournalAndAttachmentPaths(t *testing.T) {
	assert.Equal(t, "id/45/12345/journal.json", JournalPath(12345))
	assert.Equal(t, "id/01/1/attachments/log.txt", AttachmentPath(1, "log.txt"))
}

func TestTicketIDFromPath(t *testing.T) {
	assert.Equal(t, int64(12345), TicketIDFromPath("id/45/12345/journal.json"))
	assert.Equal(t, int64(7), TicketIDFromPath("id/07/7/attachments/log.txt"))
	assert.Equal(t, int64(-1), TicketIDFromPath("config.json"))
	assert.Equal(t, int64(-1), TicketIDFromPath("id/45"))
	assert.Equal(t, int64(-1), TicketIDFromPath("other/45/12345/journal.json"))
}
